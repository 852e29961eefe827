// Package play implements PlayStream, the egress side of a
// connection: it drains packets queued on the media bus for the
// tracks a player has subscribed to, rewrites them onto each send
// track's play-side SSRC (sequence numbers and timestamps pass through
// unchanged), answers NACK retransmission requests, and relays PLI from
// the player back toward the publisher; TWCC and RR feedback from the
// player are counted only.
package play

import (
	"context"
	"sync"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
	"github.com/rillnet-labs/rtcedge/internal/rtc/gcc"
	"github.com/rillnet-labs/rtcedge/internal/rtc/rtpkt"
	"github.com/rillnet-labs/rtcedge/internal/rtc/security"
	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// Config holds the play-side RTC knobs (merge-write batch size,
// realtime/TWCC/GCC toggles).
type Config struct {
	MwMsgs   int // merge-write batch size the egress wait() gate uses
	Realtime bool

	TWCCEnabled bool
	TWCCExtID   uint8 // RFC 8285 one-byte extension id this connection negotiated for transport-cc

	// GCCEnabled additionally registers every outbound TWCC-stamped
	// packet in a pre-send table so a later TransportLayerCC feedback
	// report can be matched back to it; without it TWCC sequences are
	// still assigned and written, just not tracked for bandwidth
	// estimation.
	GCCEnabled bool
}

// TrackConfig is one entry of SetTrackActive: which track (or merge
// group) should currently be live.
type TrackConfig struct {
	TrackID    string
	MergeGroup string
	Active     bool
}

// Stream is PlayStream.
type Stream struct {
	log       *zap.SugaredLogger
	cfg       Config
	cn        *conn.Connection
	transport *security.Transport
	consumer  bus.Consumer

	// keyframeReq relays a PLI this player sends back to the publisher
	// whose SSRC actually feeds the requested track (see OnRTCP's
	// PictureLossIndication case); nil when this player's stream has no
	// live publisher to ask (should not normally happen, since Play
	// requires an already-publishing source).
	keyframeReq bus.KeyframeRequester

	sendTracks map[string]*track.SendTrack // keyed by track id

	twcc *gcc.PreSendTable

	switchCtx *StreamSwitchContext

	cancel context.CancelFunc
	done   chan struct{}

	mu sync.Mutex
}

func New(log *zap.SugaredLogger, cn *conn.Connection, transport *security.Transport, consumer bus.Consumer, keyframeReq bus.KeyframeRequester, cfg Config) *Stream {
	if cfg.MwMsgs == 0 {
		cfg.MwMsgs = 1
	}
	return &Stream{
		log:         log,
		cfg:         cfg,
		cn:          cn,
		transport:   transport,
		consumer:    consumer,
		keyframeReq: keyframeReq,
		sendTracks:  make(map[string]*track.SendTrack),
		twcc:        gcc.NewPreSendTable(),
		switchCtx:   NewStreamSwitchContext(),
		done:        make(chan struct{}),
	}
}

func (s *Stream) AddSendTrack(t *track.SendTrack) {
	s.mu.Lock()
	s.sendTracks[t.Desc.ID] = t
	s.mu.Unlock()
}

// Start launches the egress loop: wait for mw_msgs packets, dump them,
// encode+protect+send each, repeat until Stop. Before the loop starts,
// any video send-track already marked "preparing" by SetTrackActive
// gets an immediate upstream PLI, so its switch doesn't sit waiting on
// whatever keyframe interval the publisher happens to be using.
func (s *Stream) Start() {
	s.requestKeyframesForPreparingTracks()

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *Stream) requestKeyframesForPreparingTracks() {
	if s.keyframeReq == nil {
		return
	}
	s.mu.Lock()
	var targets []*track.SendTrack
	for _, t := range s.sendTracks {
		if t.Desc.Kind == track.KindVideo && s.switchCtx.IsTrackPreparing(t.Desc.ID) {
			targets = append(targets, t)
		}
	}
	s.mu.Unlock()
	for _, t := range targets {
		s.keyframeReq.RequestKeyframe(t.PublishSSRC)
	}
}

func (s *Stream) run(ctx context.Context) {
	defer close(s.done)
	for {
		if err := s.consumer.Wait(ctx, s.cfg.MwMsgs); err != nil {
			return
		}
		for _, pkt := range s.consumer.DumpPackets() {
			if err := s.sendOne(pkt); err != nil {
				s.log.Warnw("play send failed", "error", err, "track", pkt.TrackID)
			}
		}
	}
}

func (s *Stream) sendOne(pkt bus.Packet) error {
	s.mu.Lock()
	st, ok := s.sendTracks[pkt.TrackID]
	s.mu.Unlock()
	if !ok {
		return nil // track not (yet) subscribed to by this player
	}

	h, err := rtpkt.ParseHeader(pkt.Data)
	if err != nil {
		return err
	}

	if !s.switchCtx.Allows(pkt.TrackID, h) {
		return nil
	}

	data := pkt.Data
	if h.SSRC != st.Desc.SSRC {
		p := &rtp.Packet{}
		if err := p.Unmarshal(data); err != nil {
			return apperrors.WrapRtpError(err, "parse rtp for ssrc rewrite")
		}
		p.SSRC = st.Desc.SSRC
		if data, err = p.Marshal(); err != nil {
			return apperrors.WrapRtpError(err, "marshal rtp after ssrc rewrite")
		}
	}

	data, err = s.assignTWCC(data, st.Desc.SSRC)
	if err != nil {
		return err
	}

	st.Cache(h.SequenceNumber, data)
	return s.cn.DoSendPackets(data, false)
}

// assignTWCC allocates a fresh outbound transport-wide sequence number
// and writes it into data's RFC 8285 extension before the packet is
// encoded/protected and sent (§4.6): every egress send -- first send
// or NACK retransmit alike -- gets its own sequence number, since each
// is a distinct event the far end's feedback report addresses
// separately. When GCC is enabled the assignment is also registered in
// the pre-send table (ssrc, seq, size) so a later TransportLayerCC
// report can resolve it back to this send.
func (s *Stream) assignTWCC(data []byte, ssrc uint32) ([]byte, error) {
	if !s.cfg.TWCCEnabled {
		return data, nil
	}
	seq := s.twcc.NextSeq()
	out, err := rtpkt.SetTWCCSequence(data, s.cfg.TWCCExtID, seq)
	if err != nil {
		return nil, err
	}
	if s.cfg.GCCEnabled {
		s.twcc.Register(seq, ssrc, len(out))
	}
	return out, nil
}

// Stop cancels the egress loop and blocks until it has exited, so
// Connection.Close can safely tear the transport down immediately
// after this returns.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	s.consumer.Close()
}

// OnRTCP handles feedback arriving from the player: NACK triggers a
// retransmission from the matching SendTrack's cache, PLI is relayed
// to the publisher feeding the matching track's PublishSSRC via
// keyframeReq, TWCC and RR update statistics only.
func (s *Stream) OnRTCP(buf []byte) error {
	plain, err := s.transport.UnprotectRTCP(make([]byte, 0, len(buf)), buf)
	if err != nil {
		return err
	}
	pkts, err := rtpkt.ParseCompound(plain)
	if err != nil {
		return apperrors.WrapRtcpError(err, "parse inbound rtcp")
	}

	for _, p := range pkts {
		switch pkt := p.(type) {
		case *rtcp.TransportLayerNack:
			s.cn.Stat.IncrNACKRecv()
			s.handleNack(pkt)
		case *rtcp.ReceiverReport:
			s.cn.Stat.IncrRRRecv()
		case *rtcp.PictureLossIndication:
			s.cn.Stat.IncrPLIRecv()
			s.handlePLI(pkt)
		case *rtcp.TransportLayerCC:
			s.cn.Stat.IncrTWCCRecv()
		}
	}
	return nil
}

// handlePLI locates the SendTrack whose Desc.SSRC (the play-side SSRC
// the player addressed its feedback to) matches pli.MediaSSRC, and
// forwards a keyframe request to the publisher feeding it, since the
// player has no way to reach the publisher directly.
func (s *Stream) handlePLI(pli *rtcp.PictureLossIndication) {
	if s.keyframeReq == nil {
		return
	}
	s.mu.Lock()
	var target *track.SendTrack
	for _, t := range s.sendTracks {
		if t.Desc.SSRC == pli.MediaSSRC {
			target = t
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	s.keyframeReq.RequestKeyframe(target.PublishSSRC)
}

func (s *Stream) handleNack(n *rtcp.TransportLayerNack) {
	s.mu.Lock()
	var target *track.SendTrack
	for _, t := range s.sendTracks {
		if t.Desc.SSRC == n.MediaSSRC {
			target = t
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		return
	}
	for _, seq := range rtpkt.NackLostSequences(n) {
		data, ok := target.Fetch(seq)
		if !ok {
			continue
		}
		data, err := s.assignTWCC(data, n.MediaSSRC)
		if err != nil {
			s.log.Warnw("nack retransmit twcc assign failed", "error", err, "seq", seq)
			continue
		}
		if err := s.cn.DoSendPackets(data, false); err != nil {
			s.log.Warnw("nack retransmit failed", "error", err, "seq", seq)
		}
	}
}

// NackFetch answers a retransmission request directly, bypassing
// OnRTCP's dispatch -- used by tests exercising the NACK path without
// round-tripping a raw RTCP buffer.
func (s *Stream) NackFetch(trackID string, seq uint16) (*rtp.Packet, bool) {
	s.mu.Lock()
	st, ok := s.sendTracks[trackID]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	data, found := st.Fetch(seq)
	if !found {
		return nil, false
	}
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(data); err != nil {
		return nil, false
	}
	return pkt, true
}

// SetTrackActive updates which tracks/merge-groups are currently live
// for this player.
func (s *Stream) SetTrackActive(cfgs []TrackConfig) {
	for _, c := range cfgs {
		s.switchCtx.SetDesired(c.MergeGroup, c.TrackID, c.Active)
	}
}
