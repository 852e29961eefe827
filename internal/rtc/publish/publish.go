// Package publish implements PublishStream, the ingest side of a
// connection: inbound RTP/RTCP demux, NACK/PLI/TWCC accounting, and
// the periodic RTCP "hourglass" tick.
package publish

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/rtc/blackhole"
	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
	"github.com/rillnet-labs/rtcedge/internal/rtc/ntp"
	"github.com/rillnet-labs/rtcedge/internal/rtc/rtpkt"
	"github.com/rillnet-labs/rtcedge/internal/rtc/security"
	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// Config holds the per-vhost publish-side RTC knobs (NACK/TWCC toggles,
// loss simulation, periodic tick period).
type Config struct {
	NACKEnabled    bool
	TWCCEnabled    bool
	TWCCExtID      uint8
	DropForPT      map[uint8]bool // rtc_drop_for_pt: simulate loss for test/debug
	PeriodicPeriod time.Duration  // the 200ms hourglass tick
}

// Stream is PublishStream: owns RecvTrack state per SSRC, a
// SecurityTransport for unprotect, and the Connection it sends
// feedback through.
type Stream struct {
	log    *zap.SugaredLogger
	cfg    Config
	cn     *conn.Connection
	transport *security.Transport
	blackhole blackhole.Sink
	source    bus.Source // where unprotected RTP is forwarded; nil until AttachSource

	mu     sync.Mutex
	tracks map[uint32]*track.RecvTrack // keyed by SSRC

	twccMu      sync.Mutex
	twccSeqs    []twccEntry
	twccCount   uint8
	lastTWCCAt  time.Time

	nackMu    sync.Mutex
	nackDrops map[uint32]int // simulated drop budget per SSRC, test hook only

	started bool
}

type twccEntry struct {
	seq      uint16
	arrival  time.Time
}

func New(log *zap.SugaredLogger, cn *conn.Connection, transport *security.Transport, cfg Config) *Stream {
	if cfg.PeriodicPeriod == 0 {
		cfg.PeriodicPeriod = 200 * time.Millisecond
	}
	return &Stream{
		log:       log,
		cfg:       cfg,
		cn:        cn,
		transport: transport,
		blackhole: blackhole.Noop{},
		tracks:    make(map[uint32]*track.RecvTrack),
		nackDrops: make(map[uint32]int),
	}
}

func (s *Stream) AddTrack(t *track.RecvTrack) {
	s.mu.Lock()
	s.tracks[t.Desc.SSRC] = t
	s.mu.Unlock()
}

// AttachSource points this Stream at the media bus.Source its decoded
// RTP should be published to, so any PlayStream subscribed to the
// same stream id receives it.
func (s *Stream) AttachSource(src bus.Source) {
	s.mu.Lock()
	s.source = src
	s.mu.Unlock()
}

// twccPeriod is the TWCC feedback cadence (§4.2): independent of, and
// shorter than, the 200ms RR/XR/PLI hourglass tick, so congestion
// control gets timely enough feedback to react within a round trip.
const twccPeriod = 50 * time.Millisecond

// Start kicks off the 200ms periodic RTCP ticker and the separate
// 50ms TWCC feedback ticker, each as its own goroutine.
func (s *Stream) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.cfg.PeriodicPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.SendPeriodic(); err != nil {
				s.log.Warnw("periodic rtcp send failed", "error", err)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(twccPeriod)
		defer ticker.Stop()
		for range ticker.C {
			if err := s.maybeSendTWCC(); err != nil {
				s.log.Warnw("periodic twcc send failed", "error", err)
			}
		}
	}()
}

// OnRTP implements the ingest path: parse header (cleartext, before
// decrypt), pre-extract TWCC sequence if present so congestion-control
// accounting happens even for packets whose payload later fails to
// unprotect, apply simulated/per-PT drops, unprotect, account for
// loss/jitter, then hand the decoded packet to the media bus.
func (s *Stream) OnRTP(buf []byte) error {
	s.cn.Stat.IncrRTPIn()
	s.blackhole.SendTo(buf)

	h, err := rtpkt.ParseHeader(buf)
	if err != nil {
		return err
	}

	if s.cfg.TWCCEnabled {
		if seq, ok := rtpkt.TWCCSequence(h, s.cfg.TWCCExtID); ok {
			s.recordTWCC(seq)
		}
	}

	s.mu.Lock()
	rt, ok := s.tracks[h.SSRC]
	s.mu.Unlock()
	if !ok {
		return apperrors.NewRtpError(fmt.Sprintf("unknown ssrc=%d", h.SSRC))
	}

	if s.cfg.DropForPT[h.PayloadType] || s.consumeSimulatedDrop(h.SSRC) {
		return nil // never observed: the gap this leaves behind is what CheckSendNacks reports
	}

	plain, err := s.transport.UnprotectRTP(make([]byte, 0, len(buf)), buf, h)
	if err != nil {
		return err
	}
	rt.Observe(h, time.Now())
	s.cn.NotifyRTPPacket(h)

	s.mu.Lock()
	src := s.source
	s.mu.Unlock()
	if src != nil {
		src.Publish(bus.Packet{TrackID: rt.Desc.ID, Data: plain})
	}
	return nil
}

func (s *Stream) consumeSimulatedDrop(ssrc uint32) bool {
	s.nackMu.Lock()
	defer s.nackMu.Unlock()
	if s.nackDrops[ssrc] <= 0 {
		return false
	}
	s.nackDrops[ssrc]--
	return true
}

// OnRTCP dispatches an inbound RTCP compound packet: SR updates the
// matching RecvTrack's clock correlation, XR-DLRR feeds its RTT
// estimate, and every other packet type (NACK and PLI included) is
// ignored here -- PublishStream doesn't retransmit; that's the play
// side's job against its own SendTrack cache.
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
		case *rtcp.SenderReport:
			s.cn.Stat.IncrSRRecv()
			s.mu.Lock()
			rt, ok := s.tracks[pkt.SSRC]
			s.mu.Unlock()
			if ok {
				rt.OnSenderReport(uint32(pkt.NTPTime>>32), uint32(pkt.NTPTime), time.Now())
			}
		case *rtcp.ExtendedReport:
			s.cn.Stat.IncrXRRecv()
			s.handleXR(pkt)
		}
	}
	return nil
}

func (s *Stream) handleXR(xr *rtcp.ExtendedReport) {
	for _, block := range xr.Reports {
		dlrr, ok := block.(*rtcp.DLRRReportBlock)
		if !ok {
			continue
		}
		for _, report := range dlrr.Reports {
			s.mu.Lock()
			rt, found := s.tracks[report.SSRC]
			s.mu.Unlock()
			if !found {
				continue
			}
			now := ntp.ToCompact(time.Now())
			rtt := ntp.RTTFromDLRR(now, report.LastRR, report.DLRR)
			rt.SetRTT(rtt)
		}
	}
}

func (s *Stream) recordTWCC(seq uint16) {
	s.twccMu.Lock()
	defer s.twccMu.Unlock()
	s.twccSeqs = append(s.twccSeqs, twccEntry{seq: seq, arrival: time.Now()})
	s.cn.Stat.IncrTWCCRecv()
}

// SendPeriodic fires the 200ms hourglass tick: RR + XR-RRTR and, if a
// keyframe was requested, a PLI for every receive track. TWCC feedback
// runs on its own faster ticker (see twccPeriod) so it isn't gated
// behind this tick.
func (s *Stream) SendPeriodic() error {
	s.mu.Lock()
	tracks := make([]*track.RecvTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.mu.Unlock()

	for _, rt := range tracks {
		if err := s.sendRR(rt); err != nil {
			return err
		}
		if err := s.sendXRRRTR(rt); err != nil {
			return err
		}
		if rt.ClearKeyframeRequest() {
			if err := s.sendPLI(rt); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Stream) sendRR(rt *track.RecvTrack) error {
	recv, lost, jitter, extSeq := rt.Stats()
	_ = recv
	report := rtcp.ReceptionReport{
		SSRC:               rt.Desc.SSRC,
		TotalLost:          uint32(lost),
		LastSequenceNumber: extSeq,
		Jitter:             uint32(jitter),
	}
	rr := rtpkt.BuildRR(rt.Desc.SSRC, []rtcp.ReceptionReport{report})
	buf, err := rtpkt.Marshal(rr)
	if err != nil {
		return apperrors.WrapRtcpError(err, "marshal rr")
	}
	s.cn.Stat.IncrRRSent()
	return s.cn.DoSendPackets(buf, true)
}

func (s *Stream) sendXRRRTR(rt *track.RecvTrack) error {
	xr := rtpkt.BuildXRRRTR(rt.Desc.SSRC, uint64(ntp.ToCompact(time.Now()))<<16)
	buf, err := rtpkt.Marshal(xr)
	if err != nil {
		return apperrors.WrapRtcpError(err, "marshal xr rrtr")
	}
	s.cn.Stat.IncrXRSent()
	return s.cn.DoSendPackets(buf, true)
}

func (s *Stream) sendPLI(rt *track.RecvTrack) error {
	pli := rtpkt.BuildPLI(rt.Desc.SSRC, rt.Desc.SSRC)
	buf, err := rtpkt.Marshal(pli)
	if err != nil {
		return apperrors.WrapRtcpError(err, "marshal pli")
	}
	s.cn.Stat.IncrPLISent()
	return s.cn.DoSendPackets(buf, true)
}

func (s *Stream) maybeSendTWCC() error {
	s.twccMu.Lock()
	if len(s.twccSeqs) == 0 || time.Since(s.lastTWCCAt) < twccPeriod {
		s.twccMu.Unlock()
		return nil
	}
	seqs := s.twccSeqs
	s.twccSeqs = nil
	count := s.twccCount
	s.twccCount++
	s.lastTWCCAt = time.Now()
	s.twccMu.Unlock()

	pkt := &rtcp.TransportLayerCC{
		FbPktCount: count,
	}
	first := seqs[0].seq
	pkt.BaseSequenceNumber = first
	pkt.PacketStatusCount = uint16(len(seqs))
	for _, e := range seqs {
		pkt.RecvDeltas = append(pkt.RecvDeltas, &rtcp.RecvDelta{
			Type:  rtcp.TypeTCCPacketReceivedSmallDelta,
			Delta: e.arrival.UnixNano() / int64(250*time.Microsecond),
		})
	}

	buf, err := rtpkt.Marshal(pkt)
	if err != nil {
		return apperrors.WrapRtcpError(err, "marshal twcc")
	}
	s.cn.Stat.IncrTWCCSent()
	return s.cn.DoSendPackets(buf, true)
}

// CheckSendNacks asks every receive track for sequence numbers it has
// observed missing since the last cycle and, if any are pending, sends
// one Generic NACK (PID+BLP per RFC 4585 §6.2.1) per track.
func (s *Stream) CheckSendNacks() error {
	if !s.cfg.NACKEnabled {
		return nil
	}

	s.mu.Lock()
	tracks := make([]*track.RecvTrack, 0, len(s.tracks))
	for _, t := range s.tracks {
		tracks = append(tracks, t)
	}
	s.mu.Unlock()

	for _, rt := range tracks {
		lost := rt.DrainPendingNacks()
		if len(lost) == 0 {
			continue
		}
		nack := rtpkt.BuildNACK(rt.Desc.SSRC, rt.Desc.SSRC, lost)
		buf, err := rtpkt.Marshal(nack)
		if err != nil {
			return apperrors.WrapRtcpError(err, "marshal nack")
		}
		s.cn.Stat.IncrNACKSent()
		if err := s.cn.DoSendPackets(buf, true); err != nil {
			return err
		}
	}
	return nil
}

// RequestKeyframe flags the receive track for SSRC to get a PLI on
// the next periodic tick.
func (s *Stream) RequestKeyframe(ssrc uint32) {
	s.mu.Lock()
	rt, ok := s.tracks[ssrc]
	s.mu.Unlock()
	if ok {
		rt.RequestKeyframe()
	}
}

// SimulateNackDrop configures the next n packets for ssrc to be
// dropped before unprotect, a test-only hook for exercising the NACK
// retransmission path deterministically.
func (s *Stream) SimulateNackDrop(ssrc uint32, n int) {
	s.nackMu.Lock()
	s.nackDrops[ssrc] = n
	s.nackMu.Unlock()
}
