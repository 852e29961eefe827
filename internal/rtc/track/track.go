// Package track holds the negotiated track description and the
// per-direction send/receive state the publish and play packages
// operate on.
package track

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

// Kind is the media kind of a track, audio or video.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindAudio {
		return "audio"
	}
	return "video"
}

// CodecPayload is a single negotiated RTP payload type with its codec
// name and fmtp line, e.g. H264/packetization-mode=1 or opus.
type CodecPayload struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
	Fmtp        string
	RTCPFeedback []string // "nack", "nack pli", "transport-cc"
}

// AuxPayload is a secondary payload type carried alongside the main
// codec: red, rtx, ulpfec, rsfec. Keeping these as a flat table rather
// than a subclass per kind avoids a class hierarchy for what is really
// just "payload type + a couple of extra fields".
type AuxPayload struct {
	Kind        string // "red", "rtx", "ulpfec", "rsfec", "flexfec"
	PayloadType uint8
	AptPayload  uint8 // apt= reference for rtx
}

// TrackDescription is the negotiated shape of one media track: its
// SSRC(s), codec, and auxiliary payload types. It is produced by the
// negotiator and consumed by SendTrack/RecvTrack construction.
type TrackDescription struct {
	ID        string
	Kind      Kind
	MsID      string
	SSRC      uint32
	RtxSSRC   uint32
	FecSSRC   uint32
	Codec     CodecPayload
	Aux       []AuxPayload
	StreamID  string
}

const nackCacheCapacity = 1024

// cachedPacket is one ring-buffer slot: a raw RTP packet kept around
// long enough to answer a NACK for it.
type cachedPacket struct {
	seq   uint16
	valid bool
	data  []byte
}

// SendTrack is the outbound side of a track: it remembers recently
// sent packets so retransmission requests (NACK) can be answered.
type SendTrack struct {
	mu   sync.Mutex
	Desc TrackDescription

	// PublishSSRC is the SSRC this track's packets actually arrive on
	// from the publisher, before FetchSourceCapability reassigns Desc.SSRC
	// for the play-side answer. A PLI arriving from the player names
	// Desc.SSRC; the publisher only recognizes PublishSSRC.
	PublishSSRC uint32

	nextSeq uint16
	ring    [nackCacheCapacity]cachedPacket
}

func NewSendTrack(desc TrackDescription) *SendTrack {
	return &SendTrack{Desc: desc}
}

// Cache records a packet just handed to the socket so it can be
// replayed later. Eviction is silent: an old entry at the same ring
// slot is simply overwritten, matching the fixed-capacity ring buffer
// the original NACK cache uses.
func (t *SendTrack) Cache(seq uint16, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := &t.ring[int(seq)%nackCacheCapacity]
	slot.seq = seq
	slot.valid = true
	slot.data = append(slot.data[:0], data...)
}

// Fetch returns a cached packet for seq, if still present in the ring.
func (t *SendTrack) Fetch(seq uint16) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	slot := &t.ring[int(seq)%nackCacheCapacity]
	if !slot.valid || slot.seq != seq {
		return nil, false
	}
	out := make([]byte, len(slot.data))
	copy(out, slot.data)
	return out, true
}

const maxPendingNacks = 128

// RecvTrack is the inbound side of a track: loss/jitter accounting and
// the RTT estimate fed by XR-DLRR, used to build outgoing RR/XR-RRTR
// and to decide when to ask for a keyframe.
type RecvTrack struct {
	mu sync.Mutex
	Desc TrackDescription

	highestSeq   uint16
	haveFirst    bool
	seqCycles    uint32
	packetsRecv  uint64
	packetsLost  uint64
	jitter       float64
	lastArrival  time.Time
	lastRTPTime  uint32

	pendingNacks []uint16 // sequence numbers observed missing, not yet NACKed or recovered

	lastSRNTP  uint64
	lastSRTime time.Time
	rttMillis  int64

	needsKeyframe bool
}

func NewRecvTrack(desc TrackDescription) *RecvTrack {
	return &RecvTrack{Desc: desc}
}

// Observe updates loss/jitter bookkeeping for an inbound RTP packet,
// following RFC 3550 §A.8's incremental jitter formula. It is called
// once a packet has been unprotected; a packet dropped before that
// (loss simulation, drop-for-PT, a corrupt SRTP auth tag) is never
// observed, so the gap it leaves behind is NACKed like any other loss.
func (t *RecvTrack) Observe(h *rtp.Header, arrival time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.packetsRecv++
	if !t.lastArrival.IsZero() {
		arrivalDiff := arrival.Sub(t.lastArrival).Seconds() * float64(t.Desc.Codec.ClockRate)
		rtpDiff := float64(int32(h.Timestamp - t.lastRTPTime))
		d := arrivalDiff - rtpDiff
		if d < 0 {
			d = -d
		}
		t.jitter += (d - t.jitter) / 16
	}
	t.lastArrival = arrival
	t.lastRTPTime = h.Timestamp

	if !t.haveFirst {
		t.haveFirst = true
		t.highestSeq = h.SequenceNumber
		return
	}

	diff := int16(h.SequenceNumber - t.highestSeq)
	switch {
	case diff > 0:
		for missing := t.highestSeq + 1; missing != h.SequenceNumber; missing++ {
			t.packetsLost++
			t.addPendingNackLocked(missing)
		}
		if h.SequenceNumber < t.highestSeq {
			t.seqCycles++
		}
		t.highestSeq = h.SequenceNumber
	case diff < 0:
		t.removePendingNackLocked(h.SequenceNumber)
	}
}

func (t *RecvTrack) addPendingNackLocked(seq uint16) {
	if len(t.pendingNacks) >= maxPendingNacks {
		t.pendingNacks = t.pendingNacks[1:]
	}
	t.pendingNacks = append(t.pendingNacks, seq)
}

func (t *RecvTrack) removePendingNackLocked(seq uint16) {
	for i, s := range t.pendingNacks {
		if s == seq {
			t.pendingNacks = append(t.pendingNacks[:i], t.pendingNacks[i+1:]...)
			return
		}
	}
}

// DrainPendingNacks returns every sequence number currently believed
// missing and clears the list, so the next periodic NACK cycle only
// asks for gaps that opened up since the last one.
func (t *RecvTrack) DrainPendingNacks() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingNacks) == 0 {
		return nil
	}
	out := t.pendingNacks
	t.pendingNacks = nil
	return out
}

// OnSenderReport records the NTP timestamp carried in an inbound SR and
// its arrival time. The receiver reports sendRR builds carry no LSR/DLSR
// fields, so these values are stored only and feed no RTT estimate.
func (t *RecvTrack) OnSenderReport(ntpMostSig, ntpLeastSig uint32, recvTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSRNTP = uint64(ntpMostSig)<<32 | uint64(ntpLeastSig)
	t.lastSRTime = recvTime
}

func (t *RecvTrack) SetRTT(ms int64) {
	t.mu.Lock()
	t.rttMillis = ms
	t.mu.Unlock()
}

func (t *RecvTrack) RTT() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rttMillis
}

func (t *RecvTrack) Stats() (recv, lost uint64, jitter float64, extHighestSeq uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.packetsRecv, t.packetsLost, t.jitter, uint32(t.seqCycles)<<16 | uint32(t.highestSeq)
}

// RequestKeyframe flags that the next PLI send should fire; cleared by
// ClearKeyframeRequest once a PLI has actually gone out this cycle.
func (t *RecvTrack) RequestKeyframe() {
	t.mu.Lock()
	t.needsKeyframe = true
	t.mu.Unlock()
}

func (t *RecvTrack) ClearKeyframeRequest() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.needsKeyframe
	t.needsKeyframe = false
	return v
}
