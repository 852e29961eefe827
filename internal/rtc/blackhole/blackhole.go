// Package blackhole is an optional diagnostic tap: every wire-level
// send/receive point in the connection, publish and play packages
// forwards a copy of the raw datagram to the configured Sink, if any,
// mirroring the original server's blackhole forwarding of STUN/DTLS/
// RTP/RTCP traffic to an external capture target (e.g. tcpdump-over-
// UDP for later pcap inspection). Disabled by default.
package blackhole

// Sink receives a copy of a raw wire-level datagram. Implementations
// must not block the caller for long -- this is a diagnostic tap, not
// a reliable delivery path.
type Sink interface {
	SendTo(buf []byte)
}

// Noop is the default Sink: it drops everything.
type Noop struct{}

func (Noop) SendTo([]byte) {}

var _ Sink = Noop{}
