package conn

import "github.com/pion/rtp"

// Hijacker is an optional set of lifecycle hooks a Server can inject
// into every Connection it creates, for diagnostics or policy that
// doesn't belong in the core state machine itself. Every call site is
// nil-checked so a Connection with no Hijacker configured behaves
// exactly as if the hooks didn't exist.
type Hijacker interface {
	OnStartPublish(streamID string)
	OnStartPlay(streamID string)
	OnStartConsume(streamID string)
	OnRTPPacket(streamID string, h *rtp.Header)
	OnClose(connID string, stat *Stat)
}
