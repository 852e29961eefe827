// Package conn implements Connection, the per-peer state machine that
// owns a SecurityTransport, a PublishStream, a PlayStream and the
// send-side packet loop.
package conn

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/pion/rtp"
	"go.uber.org/zap"

	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
	"github.com/rillnet-labs/rtcedge/internal/rtc/blackhole"
	"github.com/rillnet-labs/rtcedge/internal/rtc/security"
	"github.com/rillnet-labs/rtcedge/pkg/optimize"
)

// outboundBufPool hands out SRTP/SRTCP encode buffers for
// DoSendPackets. Sized for the largest plausible MTU plus the SRTP
// auth tag; every packet is written to the socket and dropped before
// the next Get, so reuse across every Connection is safe.
var outboundBufPool = optimize.NewBytePool(1600)

const (
	StateInit        = "init"
	StateWaitingStun = "waiting_stun"
	StateDoingDTLS   = "doing_dtls"
	StateEstablished = "established"
	StateClosed      = "closed"
)

// Sender is the minimal send-side surface Connection needs from the
// server's UDP socket; it is a narrow seam so tests can substitute an
// in-memory fake instead of a real net.PacketConn.
type Sender interface {
	WriteTo(b []byte, addr net.Addr) (int, error)
}

// PublishStream/PlayStream are the narrow interfaces Connection drives
// without importing the concrete packages, avoiding an import cycle
// (publish/play both reference Connection for sending).
type PublishStream interface {
	OnRTP(buf []byte) error
	OnRTCP(buf []byte) error
	CheckSendNacks() error
	SendPeriodic() error
}

type PlayStream interface {
	OnRTCP(buf []byte) error
	Stop()
}

// Connection is one established (or establishing) peer session:
// exactly one SecurityTransport, at most one PublishStream, at most
// one PlayStream, a monotonic lifecycle, and the address the far end
// is currently reachable at (subject to STUN migration).
type Connection struct {
	ID       string
	log      *zap.SugaredLogger
	fsm      *fsm.FSM
	sender   Sender
	transport *security.Transport
	Stat     *Stat
	Hijacker Hijacker
	Blackhole blackhole.Sink

	LocalUfrag string
	LocalPwd   string

	mu          sync.RWMutex
	peerAddr    net.Addr
	peerID      string
	createdAt   time.Time
	lastStunAt  time.Time
	stunTimeout time.Duration

	publish PublishStream
	play    PlayStream

	closeOnce sync.Once
}

// New creates a Connection bound to a single far-end address. The
// caller (internal/rtc/server) is responsible for registering it in
// whatever peer-address index it keeps.
func New(log *zap.SugaredLogger, sender Sender, transport *security.Transport, peerAddr net.Addr, stunTimeout time.Duration) *Connection {
	c := &Connection{
		ID:          uuid.NewString(),
		log:         log,
		sender:      sender,
		transport:   transport,
		Stat:        NewStat(),
		Blackhole:   blackhole.Noop{},
		peerAddr:    peerAddr,
		createdAt:   time.Now(),
		lastStunAt:  time.Now(),
		stunTimeout: stunTimeout,
	}
	c.fsm = fsm.NewFSM(
		StateInit,
		fsm.Events{
			{Name: "stun_ok", Src: []string{StateInit}, Dst: StateWaitingStun},
			{Name: "dtls_start", Src: []string{StateWaitingStun}, Dst: StateDoingDTLS},
			{Name: "dtls_done", Src: []string{StateDoingDTLS}, Dst: StateEstablished},
			{Name: "close", Src: []string{StateInit, StateWaitingStun, StateDoingDTLS, StateEstablished}, Dst: StateClosed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.log.Infow("connection state transition", "id", c.ID, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return c
}

func (c *Connection) State() string { return c.fsm.Current() }

// SendRaw writes buf to the peer's current address unprotected: STUN
// binding responses travel outside the DTLS/SRTP path, so this
// bypasses DoSendPackets' protect step entirely.
func (c *Connection) SendRaw(buf []byte) error {
	addr := c.PeerAddr()
	if addr == nil {
		return apperrors.NewAppError(apperrors.ErrCodeStun, "no peer address", 500)
	}
	_, err := c.sender.WriteTo(buf, addr)
	return err
}

// PeerAddr returns the address packets are currently sent to.
func (c *Connection) PeerAddr() net.Addr {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerAddr
}

// OnBindingRequest handles an inbound STUN binding request. If the
// source address differs from the one currently on file, this is a
// STUN migration (NAT rebind / ICE restart-lite): the send address is
// updated (the Server moves its address index entry before calling
// this), but otherwise nothing about the session is reset. First
// binding request of a session also drives the init -> waiting_stun
// transition.
func (c *Connection) OnBindingRequest(src net.Addr) {
	c.mu.Lock()
	migrated := c.peerAddr == nil || src.String() != c.peerAddr.String()
	if migrated {
		c.log.Infow("stun binding migration", "id", c.ID, "from", c.peerAddr, "to", src)
		c.peerAddr = src
	}
	c.lastStunAt = time.Now()
	c.mu.Unlock()

	if c.fsm.Current() == StateInit {
		_ = c.fsm.Event(context.Background(), "stun_ok")
	}
}

// IsStunTimeout reports whether no binding request has been seen
// within the configured window. It is polled rather than event-driven.
func (c *Connection) IsStunTimeout() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastStunAt) > c.stunTimeout
}

// StartDTLS transitions into the handshake state. It is a no-op if
// already past waiting_stun (monotonic; no reverse transitions). The
// transport itself is already mid-handshake by the time this fires
// (Initialize was called when the connection was created out of the
// offer/answer exchange); this only flips the visible state label.
func (c *Connection) StartDTLS() {
	_ = c.fsm.Event(context.Background(), "dtls_start")
}

// Transport returns the connection's SecurityTransport so the server's
// demultiplexer can feed it raw DTLS datagrams.
func (c *Connection) Transport() *security.Transport { return c.transport }

// PumpDTLSOutbound forwards every DTLS record the handshake produces
// out to the peer, unprotected (DTLS records are not themselves SRTP-
// wrapped). It returns once the transport's pipe is closed, typically
// because Close tore the connection down.
func (c *Connection) PumpDTLSOutbound() {
	for {
		frame, err := c.transport.NextOutboundFrame()
		if err != nil {
			return
		}
		if err := c.SendRaw(frame); err != nil {
			c.log.Warnw("dtls outbound send failed", "id", c.ID, "error", err)
		}
	}
}

// onConnectionEstablished is the SecurityTransport completion
// callback; it fires the dtls_done transition exactly once (the
// underlying fsm.Event call is itself idempotent against an
// unavailable transition, so double-invocation is harmless).
func (c *Connection) onConnectionEstablished() {
	_ = c.fsm.Event(context.Background(), "dtls_done")
}

func (c *Connection) AttachPublish(p PublishStream) {
	c.mu.Lock()
	c.publish = p
	c.mu.Unlock()
	if c.Hijacker != nil {
		c.Hijacker.OnStartPublish(c.ID)
	}
}

func (c *Connection) AttachPlay(p PlayStream) {
	c.mu.Lock()
	c.play = p
	c.mu.Unlock()
	if c.Hijacker != nil {
		c.Hijacker.OnStartPlay(c.ID)
	}
}

// NotifyConsume reports that a play-side bus.Consumer was just created
// for this connection, for Hijacker implementations that track active
// subscriptions per stream rather than per connection.
func (c *Connection) NotifyConsume(streamID string) {
	if c.Hijacker != nil {
		c.Hijacker.OnStartConsume(streamID)
	}
}

// NotifyRTPPacket forwards one inbound RTP header to the Hijacker, for
// diagnostics that need per-packet visibility (e.g. a bitrate
// estimator) without being wired into PublishStream itself.
func (c *Connection) NotifyRTPPacket(h *rtp.Header) {
	if c.Hijacker != nil {
		c.Hijacker.OnRTPPacket(c.ID, h)
	}
}

// DoSendPackets writes plaintext compound RTCP or RTP to the wire. The
// caller has already done TWCC-sequence assignment and RTP encode (if
// applicable) before this is reached, so this function's only jobs
// are protect, count, and send.
func (c *Connection) DoSendPackets(plaintext []byte, isRTCP bool) error {
	addr := c.PeerAddr()
	if addr == nil {
		return apperrors.NewAppError(apperrors.ErrCodeRtp, "no peer address", 500)
	}

	dst := outboundBufPool.Get()[:0]
	defer outboundBufPool.Put(dst)

	var (
		out []byte
		err error
	)
	if isRTCP {
		out, err = c.transport.ProtectRTCP(dst, plaintext)
	} else {
		out, err = c.transport.ProtectRTP(dst, plaintext, nil)
	}
	if err != nil {
		return err
	}

	c.Blackhole.SendTo(out)
	if _, err := c.sender.WriteTo(out, addr); err != nil {
		return apperrors.WrapRtpError(err, "write to socket")
	}

	if isRTCP {
		c.Stat.IncrRTCPOut()
	} else {
		c.Stat.IncrRTPOut()
	}
	return nil
}

// CheckSendNacks asks the attached PublishStream to flush any pending
// NACK requests it has accumulated for its receive tracks, encoding
// PID+BLP bitmasks per RFC 4585 §6.2.1. Delegated to PublishStream
// because only it knows which sequence numbers are actually missing;
// Connection's role is just to own the transport the result gets sent
// through, which PublishStream reaches via DoSendPackets.
func (c *Connection) CheckSendNacks() error {
	c.mu.RLock()
	p := c.publish
	c.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.CheckSendNacks()
}

// SendPeriodic drives the publish side's 200ms RTCP/TWCC hourglass.
func (c *Connection) SendPeriodic() error {
	c.mu.RLock()
	p := c.publish
	c.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.SendPeriodic()
}

// DispatchRTP routes an inbound RTP packet (still SRTP-protected) to
// the attached PublishStream. Packets arriving before a publisher has
// attached are silently dropped.
func (c *Connection) DispatchRTP(buf []byte) error {
	c.mu.RLock()
	p := c.publish
	c.mu.RUnlock()
	if p == nil {
		return nil
	}
	return p.OnRTP(buf)
}

// DispatchRTCP routes an inbound RTCP compound packet (still SRTP-
// protected; publish.Stream/play.Stream each unprotect it themselves)
// to whichever of publish/play owns the relevant SSRCs. A sender
// report or receiver report can plausibly apply to either side, so
// both are offered the packet; each ignores SSRCs it doesn't
// recognize.
func (c *Connection) DispatchRTCP(raw []byte) error {
	c.Stat.IncrRTCPIn()
	c.mu.RLock()
	p, pl := c.publish, c.play
	c.mu.RUnlock()

	var firstErr error
	if p != nil {
		if err := p.OnRTCP(raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if pl != nil {
		if err := pl.OnRTCP(raw); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears the connection down play-stream first: it is stopped
// and drained before the fsm moves to closed, since its send path
// still references the transport while draining.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.mu.RLock()
		pl := c.play
		c.mu.RUnlock()
		if pl != nil {
			pl.Stop()
		}

		_ = c.fsm.Event(context.Background(), "close")
		c.log.Infow("connection closed", "id", c.ID, "stat", c.Stat.Summary())
		if c.Hijacker != nil {
			c.Hijacker.OnClose(c.ID, c.Stat)
		}
	})
}
