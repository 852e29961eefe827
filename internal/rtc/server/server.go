// Package server owns the UDP socket for an rtcedge listener: it
// demultiplexes inbound datagrams by their first byte per RFC 5764
// §5.1.2 (STUN / DTLS / RTP-or-RTCP ranges) and routes them to the
// Connection registered for the source address.
package server

import (
	"net"
	"sync"

	pionstun "github.com/pion/stun"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
	"github.com/rillnet-labs/rtcedge/internal/rtc/rtpkt"
	"github.com/rillnet-labs/rtcedge/internal/rtc/security"
	"github.com/rillnet-labs/rtcedge/internal/rtc/stun"
)

// Config is the listener configuration.
type Config struct {
	ListenAddr string
}

// Server is one UDP listener fronting any number of Connections.
type Server struct {
	log      *zap.SugaredLogger
	cfg      Config
	registry bus.Registry
	socket   net.PacketConn

	mu       sync.RWMutex
	byAddr   map[string]*conn.Connection
	byUfrag  map[string]*conn.Connection
	hijacker conn.Hijacker
}

func New(log *zap.SugaredLogger, cfg Config, registry bus.Registry) *Server {
	return &Server{
		log:      log,
		cfg:      cfg,
		registry: registry,
		byAddr:   make(map[string]*conn.Connection),
		byUfrag:  make(map[string]*conn.Connection),
	}
}

// Bind opens the UDP socket. It must be called (directly, or via
// Listen) before any Connection is handed the server as its Sender --
// an HTTP offer/answer handler typically calls Bind up front, then
// starts Listen's receive loop in its own goroutine.
func (s *Server) Bind() error {
	if s.socket != nil {
		return nil
	}
	pc, err := net.ListenPacket("udp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.socket = pc
	s.log.Infow("rtc server bound", "addr", s.cfg.ListenAddr)
	return nil
}

// Socket exposes the bound UDP socket as a conn.Sender for
// constructing Connections.
func (s *Server) Socket() net.PacketConn { return s.socket }

// Listen runs the receive loop against the already-bound socket,
// blocking until it errors (typically because the socket was closed
// during shutdown). Callers typically `go server.Listen()` after Bind.
func (s *Server) Listen() error {
	if err := s.Bind(); err != nil {
		return err
	}
	buf := make([]byte, 1600)
	for {
		n, addr, err := s.socket.ReadFrom(buf)
		if err != nil {
			return err
		}
		s.dispatch(addr, buf[:n])
	}
}

func (s *Server) dispatch(addr net.Addr, buf []byte) {
	if len(buf) == 0 {
		return
	}

	firstByte := buf[0]
	switch {
	case firstByte == 0 || firstByte == 1:
		s.handleStun(addr, buf)
	case firstByte >= 20 && firstByte <= 63:
		s.handleDTLS(addr, buf)
	case firstByte >= 128 && firstByte <= 191:
		s.handleRTPOrRTCP(addr, buf)
	default:
		s.log.Debugw("unrecognized first byte, dropping", "byte", firstByte)
	}
}

func (s *Server) connectionFor(addr net.Addr) (*conn.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byAddr[addr.String()]
	return c, ok
}

func (s *Server) connectionForUfrag(ufrag string) (*conn.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byUfrag[ufrag]
	return c, ok
}

// RegisterPending makes a freshly created Connection reachable by its
// local ICE ufrag ahead of any datagram having arrived from its peer.
// Called by the offer/answer handler right after the Connection is
// constructed.
func (s *Server) RegisterPending(c *conn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUfrag[c.LocalUfrag] = c
}

// handleStun answers a binding request on behalf of the matching
// Connection and, via OnBindingRequest, lets it notice a source
// address change (NAT rebind) before the response is even sent. The
// very first datagram of a session arrives from an address nothing is
// registered under yet, so that case falls back to a lookup by the
// request's local ICE ufrag (populated when the offer/answer handler
// created the Connection) and promotes it to the observed address.
func (s *Server) handleStun(addr net.Addr, buf []byte) {
	req, err := stun.DecodeBindingRequest(buf)
	if err != nil {
		s.log.Debugw("dropping malformed stun request", "addr", addr, "error", err)
		return
	}

	c, ok := s.connectionFor(addr)
	pending := false
	if !ok {
		ufrag, err := stun.LocalUsernameFragment(req)
		if err != nil {
			s.log.Debugw("stun from unknown peer, dropping", "addr", addr, "error", err)
			return
		}
		c, ok = s.connectionForUfrag(ufrag)
		if !ok {
			s.log.Debugw("stun for unrecognized ufrag, dropping", "addr", addr, "ufrag", ufrag)
			return
		}
		pending = true
	}

	if pending && !req.Contains(pionstun.AttrMessageIntegrity) {
		s.log.Debugw("dropping stun request without integrity for unbound address", "addr", addr)
		return
	}

	creds := stun.Credentials{LocalUfrag: c.LocalUfrag, LocalPwd: c.LocalPwd}
	if err := stun.VerifyIntegrity(req, creds); err != nil {
		s.log.Debugw("dropping stun request with bad integrity", "addr", addr, "error", err)
		return
	}

	// Only promote the pending-by-ufrag match (first datagram, or a
	// migration) to an address binding once its MESSAGE-INTEGRITY has
	// actually been verified -- the ufrag alone is not a secret (it
	// rides in plaintext SDP), so registering on ufrag match alone
	// would let anyone who saw the offer redirect the connection to an
	// address they control. On a migration the old address is dropped
	// from the index so it no longer resolves to this connection.
	if pending {
		if old := c.PeerAddr(); old != nil && old.String() != addr.String() {
			s.Unregister(old)
		}
		s.Register(addr, c)
	}

	c.OnBindingRequest(addr)

	resp, err := stun.BuildBindingResponse(req, addr, creds)
	if err != nil {
		s.log.Warnw("failed to build stun response", "addr", addr, "error", err)
		return
	}
	if err := c.SendRaw(resp); err != nil {
		s.log.Warnw("failed to send stun response", "addr", addr, "error", err)
	}
}

// handleDTLS feeds a raw handshake/record datagram into the matching
// Connection's SecurityTransport. The first datagram for a connection
// also flips its state label from waiting_stun to doing_dtls.
func (s *Server) handleDTLS(addr net.Addr, buf []byte) {
	c, ok := s.connectionFor(addr)
	if !ok {
		return
	}
	if c.State() == conn.StateWaitingStun {
		c.StartDTLS()
	}
	c.Transport().Feed(buf)
}

// handleRTPOrRTCP demultiplexes the SRTP/SRTCP range further by RFC
// 5764 §5.1.2's follow-on rule (RTCP packet types 192-223 vs RTP's
// payload-type byte) and routes to whichever dispatch the Connection
// exposes; both inbound RTP and RTCP stay SRTP-protected until the
// owning PublishStream/PlayStream unprotects them.
func (s *Server) handleRTPOrRTCP(addr net.Addr, buf []byte) {
	c, ok := s.connectionFor(addr)
	if !ok {
		return
	}
	if rtpkt.IsRTCP(buf) {
		if err := c.DispatchRTCP(buf); err != nil {
			s.log.Debugw("rtcp dispatch error", "addr", addr, "error", err)
		}
		return
	}
	if err := c.DispatchRTP(buf); err != nil {
		s.log.Debugw("rtp dispatch error", "addr", addr, "error", err)
	}
}

// Register associates a Connection with the address it's currently
// reachable at, moving any prior registration for that address aside.
// Called both on initial creation and after a STUN migration.
func (s *Server) Register(addr net.Addr, c *conn.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byAddr[addr.String()] = c
}

// Unregister removes addr -> Connection mapping, used when a
// connection migrates away from addr or closes.
func (s *Server) Unregister(addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAddr, addr.String())
}

// UnregisterUfrag drops the pending-by-ufrag entry, called once a
// Connection closes so a reused ufrag can't resurrect it.
func (s *Server) UnregisterUfrag(ufrag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byUfrag, ufrag)
}

func (s *Server) SetHijacker(h conn.Hijacker) { s.hijacker = h }

// Hijacker returns whatever Hijacker SetHijacker last configured, or
// nil if none has been set -- the offer/answer handler copies it onto
// every Connection it creates.
func (s *Server) Hijacker() conn.Hijacker { return s.hijacker }

// SecurityFactory builds a fresh per-connection SecurityTransport; the
// server only needs to know how to mint one, not how it works.
type SecurityFactory func() *security.Transport
