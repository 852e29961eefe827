package server

import (
	"net"
	"testing"
	"time"

	"github.com/pion/stun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// recordingSender stands in for the UDP socket: it records every
// datagram handed to it instead of putting one on the wire.
type recordingSender struct {
	sent []sentPacket
}

type sentPacket struct {
	buf  []byte
	addr net.Addr
}

func (r *recordingSender) WriteTo(b []byte, addr net.Addr) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	r.sent = append(r.sent, sentPacket{buf: cp, addr: addr})
	return len(b), nil
}

func bindingRequest(t *testing.T, localUfrag, remoteUfrag, pwd string) []byte {
	t.Helper()
	msg, err := stun.Build(
		stun.TransactionID,
		stun.BindingRequest,
		stun.Username(localUfrag+":"+remoteUfrag),
		stun.NewShortTermIntegrity(pwd),
		stun.Fingerprint,
	)
	require.NoError(t, err)
	return msg.Raw
}

func newTestServer() *Server {
	return New(testLogger(), Config{ListenAddr: "127.0.0.1:0"}, bus.NewMemoryRegistry())
}

// TestHandleStun_BootstrapsFirstDatagramByUfrag covers the very first
// STUN binding request of a session: the Connection was only ever
// registered by its local ufrag (as the offer/answer handler does via
// RegisterPending), never by address, since no datagram had arrived
// yet when it was created.
func TestHandleStun_BootstrapsFirstDatagramByUfrag(t *testing.T) {
	s := newTestServer()
	sender := &recordingSender{}
	c := conn.New(testLogger(), sender, nil, nil, 30*time.Second)
	c.LocalUfrag = "serverufrag"
	c.LocalPwd = "serverpwd"
	s.RegisterPending(c)

	peerAddr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}
	req := bindingRequest(t, "serverufrag", "remoteufrag", "serverpwd")

	s.handleStun(peerAddr, req)

	got, ok := s.connectionFor(peerAddr)
	require.True(t, ok, "connection should be promoted to byAddr after first datagram")
	assert.Same(t, c, got)
	require.Len(t, sender.sent, 1, "a binding response should have been sent back")
	assert.Equal(t, peerAddr.String(), sender.sent[0].addr.String())
}

// TestHandleStun_MigratesKnownConnectionToNewAddress covers a NAT
// rebind after the connection is already established and reachable
// by its old address.
func TestHandleStun_MigratesKnownConnectionToNewAddress(t *testing.T) {
	s := newTestServer()
	sender := &recordingSender{}
	oldAddr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}
	c := conn.New(testLogger(), sender, nil, oldAddr, 30*time.Second)
	c.LocalUfrag = "serverufrag"
	c.LocalPwd = "serverpwd"
	s.RegisterPending(c)
	s.Register(oldAddr, c)

	newAddr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 9000}
	req := bindingRequest(t, "serverufrag", "remoteufrag", "serverpwd")

	s.handleStun(newAddr, req)

	got, ok := s.connectionFor(newAddr)
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, newAddr.String(), c.PeerAddr().String())
	_, stillOld := s.connectionFor(oldAddr)
	assert.False(t, stillOld, "old address must leave the index after a migration")
}

func TestHandleStun_DropsRequestForUnknownUfrag(t *testing.T) {
	s := newTestServer()
	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}
	req := bindingRequest(t, "nobodyhome", "remoteufrag", "whatever")

	s.handleStun(addr, req)

	_, ok := s.connectionFor(addr)
	assert.False(t, ok)
}

func TestHandleStun_DropsRequestWithBadIntegrity(t *testing.T) {
	s := newTestServer()
	sender := &recordingSender{}
	c := conn.New(testLogger(), sender, nil, nil, 30*time.Second)
	c.LocalUfrag = "serverufrag"
	c.LocalPwd = "correctpwd"
	s.RegisterPending(c)

	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.1"), Port: 4000}
	req := bindingRequest(t, "serverufrag", "remoteufrag", "wrongpwd")

	s.handleStun(addr, req)

	_, ok := s.connectionFor(addr)
	assert.False(t, ok, "a connection with a bad MAC must not be promoted or answered")
	assert.Empty(t, sender.sent)
}

func TestDispatch_RoutesByFirstByteRange(t *testing.T) {
	s := newTestServer()
	sender := &recordingSender{}
	c := conn.New(testLogger(), sender, nil, nil, 30*time.Second)
	c.LocalUfrag = "serverufrag"
	c.LocalPwd = "serverpwd"
	s.RegisterPending(c)

	addr := &net.UDPAddr{IP: net.ParseIP("192.0.2.5"), Port: 7000}
	req := bindingRequest(t, "serverufrag", "remoteufrag", "serverpwd")

	// first byte 0x00 routes a binding request (class+method top bits
	// clear) to handleStun, per RFC 5764 §5.1.2.
	s.dispatch(addr, req)
	require.Len(t, sender.sent, 1)

	// bytes outside STUN/DTLS/RTP-RTCP ranges are dropped silently,
	// not routed anywhere.
	s.dispatch(addr, []byte{0x0f, 0x00, 0x00})
	assert.Len(t, sender.sent, 1, "unrecognized first byte must not produce a response")
}

func TestUnregisterUfrag_RemovesPendingEntry(t *testing.T) {
	s := newTestServer()
	c := conn.New(testLogger(), nil, nil, nil, 30*time.Second)
	c.LocalUfrag = "toremove"
	s.RegisterPending(c)

	_, ok := s.connectionForUfrag("toremove")
	require.True(t, ok)

	s.UnregisterUfrag("toremove")
	_, ok = s.connectionForUfrag("toremove")
	assert.False(t, ok)
}
