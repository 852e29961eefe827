// Package security implements the DTLS handshake and SRTP protect/
// unprotect surface of a single RTC connection: one handshake, driven
// either actively (publish side dialing out first flight) or
// passively (answering an incoming ClientHello), completing exactly
// once and deriving a pair of SRTP encrypt/decrypt contexts from the
// DTLS keying material.
package security

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/dtls/v2"
	"github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/srtp/v2"
	"go.uber.org/zap"

	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// Role distinguishes a passive DTLS server (waits for ClientHello)
// from an active DTLS client (sends it), decided by which side's SDP
// carries the offering a=setup attribute.
type Role int

const (
	RoleServer Role = iota // passive: wait for ClientHello
	RoleClient             // active: send ClientHello
)

const dtlsSRTPExtractorLabel = "EXTRACTOR-dtls_srtp"

// Transport owns the DTLS handshake and, once complete, the derived
// SRTP/SRTCP encrypt and decrypt contexts for this connection.
type Transport struct {
	log  *zap.SugaredLogger
	conn *dtls.Conn
	pipe *packetPipe

	mu            sync.Mutex
	handshakeDone bool
	onEstablished func()

	encryptCtx *srtp.Context
	decryptCtx *srtp.Context
}

// New builds a Transport bound to a single certificate. The actual
// handshake I/O is driven through Feed/NextOutboundFrame rather than a
// real net.Conn, since the UDP socket is owned and demultiplexed by
// the server, not by this package.
func New(log *zap.SugaredLogger, cert tls.Certificate) *Transport {
	return &Transport{
		log:  log,
		pipe: newPacketPipe(),
	}
}

// Initialize starts the DTLS handshake in a background goroutine. The
// handshake itself blocks on Feed()-supplied datagrams, so it never
// blocks the caller. onEstablished fires at most once.
func (t *Transport) Initialize(role Role, cert tls.Certificate, onEstablished func()) error {
	t.onEstablished = onEstablished

	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		InsecureSkipVerify:   true, // WebRTC identity is verified via the SDP fingerprint, not the CA chain
		SRTPProtectionProfiles: []dtls.SRTPProtectionProfile{
			dtls.SRTP_AES128_CM_HMAC_SHA1_80,
		},
		LoggerFactory:  &pionLoggerFactory{log: t.log},
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), 30*time.Second)
		},
	}

	go t.runHandshake(role, cfg)
	return nil
}

func (t *Transport) runHandshake(role Role, cfg *dtls.Config) {
	var conn *dtls.Conn
	var err error
	switch role {
	case RoleClient:
		conn, err = dtls.Client(t.pipe, cfg)
	default:
		conn, err = dtls.Server(t.pipe, cfg)
	}
	if err != nil {
		t.log.Warnw("dtls handshake failed", "error", err)
		return
	}
	t.conn = conn

	if err := t.deriveSRTPKeys(role == RoleClient); err != nil {
		t.log.Warnw("srtp key derivation failed", "error", err)
		return
	}

	t.mu.Lock()
	already := t.handshakeDone
	t.handshakeDone = true
	t.mu.Unlock()
	if already {
		return
	}
	if t.onEstablished != nil {
		t.onEstablished()
	}
}

// Feed delivers a raw DTLS datagram read off the socket into the
// handshake/record layer.
func (t *Transport) Feed(buf []byte) {
	t.pipe.deliver(buf)
}

// NextOutboundFrame blocks until the handshake has a DTLS record
// ready to send on the wire; it returns an error once the pipe is
// closed.
func (t *Transport) NextOutboundFrame() ([]byte, error) {
	return t.pipe.nextOutbound()
}

func (t *Transport) deriveSRTPKeys(isClient bool) error {
	const (
		keyLen  = 16 // AES-128
		saltLen = 14
	)
	state := t.conn.ConnectionState()
	material, err := state.ExportKeyingMaterial(dtlsSRTPExtractorLabel, nil, 2*(keyLen+saltLen))
	if err != nil {
		return apperrors.WrapSrtpProtectError(err)
	}

	offset := 0
	clientKey := material[offset : offset+keyLen]
	offset += keyLen
	serverKey := material[offset : offset+keyLen]
	offset += keyLen
	clientSalt := material[offset : offset+saltLen]
	offset += saltLen
	serverSalt := material[offset : offset+saltLen]

	localKey, localSalt, remoteKey, remoteSalt := serverKey, serverSalt, clientKey, clientSalt
	if isClient {
		localKey, localSalt, remoteKey, remoteSalt = clientKey, clientSalt, serverKey, serverSalt
	}

	profile := srtp.ProtectionProfileAes128CmHmacSha1_80
	encryptCtx, err := srtp.CreateContext(localKey, localSalt, profile)
	if err != nil {
		return apperrors.WrapSrtpProtectError(err)
	}
	decryptCtx, err := srtp.CreateContext(remoteKey, remoteSalt, profile)
	if err != nil {
		return apperrors.WrapSrtpUnprotectError(err)
	}

	t.mu.Lock()
	t.encryptCtx = encryptCtx
	t.decryptCtx = decryptCtx
	t.mu.Unlock()
	return nil
}

// NewLoopbackForTesting builds a Transport whose encrypt and decrypt
// contexts share one symmetric key, so ProtectRTP/RTCP output can be
// fed straight back into UnprotectRTP/RTCP on the very same Transport.
// It skips the DTLS handshake entirely -- there is no peer to shake
// hands with -- which is what every publish/play integration test
// that needs a "ready" Transport but isn't testing the handshake
// itself wants.
func NewLoopbackForTesting(log *zap.SugaredLogger) (*Transport, error) {
	key := make([]byte, 16)
	salt := make([]byte, 14)
	for i := range key {
		key[i] = byte(i + 1)
	}
	for i := range salt {
		salt[i] = byte(i + 17)
	}
	profile := srtp.ProtectionProfileAes128CmHmacSha1_80
	// Separate Context instances (not one shared object) even though
	// the key material is identical -- encrypt and decrypt each keep
	// their own per-SSRC rollover/replay state, and this keeps that
	// state from crossing directions.
	encryptCtx, err := srtp.CreateContext(key, salt, profile)
	if err != nil {
		return nil, apperrors.WrapSrtpProtectError(err)
	}
	decryptCtx, err := srtp.CreateContext(key, salt, profile)
	if err != nil {
		return nil, apperrors.WrapSrtpUnprotectError(err)
	}
	return &Transport{
		log:           log,
		pipe:          newPacketPipe(),
		handshakeDone: true,
		encryptCtx:    encryptCtx,
		decryptCtx:    decryptCtx,
	}, nil
}

func (t *Transport) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handshakeDone && t.encryptCtx != nil && t.decryptCtx != nil
}

// ProtectRTP encrypts an RTP packet for sending. header must already
// be parsed from plaintext (see internal/rtc/rtpkt).
func (t *Transport) ProtectRTP(dst, plaintext []byte, header *rtp.Header) ([]byte, error) {
	if !t.ready() {
		return nil, apperrors.NewAppError(apperrors.ErrCodeSrtpProtect, "srtp not ready", 500)
	}
	out, err := t.encryptCtx.EncryptRTP(dst, plaintext, header)
	if err != nil {
		return nil, apperrors.WrapSrtpProtectError(err)
	}
	return out, nil
}

// UnprotectRTP decrypts an inbound RTP packet.
func (t *Transport) UnprotectRTP(dst, ciphertext []byte, header *rtp.Header) ([]byte, error) {
	if !t.ready() {
		return nil, apperrors.NewAppError(apperrors.ErrCodeSrtpUnprotect, "srtp not ready", 500)
	}
	out, err := t.decryptCtx.DecryptRTP(dst, ciphertext, header)
	if err != nil {
		return nil, apperrors.WrapSrtpUnprotectError(err)
	}
	return out, nil
}

// ProtectRTCP encrypts an RTCP compound packet. Plaintext always goes
// in, ciphertext always comes out -- every call site in this module
// uses this same (in, out) convention, with no exceptions for the
// NACK send path or anywhere else.
func (t *Transport) ProtectRTCP(dst, plaintext []byte) ([]byte, error) {
	if !t.ready() {
		return nil, apperrors.NewAppError(apperrors.ErrCodeSrtpProtect, "srtp not ready", 500)
	}
	out, err := t.encryptCtx.EncryptRTCP(dst, plaintext, &rtcp.Header{})
	if err != nil {
		return nil, apperrors.WrapSrtpProtectError(err)
	}
	return out, nil
}

// UnprotectRTCP decrypts an inbound RTCP compound packet.
func (t *Transport) UnprotectRTCP(dst, ciphertext []byte) ([]byte, error) {
	if !t.ready() {
		return nil, apperrors.NewAppError(apperrors.ErrCodeSrtpUnprotect, "srtp not ready", 500)
	}
	out, err := t.decryptCtx.DecryptRTCP(dst, ciphertext, &rtcp.Header{})
	if err != nil {
		return nil, apperrors.WrapSrtpUnprotectError(err)
	}
	return out, nil
}

// packetPipe adapts a datagram feed/drain interface to the net.Conn
// shape dtls.Client/dtls.Server expect, since the real socket is owned
// by internal/rtc/server and packets are dispatched to connections by
// a demultiplexer rather than handed to each connection as its own
// net.Conn.
type packetPipe struct {
	inbound  chan []byte
	outbound chan []byte
	closed   chan struct{}
}

func newPacketPipe() *packetPipe {
	return &packetPipe{
		inbound:  make(chan []byte, 64),
		outbound: make(chan []byte, 64),
		closed:   make(chan struct{}),
	}
}

func (p *packetPipe) deliver(buf []byte) {
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case p.inbound <- cp:
	case <-p.closed:
	}
}

func (p *packetPipe) nextOutbound() ([]byte, error) {
	select {
	case b := <-p.outbound:
		return b, nil
	case <-p.closed:
		return nil, io.EOF
	}
}

func (p *packetPipe) Read(b []byte) (int, error) {
	select {
	case buf := <-p.inbound:
		n := copy(b, buf)
		return n, nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *packetPipe) Write(b []byte) (int, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case p.outbound <- cp:
		return len(b), nil
	case <-p.closed:
		return 0, io.ErrClosedPipe
	}
}

func (p *packetPipe) Close() error {
	select {
	case <-p.closed:
	default:
		close(p.closed)
	}
	return nil
}

func (p *packetPipe) LocalAddr() net.Addr                { return pipeAddr{} }
func (p *packetPipe) RemoteAddr() net.Addr               { return pipeAddr{} }
func (p *packetPipe) SetDeadline(t time.Time) error      { return nil }
func (p *packetPipe) SetReadDeadline(t time.Time) error  { return nil }
func (p *packetPipe) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "udp-demux" }
func (pipeAddr) String() string  { return "udp-demux" }

// pionLoggerFactory routes pion/dtls's internal logging through the
// connection's own zap logger instead of pion's default stdout
// logger, so handshake diagnostics land in the same structured log
// stream as everything else.
type pionLoggerFactory struct {
	log *zap.SugaredLogger
}

func (f *pionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zapPionLogger{log: f.log.With("scope", scope)}
}

type zapPionLogger struct{ log *zap.SugaredLogger }

func (l *zapPionLogger) Trace(msg string)                  { l.log.Debug(msg) }
func (l *zapPionLogger) Tracef(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapPionLogger) Debug(msg string)                  { l.log.Debug(msg) }
func (l *zapPionLogger) Debugf(format string, args ...interface{}) { l.log.Debugf(format, args...) }
func (l *zapPionLogger) Info(msg string)                   { l.log.Info(msg) }
func (l *zapPionLogger) Infof(format string, args ...interface{})  { l.log.Infof(format, args...) }
func (l *zapPionLogger) Warn(msg string)                   { l.log.Warn(msg) }
func (l *zapPionLogger) Warnf(format string, args ...interface{})  { l.log.Warnf(format, args...) }
func (l *zapPionLogger) Error(msg string)                  { l.log.Error(msg) }
func (l *zapPionLogger) Errorf(format string, args ...interface{}) { l.log.Errorf(format, args...) }
