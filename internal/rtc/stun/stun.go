// Package stun builds and parses the binding request/response pair an
// ICE-lite responder needs: this listener never sends its own checks,
// it only answers the far end's, so there is no client-side STUN code
// here at all.
package stun

import (
	"net"
	"strings"

	"github.com/pion/stun"

	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// Credentials is the local ICE ufrag/pwd pair a Connection was handed
// during SDP negotiation; BuildBindingResponse signs its response with
// Pwd and ParseBindingRequest uses Pwd to check the request's
// MESSAGE-INTEGRITY.
type Credentials struct {
	LocalUfrag string
	LocalPwd   string
}

// Decode parses buf as a STUN message without validating its class;
// callers that only care whether this is a binding request at all
// should prefer ParseBindingRequest.
func Decode(buf []byte) (*stun.Message, error) {
	msg := &stun.Message{Raw: make([]byte, len(buf))}
	copy(msg.Raw, buf)
	if err := msg.Decode(); err != nil {
		return nil, apperrors.WrapStunError(err, "decode stun message")
	}
	return msg, nil
}

// IsBindingRequest reports whether msg is a binding request, as
// opposed to an indication or some other STUN method this listener
// doesn't implement.
func IsBindingRequest(msg *stun.Message) bool {
	return msg.Type == stun.BindingRequest
}

// DecodeBindingRequest decodes buf and rejects anything that is not a
// binding request, without checking MESSAGE-INTEGRITY -- used when the
// caller does not yet know which Connection (and therefore which
// creds) the request belongs to, e.g. to read the USERNAME attribute
// first via LocalUsernameFragment.
func DecodeBindingRequest(buf []byte) (*stun.Message, error) {
	msg, err := Decode(buf)
	if err != nil {
		return nil, err
	}
	if !IsBindingRequest(msg) {
		return nil, apperrors.NewStunError("not a binding request")
	}
	return msg, nil
}

// VerifyIntegrity checks msg's MESSAGE-INTEGRITY against creds when the
// attribute is present (a remote ICE agent that skipped it is accepted
// rather than dropped, since the DTLS handshake that follows is itself
// authenticated).
func VerifyIntegrity(msg *stun.Message, creds Credentials) error {
	if !hasAttribute(msg, stun.AttrMessageIntegrity) {
		return nil
	}
	integrity := stun.NewShortTermIntegrity(creds.LocalPwd)
	if err := integrity.Check(msg); err != nil {
		return apperrors.WrapStunError(err, "message integrity check failed")
	}
	return nil
}

// ParseBindingRequest decodes buf, rejects anything that is not a
// binding request, and verifies MESSAGE-INTEGRITY against creds --
// the convenience path for callers that already know which Connection
// (and creds) the request belongs to, e.g. because it arrived from an
// address already on file.
func ParseBindingRequest(buf []byte, creds Credentials) (*stun.Message, error) {
	msg, err := DecodeBindingRequest(buf)
	if err != nil {
		return nil, err
	}
	if err := VerifyIntegrity(msg, creds); err != nil {
		return nil, err
	}
	return msg, nil
}

// LocalUsernameFragment extracts the local half of a binding request's
// USERNAME attribute, formatted per RFC 8445 §7.3 as
// "localUfrag:remoteUfrag". It is how a listener with no address-keyed
// Connection yet (the very first datagram of a session) finds which
// pending Connection the request belongs to.
func LocalUsernameFragment(msg *stun.Message) (string, error) {
	var username stun.Username
	if err := username.GetFrom(msg); err != nil {
		return "", apperrors.WrapStunError(err, "read username attribute")
	}
	ufrag := strings.SplitN(string(username), ":", 2)[0]
	if ufrag == "" {
		return "", apperrors.NewStunError("empty username fragment")
	}
	return ufrag, nil
}

func hasAttribute(msg *stun.Message, t stun.AttrType) bool {
	_, err := msg.Get(t)
	return err == nil
}

// BuildBindingResponse builds a success response for req carrying
// XOR-MAPPED-ADDRESS set to the source address the request actually
// arrived from (what lets the peer discover its server-reflexive
// address, and what lets this listener detect a NAT rebind on its
// next request), signed with MESSAGE-INTEGRITY and FINGERPRINT.
func BuildBindingResponse(req *stun.Message, from net.Addr, creds Credentials) ([]byte, error) {
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok {
		host, port, err := splitHostPort(from)
		if err != nil {
			return nil, apperrors.WrapStunError(err, "resolve source address")
		}
		udpAddr = &net.UDPAddr{IP: host, Port: port}
	}

	resp, err := stun.Build(
		stun.NewTransactionIDSetter(req.TransactionID),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: udpAddr.IP, Port: udpAddr.Port},
		stun.NewShortTermIntegrity(creds.LocalPwd),
		stun.Fingerprint,
	)
	if err != nil {
		return nil, apperrors.WrapStunError(err, "build binding response")
	}
	return resp.Raw, nil
}

func splitHostPort(addr net.Addr) (net.IP, int, error) {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, 0, err
	}
	ip := net.ParseIP(host)
	port := 0
	for _, c := range portStr {
		if c < '0' || c > '9' {
			break
		}
		port = port*10 + int(c-'0')
	}
	return ip, port, nil
}
