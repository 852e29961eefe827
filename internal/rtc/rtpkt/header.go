// Package rtpkt is the bare RTP/RTCP header codec shared by the
// connection, publish and play packages. Parsing a header here never
// has side effects and never touches SRTP state — callers decide when
// to unprotect the payload, which is what lets transport-wide sequence
// numbers be read out of a packet before (or even instead of) SRTP
// unprotect succeeding.
package rtpkt

import (
	"github.com/pion/rtp"

	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// ParseHeader decodes only the RTP header (and, if present, its
// one-byte header extensions per RFC 8285) out of buf. It does not
// touch the payload and never mutates buf.
func ParseHeader(buf []byte) (*rtp.Header, error) {
	h := &rtp.Header{}
	if _, err := h.Unmarshal(buf); err != nil {
		return nil, apperrors.WrapRtpError(err, "parse rtp header")
	}
	return h, nil
}

// TWCCSequence extracts the 16-bit transport-wide sequence number
// carried in a one-byte RFC 8285 extension at extID, if present. It
// is safe to call before SRTP unprotect: the extension lives in the
// cleartext header region of an SRTP packet, not the encrypted
// payload, so congestion-control accounting can proceed even for
// packets whose payload later fails to unprotect (retransmits of
// already-seen sequence numbers, corrupt packets, etc).
func TWCCSequence(h *rtp.Header, extID uint8) (uint16, bool) {
	if extID == 0 {
		return 0, false
	}
	payload := h.GetExtension(extID)
	if len(payload) < 2 {
		return 0, false
	}
	return uint16(payload[0])<<8 | uint16(payload[1]), true
}

// SetTWCCSequence rewrites raw's one-byte RFC 8285 extension at extID
// to carry seq, decoding and re-encoding the whole packet: the
// extension lives in the cleartext RTP header, so this must run
// before SRTP protect, not after. Safe to call on a packet with no
// extension yet -- rtp.Packet.SetExtension installs one.
func SetTWCCSequence(raw []byte, extID uint8, seq uint16) ([]byte, error) {
	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(raw); err != nil {
		return nil, apperrors.WrapRtpError(err, "parse rtp for twcc rewrite")
	}
	if err := pkt.SetExtension(extID, []byte{byte(seq >> 8), byte(seq)}); err != nil {
		return nil, apperrors.WrapRtpError(err, "set twcc extension")
	}
	out, err := pkt.Marshal()
	if err != nil {
		return nil, apperrors.WrapRtpError(err, "marshal rtp after twcc rewrite")
	}
	return out, nil
}

// IsRTCP reports whether buf's payload type byte falls in the RTCP
// range used by this module (video/audio RTCP multiplexed on the same
// 5-tuple as RTP, distinguished by PT per RFC 5761 §4).
func IsRTCP(buf []byte) bool {
	if len(buf) < 2 {
		return false
	}
	pt := buf[1] & 0x7F
	return pt >= 64 && pt <= 95
}
