// Package sdp implements Negotiator: turning a remote offer plus local
// policy into negotiated TrackDescriptions, and turning negotiated
// TrackDescriptions back into a local SDP answer. Built on
// github.com/pion/sdp/v3 for the session/media-description types
// instead of hand-rolled text parsing.
package sdp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/randutil"
	psdp "github.com/pion/sdp/v3"

	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
	apperrors "github.com/rillnet-labs/rtcedge/pkg/errors"
)

// PolicyConfig is the local capability policy negotiation consults:
// which rtcp-fb lines this server advertises/accepts.
type PolicyConfig struct {
	NACKEnabled bool
	TWCCEnabled bool
}

// ParseOffer decodes a raw SDP offer body.
func ParseOffer(raw []byte) (*psdp.SessionDescription, error) {
	sd := &psdp.SessionDescription{}
	if err := sd.Unmarshal(raw); err != nil {
		return nil, apperrors.NewSdpExchangeError("parse offer: " + err.Error())
	}
	return sd, nil
}

// NegotiatePublishCapability walks a publish offer's m= lines and
// builds one TrackDescription per distinct msid, preferring
// H.264/packetization-mode=1/level-asymmetry-allowed=1 for video (any
// fmtp H.264 line as a fallback) and the first "opus" line for audio.
// rtcp-fb is filtered to {nack, nack pli} / {transport-cc} by both the
// local policy and what the remote actually offered. Auxiliary
// payload types (red, rtx, ulpfec, rsfec) are carried through
// verbatim, and cross-referenced against ssrc-group FID/FEC lines to
// populate RtxSSRC/FecSSRC.
func NegotiatePublishCapability(offer *psdp.SessionDescription, policy PolicyConfig) ([]track.TrackDescription, error) {
	var out []track.TrackDescription

	for _, md := range offer.MediaDescriptions {
		kind := track.KindAudio
		if md.MediaName.Media == "video" {
			kind = track.KindVideo
		} else if md.MediaName.Media != "audio" {
			continue
		}

		codec, aux, err := pickCodec(md, kind)
		if err != nil {
			return nil, err
		}
		codec.RTCPFeedback = filterRTCPFeedback(md, policy)

		msid := attrValue(md, "msid")
		ssrc, rtxSSRC, fecSSRC := parseSSRCGroups(md)

		out = append(out, track.TrackDescription{
			ID:       trackIDFromMsid(msid),
			Kind:     kind,
			MsID:     msid,
			SSRC:     ssrc,
			RtxSSRC:  rtxSSRC,
			FecSSRC:  fecSSRC,
			Codec:    codec,
			Aux:      aux,
			StreamID: streamIDFromMsid(msid),
		})

		if kind == track.KindVideo {
			break // one publish-side video codec line is enough, per negotiate_publish_capability
		}
	}

	if len(out) == 0 {
		return nil, apperrors.NewSdpExchangeError("no usable media in publish offer")
	}
	return out, nil
}

// GeneratePublishLocalSDP emits one m= line per track (break after the
// first video line -- only one video codec line is needed on the
// publish answer).
func GeneratePublishLocalSDP(tracks []track.TrackDescription, fingerprint, ufrag, pwd string) (*psdp.SessionDescription, error) {
	sd := newAnswerSkeleton(ufrag, pwd, fingerprint)
	videoSeen := false
	for _, t := range tracks {
		if t.Kind == track.KindVideo {
			if videoSeen {
				continue
			}
			videoSeen = true
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, mediaDescriptionFor(t, true))
	}
	return sd, nil
}

// NegotiatePlayCapability mirrors NegotiatePublishCapability for a
// play-side offer but always strips downlink RTX: the play side never
// retransmits via RTX, so rtx_ssrc is always zeroed and no rtx
// AuxPayload is kept.
func NegotiatePlayCapability(offer *psdp.SessionDescription, policy PolicyConfig) ([]track.TrackDescription, error) {
	tracks, err := NegotiatePublishCapability(offer, policy)
	if err != nil {
		return nil, err
	}
	for i := range tracks {
		tracks[i].RtxSSRC = 0
		tracks[i].Aux = stripAux(tracks[i].Aux, "rtx")
	}
	return tracks, nil
}

// FetchSourceCapability fetches a published source's track
// descriptions filtered to the requested kind, assigning fresh SSRCs
// for the play-side answer. Tracks sharing a non-empty StreamID (the
// WebRTC MediaStream id, i.e. simulcast/quality variants of one
// logical source) are a merge group and share one pre-generated SSRC,
// looked up and stored in mergeSSRC keyed by StreamID; an ungrouped
// track (empty StreamID) keys by its own track ID instead, matching
// StreamSwitchContext's own "empty merge key means self-group"
// convention. Callers pass the same mergeSSRC map across kinds/calls
// so a group's SSRC stays stable for the life of the negotiation.
func FetchSourceCapability(source bus.Source, kind track.Kind, mergeSSRC map[string]uint32) ([]track.TrackDescription, error) {
	var out []track.TrackDescription
	for _, td := range source.TrackDescriptions() {
		if td.Kind != kind {
			continue
		}
		key := td.StreamID
		if key == "" {
			key = td.ID
		}
		ssrc, ok := mergeSSRC[key]
		if !ok {
			var err error
			ssrc, err = randomSSRC()
			if err != nil {
				return nil, err
			}
			mergeSSRC[key] = ssrc
		}
		cp := td
		cp.SSRC = ssrc
		cp.RtxSSRC = 0
		cp.Aux = stripAux(cp.Aux, "rtx")
		cp.Aux = stripAux(cp.Aux, "ulpfec")
		cp.Aux = stripAux(cp.Aux, "rsfec")
		out = append(out, cp)
	}
	if len(out) == 0 {
		return nil, apperrors.NewStreamDescError("no tracks of requested kind on source")
	}
	return out, nil
}

// GeneratePlayLocalSDP collapses all video tracks/merge-groups onto a
// single m=video line (Plan-B style), with one ssrc-info entry per
// track/merge-group, while audio keeps one m=audio line per track.
func GeneratePlayLocalSDP(audioTracks, videoTracks []track.TrackDescription, fingerprint, ufrag, pwd string) (*psdp.SessionDescription, error) {
	sd := newAnswerSkeleton(ufrag, pwd, fingerprint)
	for _, t := range audioTracks {
		sd.MediaDescriptions = append(sd.MediaDescriptions, mediaDescriptionFor(t, false))
	}
	if len(videoTracks) > 0 {
		sd.MediaDescriptions = append(sd.MediaDescriptions, collapsedVideoMediaDescription(videoTracks))
	}
	return sd, nil
}

func newAnswerSkeleton(ufrag, pwd, fingerprint string) *psdp.SessionDescription {
	return &psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       "-",
			SessionID:      uint64(mustRandUint32()),
			SessionVersion: 2,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "0.0.0.0",
		},
		SessionName: "-",
		TimeDescriptions: []psdp.TimeDescription{
			{Timing: psdp.Timing{StartTime: 0, StopTime: 0}},
		},
		Attributes: []psdp.Attribute{
			{Key: "ice-lite"},
			{Key: "ice-ufrag", Value: ufrag},
			{Key: "ice-pwd", Value: pwd},
			{Key: "fingerprint", Value: "sha-256 " + fingerprint},
		},
	}
}

func mediaDescriptionFor(t track.TrackDescription, isPublishAnswer bool) *psdp.MediaDescription {
	pt := strconv.Itoa(int(t.Codec.PayloadType))
	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   t.Kind.String(),
			Port:    psdp.RangedPort{Value: 9},
			Protos:  []string{"UDP", "TLS", "RTP", "SAVPF"},
			Formats: []string{pt},
		},
	}
	md.Attributes = append(md.Attributes,
		psdp.Attribute{Key: "setup", Value: "passive"},
		psdp.Attribute{Key: "mid", Value: t.ID},
		psdp.Attribute{Key: "sendonly"},
		psdp.Attribute{Key: "rtpmap", Value: fmt.Sprintf("%s %s/%d", pt, t.Codec.Name, t.Codec.ClockRate)},
	)
	if t.Codec.Fmtp != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: pt + " " + t.Codec.Fmtp})
	}
	for _, fb := range t.Codec.RTCPFeedback {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtcp-fb", Value: pt + " " + fb})
	}
	for _, a := range t.Aux {
		aPT := strconv.Itoa(int(a.PayloadType))
		md.MediaName.Formats = append(md.MediaName.Formats, aPT)
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtpmap", Value: aPT + " " + strings.ToUpper(a.Kind) + "/90000"})
		if a.Kind == "rtx" {
			md.Attributes = append(md.Attributes, psdp.Attribute{Key: "fmtp", Value: fmt.Sprintf("%s apt=%d", aPT, a.AptPayload)})
		}
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{Key: "ssrc", Value: fmt.Sprintf("%d cname:%s", t.SSRC, t.ID)})
	if isPublishAnswer && t.RtxSSRC != 0 {
		md.Attributes = append(md.Attributes, psdp.Attribute{
			Key: "ssrc-group", Value: fmt.Sprintf("FID %d %d", t.SSRC, t.RtxSSRC),
		})
	}
	return md
}

func collapsedVideoMediaDescription(tracks []track.TrackDescription) *psdp.MediaDescription {
	md := mediaDescriptionFor(tracks[0], false)
	for _, t := range tracks[1:] {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "ssrc", Value: fmt.Sprintf("%d cname:%s", t.SSRC, t.ID)})
	}
	return md
}

func pickCodec(md *psdp.MediaDescription, kind track.Kind) (track.CodecPayload, []track.AuxPayload, error) {
	var aux []track.AuxPayload
	var h264Fallback *track.CodecPayload

	for _, format := range md.MediaName.Formats {
		ptVal, err := strconv.Atoi(format)
		if err != nil {
			continue
		}
		pt := uint8(ptVal)
		rtpmap := findRtpmap(md, pt)
		if rtpmap == "" {
			continue
		}
		name, clockRate := splitRtpmap(rtpmap)
		lname := strings.ToLower(name)

		switch lname {
		case "red", "rtx", "ulpfec", "rsfec", "flexfec", "flexfec-03":
			k := lname
			if k == "flexfec-03" {
				k = "flexfec"
			}
			a := track.AuxPayload{Kind: k, PayloadType: pt}
			if fmtp := findFmtp(md, pt); k == "rtx" && fmtp != "" {
				a.AptPayload = parseAptPayload(fmtp)
			}
			aux = append(aux, a)
			continue
		}

		if kind == track.KindAudio && lname == "opus" {
			return track.CodecPayload{PayloadType: pt, Name: "opus", ClockRate: clockRate, Channels: 2}, aux, nil
		}
		if kind == track.KindVideo && lname == "h264" {
			fmtp := findFmtp(md, pt)
			codec := track.CodecPayload{PayloadType: pt, Name: "H264", ClockRate: clockRate, Fmtp: fmtp}
			if strings.Contains(fmtp, "packetization-mode=1") && strings.Contains(fmtp, "level-asymmetry-allowed=1") {
				return codec, aux, nil
			}
			if h264Fallback == nil {
				c := codec
				h264Fallback = &c
			}
		}
	}

	if h264Fallback != nil {
		return *h264Fallback, aux, nil
	}
	return track.CodecPayload{}, nil, apperrors.NewSdpExchangeError("no usable codec for " + kind.String())
}

func filterRTCPFeedback(md *psdp.MediaDescription, policy PolicyConfig) []string {
	offered := map[string]bool{}
	for _, a := range md.Attributes {
		if a.Key == "rtcp-fb" {
			parts := strings.SplitN(a.Value, " ", 2)
			if len(parts) == 2 {
				offered[parts[1]] = true
			}
		}
	}
	var out []string
	if policy.NACKEnabled {
		if offered["nack"] {
			out = append(out, "nack")
		}
		if offered["nack pli"] {
			out = append(out, "nack pli")
		}
	}
	if policy.TWCCEnabled && offered["transport-cc"] {
		out = append(out, "transport-cc")
	}
	return out
}

func parseSSRCGroups(md *psdp.MediaDescription) (ssrc, rtxSSRC, fecSSRC uint32) {
	for _, a := range md.Attributes {
		switch a.Key {
		case "ssrc":
			fields := strings.Fields(a.Value)
			if len(fields) > 0 {
				if v, err := strconv.ParseUint(fields[0], 10, 32); err == nil && ssrc == 0 {
					ssrc = uint32(v)
				}
			}
		case "ssrc-group":
			fields := strings.Fields(a.Value)
			if len(fields) == 3 {
				a1, _ := strconv.ParseUint(fields[1], 10, 32)
				a2, _ := strconv.ParseUint(fields[2], 10, 32)
				switch fields[0] {
				case "FID":
					rtxSSRC = uint32(a2)
					_ = a1
				case "FEC", "FEC-FR":
					fecSSRC = uint32(a2)
				}
			}
		}
	}
	return
}

func findRtpmap(md *psdp.MediaDescription, pt uint8) string {
	prefix := strconv.Itoa(int(pt)) + " "
	for _, a := range md.Attributes {
		if a.Key == "rtpmap" && strings.HasPrefix(a.Value, prefix) {
			return strings.TrimPrefix(a.Value, prefix)
		}
	}
	return ""
}

func findFmtp(md *psdp.MediaDescription, pt uint8) string {
	prefix := strconv.Itoa(int(pt)) + " "
	for _, a := range md.Attributes {
		if a.Key == "fmtp" && strings.HasPrefix(a.Value, prefix) {
			return strings.TrimPrefix(a.Value, prefix)
		}
	}
	return ""
}

func splitRtpmap(s string) (name string, clockRate uint32) {
	parts := strings.SplitN(s, "/", 2)
	name = parts[0]
	if len(parts) > 1 {
		if v, err := strconv.ParseUint(strings.SplitN(parts[1], "/", 2)[0], 10, 32); err == nil {
			clockRate = uint32(v)
		}
	}
	return
}

func parseAptPayload(fmtp string) uint8 {
	for _, field := range strings.Split(fmtp, ";") {
		field = strings.TrimSpace(field)
		if strings.HasPrefix(field, "apt=") {
			if v, err := strconv.Atoi(strings.TrimPrefix(field, "apt=")); err == nil {
				return uint8(v)
			}
		}
	}
	return 0
}

func attrValue(md *psdp.MediaDescription, key string) string {
	for _, a := range md.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

func stripAux(aux []track.AuxPayload, kind string) []track.AuxPayload {
	out := aux[:0]
	for _, a := range aux {
		if a.Kind != kind {
			out = append(out, a)
		}
	}
	return out
}

func trackIDFromMsid(msid string) string {
	fields := strings.Fields(msid)
	if len(fields) == 2 {
		return fields[1]
	}
	return msid
}

// streamIDFromMsid extracts the WebRTC MediaStream id (the first msid
// field) that groups the tracks a browser considers part of the same
// logical source -- simulcast/quality variants of one camera share
// this id while having distinct track ids. FetchSourceCapability uses
// it as the merge-group key. A single-field msid (no distinct stream
// id offered) has no grouping, so it returns "".
func streamIDFromMsid(msid string) string {
	fields := strings.Fields(msid)
	if len(fields) == 2 {
		return fields[0]
	}
	return ""
}

func randomSSRC() (uint32, error) {
	return randutil.NewMathRandomGenerator().Uint32(), nil
}

func mustRandUint32() uint32 {
	return randutil.NewMathRandomGenerator().Uint32()
}

// GenerateICECredentials mints a fresh local ice-ufrag/ice-pwd pair for
// a new Connection, drawn from a CSPRNG since these double as the
// short-term MESSAGE-INTEGRITY key for the STUN binding exchange that
// follows.
func GenerateICECredentials() (ufrag, pwd string, err error) {
	u1, err := randutil.CryptoUint64()
	if err != nil {
		return "", "", err
	}
	ufrag = fmt.Sprintf("%08x", uint32(u1))

	p1, err := randutil.CryptoUint64()
	if err != nil {
		return "", "", err
	}
	p2, err := randutil.CryptoUint64()
	if err != nil {
		return "", "", err
	}
	pwd = fmt.Sprintf("%016x%016x", p1, p2)
	return ufrag, pwd, nil
}
