package http

import (
	"crypto/tls"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rillnet-labs/rtcedge/internal/rtc/bus"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
	"github.com/rillnet-labs/rtcedge/internal/rtc/play"
	"github.com/rillnet-labs/rtcedge/internal/rtc/publish"
	"github.com/rillnet-labs/rtcedge/internal/rtc/sdp"
	"github.com/rillnet-labs/rtcedge/internal/rtc/security"
	rtcserver "github.com/rillnet-labs/rtcedge/internal/rtc/server"
	"github.com/rillnet-labs/rtcedge/internal/rtc/track"
	"github.com/rillnet-labs/rtcedge/pkg/config"
)

// RTCHandler answers the publish/play SDP offer-answer exchange that
// hands a browser's session off to the low-level RTC core in
// internal/rtc: a request here ends with a Connection registered on
// the UDP listener, not a pion/webrtc PeerConnection.
type RTCHandler struct {
	log         *zap.SugaredLogger
	cfg         *config.Config
	rtcServer   *rtcserver.Server
	registry    bus.Registry
	certificate tls.Certificate
	fingerprint string
}

func NewRTCHandler(log *zap.SugaredLogger, cfg *config.Config, rtcServer *rtcserver.Server, registry bus.Registry) (*RTCHandler, error) {
	cert, err := security.GenerateSelfSignedCertificate()
	if err != nil {
		return nil, err
	}
	return &RTCHandler{
		log:         log,
		cfg:         cfg,
		rtcServer:   rtcServer,
		registry:    registry,
		certificate: cert,
		fingerprint: security.Fingerprint(cert),
	}, nil
}

type offerRequest struct {
	SDP string `json:"sdp" binding:"required"`
}

type answerResponse struct {
	SDP string `json:"sdp"`
}

// Publish negotiates an inbound offer into PublishStream tracks,
// creates the Connection those tracks ride on, and answers with the
// local SDP the browser completes its DTLS/ICE-lite handshake
// against.
func (h *RTCHandler) Publish(c *gin.Context) {
	streamID := c.Param("id")
	var req offerRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	offer, err := sdp.ParseOffer([]byte(req.SDP))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vhost := h.cfg.VhostConfig(streamID)
	tracks, err := sdp.NegotiatePublishCapability(offer, sdp.PolicyConfig{
		NACKEnabled: vhost.NackEnabled,
		TWCCEnabled: vhost.TWCCEnabled,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cn, transport, err := h.newConnection()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	dropForPT := make(map[uint8]bool, len(vhost.RtcDropForPt))
	for _, pt := range vhost.RtcDropForPt {
		dropForPT[uint8(pt)] = true
	}
	pub := publish.New(h.log, cn, transport, publish.Config{
		NACKEnabled:    vhost.NackEnabled,
		TWCCEnabled:    vhost.TWCCEnabled,
		TWCCExtID:      vhost.TWCCExtID,
		DropForPT:      dropForPT,
		PeriodicPeriod: vhost.PeriodicInterval,
	})
	for _, td := range tracks {
		pub.AddTrack(track.NewRecvTrack(td))
	}

	source := h.registry.FetchOrCreate(streamID)
	source.SetTrackDescriptions(tracks)
	source.SetPublishStream(true)
	source.SetKeyframeRequester(pub)
	pub.AttachSource(source)

	cn.AttachPublish(pub)
	pub.Start()

	answerSDP, err := sdp.GeneratePublishLocalSDP(tracks, h.fingerprint, cn.LocalUfrag, cn.LocalPwd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	raw, err := answerSDP.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answerResponse{SDP: string(raw)})
}

// Play negotiates an inbound offer against a published source's
// tracks, subscribes a bus.Consumer, and answers with the local SDP
// describing what this player will receive.
func (h *RTCHandler) Play(c *gin.Context) {
	streamID := c.Param("id")
	var req offerRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	source, ok := h.registry.Fetch(streamID)
	if !ok || !source.IsPublishing() {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream not currently publishing"})
		return
	}

	offer, err := sdp.ParseOffer([]byte(req.SDP))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	vhost := h.cfg.VhostConfig(streamID)
	if _, err := sdp.NegotiatePlayCapability(offer, sdp.PolicyConfig{
		NACKEnabled: vhost.NackEnabled,
		TWCCEnabled: vhost.TWCCEnabled,
	}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mergeSSRC := make(map[string]uint32)
	audioTracks, err := sdp.FetchSourceCapability(source, track.KindAudio, mergeSSRC)
	if err != nil {
		audioTracks = nil
	}
	videoTracks, err := sdp.FetchSourceCapability(source, track.KindVideo, mergeSSRC)
	if err != nil && len(audioTracks) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// publishSSRC maps a track id back to the SSRC it actually arrives
	// on from the publisher, before FetchSourceCapability overwrote it
	// for the play-side answer -- a PLI this player sends only makes
	// sense to the publisher once translated back through this map.
	publishSSRC := make(map[string]uint32)
	for _, td := range source.TrackDescriptions() {
		publishSSRC[td.ID] = td.SSRC
	}

	cn, transport, err := h.newConnection()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	consumer := source.CreateConsumer()
	cn.NotifyConsume(streamID)
	pl := play.New(h.log, cn, transport, consumer, source, play.Config{
		MwMsgs:      vhost.MwMsgs,
		Realtime:    vhost.RealtimeEnabled,
		TWCCEnabled: vhost.TWCCEnabled,
		TWCCExtID:   vhost.TWCCExtID,
		GCCEnabled:  vhost.GCCEnabled,
	})
	for _, td := range append(append([]track.TrackDescription{}, audioTracks...), videoTracks...) {
		st := track.NewSendTrack(td)
		st.PublishSSRC = publishSSRC[td.ID]
		pl.AddSendTrack(st)
	}

	// Video tracks sharing a merge group (StreamID) start with the
	// first-seen member active and the rest preparing; SetDesired
	// resolves the ordering the same way for an ungrouped track (its
	// own id as the group), so this loop needs no special case for
	// videoTracks with no simulcast siblings.
	var videoCfgs []play.TrackConfig
	for _, td := range videoTracks {
		group := td.StreamID
		if group == "" {
			group = td.ID
		}
		videoCfgs = append(videoCfgs, play.TrackConfig{TrackID: td.ID, MergeGroup: group, Active: true})
	}
	pl.SetTrackActive(videoCfgs)

	cn.AttachPlay(pl)
	pl.Start()

	answerSDP, err := sdp.GeneratePlayLocalSDP(audioTracks, videoTracks, h.fingerprint, cn.LocalUfrag, cn.LocalPwd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	raw, err := answerSDP.Marshal()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, answerResponse{SDP: string(raw)})
}

// newConnection builds a Connection with a fresh ICE credential pair
// and kicks off its passive DTLS handshake, registering it by ufrag so
// the UDP listener can find it once the peer's first STUN binding
// request arrives.
func (h *RTCHandler) newConnection() (*conn.Connection, *security.Transport, error) {
	if err := h.rtcServer.Bind(); err != nil {
		return nil, nil, err
	}

	ufrag, pwd, err := sdp.GenerateICECredentials()
	if err != nil {
		return nil, nil, err
	}

	transport := security.New(h.log, h.certificate)
	cn := conn.New(h.log, h.rtcServer.Socket(), transport, nil, h.cfg.RTC.StunTimeout)
	cn.LocalUfrag = ufrag
	cn.LocalPwd = pwd
	cn.Hijacker = h.rtcServer.Hijacker()
	h.rtcServer.RegisterPending(cn)

	if err := transport.Initialize(security.RoleServer, h.certificate, func() {
		go cn.PumpDTLSOutbound()
	}); err != nil {
		return nil, nil, err
	}
	return cn, transport, nil
}
