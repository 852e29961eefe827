package monitoring

import (
	"github.com/pion/rtp"

	"github.com/rillnet-labs/rtcedge/internal/core/domain"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"
)

// RTCHijacker adapts PrometheusCollector to conn.Hijacker, so the low-
// level RTC core's connection lifecycle feeds the same peer/stream
// gauges the higher-level stream join/leave path does.
type RTCHijacker struct {
	collector *PrometheusCollector
}

func NewRTCHijacker(collector *PrometheusCollector) *RTCHijacker {
	return &RTCHijacker{collector: collector}
}

func (h *RTCHijacker) OnStartPublish(streamID string) {
	h.collector.RecordPeerConnected(domain.StreamID(streamID), true)
}

func (h *RTCHijacker) OnStartPlay(streamID string) {
	h.collector.RecordPeerConnected(domain.StreamID(streamID), false)
}

func (h *RTCHijacker) OnStartConsume(streamID string) {}

func (h *RTCHijacker) OnRTPPacket(streamID string, header *rtp.Header) {}

func (h *RTCHijacker) OnClose(connID string, stat *conn.Stat) {
	h.collector.RecordRTCTeardown(stat)
}
