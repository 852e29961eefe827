package monitoring

import (
	"time"

	"github.com/rillnet-labs/rtcedge/internal/core/domain"
	"github.com/rillnet-labs/rtcedge/internal/rtc/conn"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Counters
	peersConnectedTotal prometheus.Gauge
	streamsActiveTotal  prometheus.Gauge
	dataExchangedBytes  prometheus.Counter
	connectionsTotal    prometheus.Counter

	// Histograms
	webrtcConnectionDuration prometheus.Histogram
	videoSegmentDuration     prometheus.Histogram
	networkLatency           prometheus.Histogram

	// Stream metrics
	streamBitrate     *prometheus.GaugeVec
	streamPeerCount   *prometheus.GaugeVec
	streamHealthScore *prometheus.GaugeVec

	// RTC session counters, accumulated once per Connection at teardown
	// (Stat itself is per-connection and reset to zero on every new
	// Connection, so these are the only place the totals are durable)
	rtcNackSent  prometheus.Counter
	rtcNackRecv  prometheus.Counter
	rtcPliSent   prometheus.Counter
	rtcPliRecv   prometheus.Counter
	rtcSrSent    prometheus.Counter
	rtcSrRecv    prometheus.Counter
	rtcRrSent    prometheus.Counter
	rtcRrRecv    prometheus.Counter
	rtcXrSent    prometheus.Counter
	rtcXrRecv    prometheus.Counter
	rtcTwccSent  prometheus.Counter
	rtcTwccRecv  prometheus.Counter
	rtcRtpIn     prometheus.Counter
	rtcRtpOut    prometheus.Counter
	rtcRtcpIn    prometheus.Counter
	rtcRtcpOut   prometheus.Counter
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		peersConnectedTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtcedge_peers_connected_total",
			Help: "Total number of connected peers",
		}),

		streamsActiveTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtcedge_streams_active_total",
			Help: "Total number of active streams",
		}),

		dataExchangedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_data_exchanged_bytes_total",
			Help: "Total amount of data exchanged in bytes",
		}),

		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_connections_total",
			Help: "Total number of WebRTC connections established",
		}),

		webrtcConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcedge_webrtc_connection_duration_seconds",
			Help:    "Duration of WebRTC connections",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		videoSegmentDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcedge_video_segment_download_duration_seconds",
			Help:    "Duration of video segment downloads",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}),

		networkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "rtcedge_network_latency_seconds",
			Help:    "Network latency between peers",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		streamBitrate: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcedge_stream_bitrate_bps",
			Help: "Current bitrate of streams in bits per second",
		}, []string{"stream_id", "quality"}),

		streamPeerCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcedge_stream_peer_count",
			Help: "Number of peers in each stream",
		}, []string{"stream_id", "peer_type"}),

		streamHealthScore: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rtcedge_stream_health_score",
			Help: "Health score of streams (0-100)",
		}, []string{"stream_id"}),

		rtcNackSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_nack_sent_total", Help: "Generic NACK feedback packets sent",
		}),
		rtcNackRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_nack_received_total", Help: "Generic NACK feedback packets received",
		}),
		rtcPliSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_pli_sent_total", Help: "Picture Loss Indication packets sent",
		}),
		rtcPliRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_pli_received_total", Help: "Picture Loss Indication packets received",
		}),
		rtcSrSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_sr_sent_total", Help: "RTCP Sender Report packets sent",
		}),
		rtcSrRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_sr_received_total", Help: "RTCP Sender Report packets received",
		}),
		rtcRrSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rr_sent_total", Help: "RTCP Receiver Report packets sent",
		}),
		rtcRrRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rr_received_total", Help: "RTCP Receiver Report packets received",
		}),
		rtcXrSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_xr_sent_total", Help: "RTCP Extended Report (XR-RRTR/DLRR) packets sent",
		}),
		rtcXrRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_xr_received_total", Help: "RTCP Extended Report (XR-RRTR/DLRR) packets received",
		}),
		rtcTwccSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_twcc_sent_total", Help: "Transport-wide congestion control feedback packets sent",
		}),
		rtcTwccRecv: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_twcc_received_total", Help: "Transport-wide congestion control feedback packets received",
		}),
		rtcRtpIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rtp_in_total", Help: "Inbound RTP packets processed",
		}),
		rtcRtpOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rtp_out_total", Help: "Outbound RTP packets sent",
		}),
		rtcRtcpIn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rtcp_in_total", Help: "Inbound RTCP compound packets processed",
		}),
		rtcRtcpOut: promauto.NewCounter(prometheus.CounterOpts{
			Name: "rtcedge_rtc_rtcp_out_total", Help: "Outbound RTCP compound packets sent",
		}),
	}
}

func (p *PrometheusCollector) RecordPeerConnected(streamID domain.StreamID, isPublisher bool) {
	p.peersConnectedTotal.Inc()

	peerType := "subscriber"
	if isPublisher {
		peerType = "publisher"
	}

	p.streamPeerCount.WithLabelValues(string(streamID), peerType).Inc()
}

func (p *PrometheusCollector) RecordPeerDisconnected(streamID domain.StreamID, isPublisher bool) {
	p.peersConnectedTotal.Dec()

	peerType := "subscriber"
	if isPublisher {
		peerType = "publisher"
	}

	p.streamPeerCount.WithLabelValues(string(streamID), peerType).Dec()
}

func (p *PrometheusCollector) RecordStreamCreated(streamID domain.StreamID) {
	p.streamsActiveTotal.Inc()
}

func (p *PrometheusCollector) RecordStreamEnded(streamID domain.StreamID) {
	p.streamsActiveTotal.Dec()

	// Очищаем метрики для этого стрима
	p.streamBitrate.DeleteLabelValues(string(streamID), "high")
	p.streamBitrate.DeleteLabelValues(string(streamID), "medium")
	p.streamBitrate.DeleteLabelValues(string(streamID), "low")
	p.streamPeerCount.DeleteLabelValues(string(streamID), "publisher")
	p.streamPeerCount.DeleteLabelValues(string(streamID), "subscriber")
	p.streamHealthScore.DeleteLabelValues(string(streamID))
}

func (p *PrometheusCollector) RecordDataTransferred(bytes int64) {
	p.dataExchangedBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordWebRTCConnection(duration time.Duration) {
	p.webrtcConnectionDuration.Observe(duration.Seconds())
	p.connectionsTotal.Inc()
}

func (p *PrometheusCollector) RecordVideoSegmentDownload(duration time.Duration) {
	p.videoSegmentDuration.Observe(duration.Seconds())
}

func (p *PrometheusCollector) RecordNetworkLatency(latency time.Duration) {
	p.networkLatency.Observe(latency.Seconds())
}

// RecordRTCTeardown adds one Connection's lifetime Stat counters onto
// the cumulative RTC totals; called once, at Connection.Close.
func (p *PrometheusCollector) RecordRTCTeardown(stat *conn.Stat) {
	p.rtcNackSent.Add(float64(stat.NACKsSent))
	p.rtcNackRecv.Add(float64(stat.NACKsReceived))
	p.rtcPliSent.Add(float64(stat.PLIsSent))
	p.rtcPliRecv.Add(float64(stat.PLIsReceived))
	p.rtcSrSent.Add(float64(stat.SRsSent))
	p.rtcSrRecv.Add(float64(stat.SRsReceived))
	p.rtcRrSent.Add(float64(stat.RRsSent))
	p.rtcRrRecv.Add(float64(stat.RRsReceived))
	p.rtcXrSent.Add(float64(stat.XRsSent))
	p.rtcXrRecv.Add(float64(stat.XRsReceived))
	p.rtcTwccSent.Add(float64(stat.TWCCSent))
	p.rtcTwccRecv.Add(float64(stat.TWCCReceived))
	p.rtcRtpIn.Add(float64(stat.RTPIn))
	p.rtcRtpOut.Add(float64(stat.RTPOut))
	p.rtcRtcpIn.Add(float64(stat.RTCPIn))
	p.rtcRtcpOut.Add(float64(stat.RTCPOut))
}

func (p *PrometheusCollector) UpdateStreamMetrics(metrics *domain.StreamMetrics) {
	p.streamHealthScore.WithLabelValues(string(metrics.StreamID)).Set(metrics.HealthScore)

	// Bitrate update by quality can be added here
	// Based on real data from peers
}
