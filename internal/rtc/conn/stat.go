package conn

import (
	"sync/atomic"
	"time"
)

// Stat is the counter bag a Connection accumulates over its lifetime:
// plain atomic counters, summarized into one log line on teardown and
// exported as Prometheus metrics while live.
type Stat struct {
	CreatedAt time.Time

	NACKsSent     int64
	NACKsReceived int64
	PLIsSent      int64
	PLIsReceived  int64
	SRsSent       int64
	SRsReceived   int64
	RRsSent       int64
	RRsReceived   int64
	XRsSent       int64
	XRsReceived   int64
	TWCCSent      int64
	TWCCReceived  int64
	RTPIn         int64
	RTPOut        int64
	RTCPIn        int64
	RTCPOut       int64
}

func NewStat() *Stat {
	return &Stat{CreatedAt: time.Now()}
}

func (s *Stat) IncrNACKSent() { atomic.AddInt64(&s.NACKsSent, 1) }
func (s *Stat) IncrNACKRecv() { atomic.AddInt64(&s.NACKsReceived, 1) }
func (s *Stat) IncrPLISent()  { atomic.AddInt64(&s.PLIsSent, 1) }
func (s *Stat) IncrPLIRecv()  { atomic.AddInt64(&s.PLIsReceived, 1) }
func (s *Stat) IncrSRSent()   { atomic.AddInt64(&s.SRsSent, 1) }
func (s *Stat) IncrSRRecv()   { atomic.AddInt64(&s.SRsReceived, 1) }
func (s *Stat) IncrRRSent()   { atomic.AddInt64(&s.RRsSent, 1) }
func (s *Stat) IncrRRRecv()   { atomic.AddInt64(&s.RRsReceived, 1) }
func (s *Stat) IncrXRSent()   { atomic.AddInt64(&s.XRsSent, 1) }
func (s *Stat) IncrXRRecv()   { atomic.AddInt64(&s.XRsReceived, 1) }
func (s *Stat) IncrTWCCSent() { atomic.AddInt64(&s.TWCCSent, 1) }
func (s *Stat) IncrTWCCRecv() { atomic.AddInt64(&s.TWCCReceived, 1) }
func (s *Stat) IncrRTPIn()    { atomic.AddInt64(&s.RTPIn, 1) }
func (s *Stat) IncrRTPOut()   { atomic.AddInt64(&s.RTPOut, 1) }
func (s *Stat) IncrRTCPIn()   { atomic.AddInt64(&s.RTCPIn, 1) }
func (s *Stat) IncrRTCPOut()  { atomic.AddInt64(&s.RTCPOut, 1) }

// Summary renders the one-line teardown log.
func (s *Stat) Summary() map[string]interface{} {
	return map[string]interface{}{
		"alive_ms":   time.Since(s.CreatedAt).Milliseconds(),
		"nack_sent":  atomic.LoadInt64(&s.NACKsSent),
		"nack_recv":  atomic.LoadInt64(&s.NACKsReceived),
		"pli_sent":   atomic.LoadInt64(&s.PLIsSent),
		"pli_recv":   atomic.LoadInt64(&s.PLIsReceived),
		"sr_sent":    atomic.LoadInt64(&s.SRsSent),
		"sr_recv":    atomic.LoadInt64(&s.SRsReceived),
		"rr_sent":    atomic.LoadInt64(&s.RRsSent),
		"rr_recv":    atomic.LoadInt64(&s.RRsReceived),
		"xr_sent":    atomic.LoadInt64(&s.XRsSent),
		"xr_recv":    atomic.LoadInt64(&s.XRsReceived),
		"twcc_sent":  atomic.LoadInt64(&s.TWCCSent),
		"twcc_recv":  atomic.LoadInt64(&s.TWCCReceived),
		"rtp_in":     atomic.LoadInt64(&s.RTPIn),
		"rtp_out":    atomic.LoadInt64(&s.RTPOut),
		"rtcp_in":    atomic.LoadInt64(&s.RTCPIn),
		"rtcp_out":   atomic.LoadInt64(&s.RTCPOut),
	}
}
