// Package ntp implements the compact-NTP arithmetic used by RTCP
// sender reports and XR DLRR/RRTR blocks to estimate round-trip time.
package ntp

import "time"

const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01

// ToCompact converts a wall-clock time into the 32-bit "compact NTP"
// format used in XR LRR/DLRR and SR timestamps: the middle 32 bits of
// a 64-bit NTP timestamp (16.16 fixed point seconds).
func ToCompact(t time.Time) uint32 {
	secs := uint64(t.Unix()+ntpEpochOffset) & 0xFFFF
	frac := uint32(t.Nanosecond()) / 1000
	fracQ16 := uint64(frac) * (1 << 16) / 1000000
	return uint32(secs<<16) | uint32(fracQ16&0xFFFF)
}

// RTTFromDLRR computes the round-trip time in milliseconds from the
// compact-NTP timestamp of arrival (now), the Last-Receiver-Report
// timestamp (lrr) echoed back by the far end, and the delay the far
// end waited before replying (dlrr), all in compact-NTP units.
//
// rtt_ntp = now - lrr - dlrr is a 16.16 fixed-point seconds value, so
// multiplying by 1000 before shifting right by 16 converts the whole
// value to milliseconds in one step; the whole-seconds portion must
// not be added again on top of that.
func RTTFromDLRR(now, lrr, dlrr uint32) int64 {
	rtt := int64(now) - int64(lrr) - int64(dlrr)
	if rtt < 0 {
		rtt = 0
	}
	return (rtt * 1000) >> 16
}
