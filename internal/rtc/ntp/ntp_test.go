package ntp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRTTFromDLRR_ZeroDelayIsRoughlyRoundTrip(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lrr := ToCompact(base)

	// far end replies 100ms later with dlrr=0 (no processing delay)
	now := ToCompact(base.Add(100 * time.Millisecond))

	rtt := RTTFromDLRR(now, lrr, 0)
	assert.InDelta(t, 100, rtt, 5, "rtt should be close to the 100ms gap")
}

func TestRTTFromDLRR_SubtractsProcessingDelay(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lrr := ToCompact(base)
	now := ToCompact(base.Add(200 * time.Millisecond))

	// far end sat on the report for 50ms before replying
	dlrr := ToCompact(base.Add(50 * time.Millisecond)) - ToCompact(base)

	rtt := RTTFromDLRR(now, lrr, dlrr)
	assert.InDelta(t, 150, rtt, 5)
}

func TestRTTFromDLRR_NeverNegative(t *testing.T) {
	rtt := RTTFromDLRR(0, 100, 100)
	assert.GreaterOrEqual(t, rtt, int64(0))
}

// TestRTTFromDLRR_WholeSecondGapIsNotDoubleCounted covers a full
// whole-second round trip (no fractional remainder at all): a naive
// split that adds the whole-seconds term on top of the already-scaled
// 16.16 value would report 2000ms here instead of 1000ms.
func TestRTTFromDLRR_WholeSecondGapIsNotDoubleCounted(t *testing.T) {
	const oneSecondInCompactNTP = 1 << 16
	rtt := RTTFromDLRR(oneSecondInCompactNTP, 0, 0)
	assert.Equal(t, int64(1000), rtt)
}
