package play

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func TestStreamSwitchContext_FirstDesiredTrackBecomesActiveImmediately(t *testing.T) {
	ctx := NewStreamSwitchContext()
	ctx.SetDesired("grp", "high", true)

	assert.True(t, ctx.Allows("high", &rtp.Header{Marker: false}))
}

func TestStreamSwitchContext_SwitchWaitsForKeyframe(t *testing.T) {
	ctx := NewStreamSwitchContext()
	ctx.SetDesired("grp", "high", true)
	ctx.SetDesired("grp", "low", true) // low becomes "preparing"

	assert.True(t, ctx.IsTrackPreparing("low"))
	assert.False(t, ctx.Allows("low", &rtp.Header{Marker: false}), "non-keyframe packet must not switch")
	assert.True(t, ctx.Allows("high", &rtp.Header{Marker: false}), "previously active track keeps forwarding meanwhile")

	assert.True(t, ctx.Allows("low", &rtp.Header{Marker: true, Timestamp: 1000}), "keyframe packet performs the switch")
	assert.False(t, ctx.IsTrackPreparing("low"))
	assert.False(t, ctx.Allows("high", &rtp.Header{Marker: false}), "demoted track stops forwarding")
}

func TestStreamSwitchContext_UngroupedTrackIsImmutable(t *testing.T) {
	ctx := NewStreamSwitchContext()
	ctx.SetDesired("", "audio0", true)

	assert.True(t, ctx.IsTrackImmutable("audio0"))
}

func TestStreamSwitchContext_ActiveItInFuture(t *testing.T) {
	ctx := NewStreamSwitchContext()
	ctx.SetDesired("grp", "high", true)
	ctx.SetDesired("grp", "low", true)
	ctx.Allows("low", &rtp.Header{Marker: true, Timestamp: 5000})

	assert.True(t, ctx.ActiveItInFuture("grp", 4000))
	assert.False(t, ctx.ActiveItInFuture("grp", 6000))
}
