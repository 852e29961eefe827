package rtpkt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildNACK_CoalescesIntoPidBlp(t *testing.T) {
	nack := BuildNACK(1, 2, []uint16{100, 101, 105, 116})
	buf, err := Marshal(nack)
	assert.NoError(t, err)

	pkts, err := ParseCompound(buf)
	assert.NoError(t, err)
	assert.Len(t, pkts, 1)

	lost := NackLostSequences(nack)
	assert.ElementsMatch(t, []uint16{100, 101, 105, 116}, lost)
}

func TestBuildXRDLRR_RoundTripsThroughMarshal(t *testing.T) {
	xr := BuildXRDLRR(1, 2, 1000, 500)
	buf, err := Marshal(xr)
	assert.NoError(t, err)

	pkts, err := ParseCompound(buf)
	assert.NoError(t, err)
	assert.Len(t, pkts, 1)
}

func TestBuildPLI(t *testing.T) {
	pli := BuildPLI(10, 20)
	assert.Equal(t, uint32(10), pli.SenderSSRC)
	assert.Equal(t, uint32(20), pli.MediaSSRC)
}
