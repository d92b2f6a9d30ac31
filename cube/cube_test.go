package cube

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c := New(2, 3, 4, 5)
	c.Set(1, 2, 3, 4, 7.5)
	assert.Equal(t, float32(7.5), c.Get(1, 2, 3, 4))
}

func TestCRDBPhysicalOrderIsBatchSlowest(t *testing.T) {
	c := New(2, 2, 2, 2)
	for i := range c.Data {
		c.Data[i] = float32(i)
	}
	// batch is the slowest-varying axis: batch 1's slice starts at R*C*D.
	slice := c.PhysicalRCDSlice(1)
	require.Len(t, slice, 8)
	assert.Equal(t, float32(8), slice[0])
}

func TestViewAliasesUnderlyingBuffer(t *testing.T) {
	c := New(1, 1, 1, 4)
	for b := 0; b < 4; b++ {
		c.Set(0, 0, 0, b, float32(b))
	}
	v := c.View(1, 3)
	assert.Equal(t, 2, v.B)
	assert.Equal(t, float32(1), v.Get(0, 0, 0, 0))
	assert.Equal(t, float32(2), v.Get(0, 0, 0, 1))

	v.Set(0, 0, 0, 0, 99)
	assert.Equal(t, float32(99), c.Get(0, 0, 0, 1), "view writes must be visible through the parent cube")
}

func TestWrapRejectsMismatchedLength(t *testing.T) {
	assert.Panics(t, func() {
		Wrap(make([]float32, 3), 2, 2, 1, 1)
	})
}

func TestSetPDataRejectsMismatchedLength(t *testing.T) {
	c := New(2, 2, 1, 1)
	assert.Panics(t, func() {
		c.SetPData(make([]float32, 1))
	})
}

func TestZero(t *testing.T) {
	c := New(2, 2, 1, 1)
	for i := range c.Data {
		c.Data[i] = 1
	}
	c.Zero()
	for _, v := range c.Data {
		assert.Equal(t, float32(0), v)
	}
}

func TestSameShape(t *testing.T) {
	a := New(1, 2, 3, 4)
	b := New(1, 2, 3, 4)
	c := New(1, 2, 3, 5)
	assert.True(t, SameShape(a, b))
	assert.False(t, SameShape(a, c))
}
