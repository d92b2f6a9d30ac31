package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

func TestLRNBridgeForwardMatchesKernelShape(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(2, 2, 4, 2))
	out := layer.New(cube.New(2, 2, 4, 2))
	l := NewLRNBridge("lrn", in, out, drv, 1e-4, 0.75, 3)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i%5) + 1
	}
	l.Forward()
	assert.True(t, cube.SameShape(in.Data, out.Data))
	for _, v := range out.Data.Data {
		assert.Greater(t, v, float32(0))
	}
}

func TestLRNBridgeNeverAmplifies(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(5, 5, 8, 3))
	out := layer.New(cube.New(5, 5, 8, 3))
	l := NewLRNBridge("lrn", in, out, drv, 1e-4, 0.75, 5)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i%13) - 6
	}
	l.Forward()

	// denom >= 1 whenever alpha > 0, so |y| = |x| * denom^-beta <= |x|.
	for i, y := range out.Data.Data {
		x := in.Data.Data[i]
		if x < 0 {
			x = -x
		}
		if y < 0 {
			y = -y
		}
		assert.LessOrEqual(t, y, x+1e-6)
	}
}

func TestLRNBridgeWithZeroAlphaIsIdentity(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(3, 3, 4, 2))
	out := layer.New(cube.New(3, 3, 4, 2))
	l := NewLRNBridge("lrn", in, out, drv, 0, 0.75, 3)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i%9) - 4
	}
	l.Forward()
	for i := range out.Data.Data {
		assert.InDelta(t, in.Data.Data[i], out.Data.Data[i], 1e-6)
	}

	for i := range out.Grad.Data {
		out.Grad.Data[i] = float32(i%5) - 2
	}
	l.Backward()
	for i := range in.Grad.Data {
		assert.InDelta(t, out.Grad.Data[i], in.Grad.Data[i], 1e-6)
	}
}

func TestLRNBridgeBackwardProducesGradientForInput(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(2, 2, 4, 1))
	out := layer.New(cube.New(2, 2, 4, 1))
	l := NewLRNBridge("lrn", in, out, drv, 1e-4, 0.75, 3)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i) * 0.1
	}
	l.Forward()
	for i := range out.Grad.Data {
		out.Grad.Data[i] = 1
	}
	l.Backward()

	var sumAbs float32
	for _, v := range in.Grad.Data {
		if v < 0 {
			v = -v
		}
		sumAbs += v
	}
	assert.Greater(t, sumAbs, float32(0), "backward should route a non-zero gradient back to the input")
}
