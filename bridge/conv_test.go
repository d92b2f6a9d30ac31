package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

func TestConvolutionOutputShape(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(4, 4, 2, 3))
	out := layer.New(cube.New(4, 4, 5, 3))
	c := NewConvolutionBridge("conv", in, out, drv, 3, 1, 1, 5, true)

	c.Forward()
	assert.Equal(t, 4, out.Data.R)
	assert.Equal(t, 4, out.Data.C)
	assert.Equal(t, 5, out.Data.D)

	for i := range out.Grad.Data {
		out.Grad.Data[i] = 1
	}
	c.Backward()
	assert.Equal(t, in.Grad.R, in.Data.R)
}

func TestConvolutionForwardMatchesClosedFormWithConstantWeights(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(2, 2, 2, 1))
	out := layer.New(cube.New(1, 1, 3, 1))

	c := NewConvolutionBridge("fc-as-conv", in, out, drv, 2, 0, 1, 3, false)
	drv.InitConstant(c.Model.Data, 0.5)
	drv.InitConstant(c.Bias.Data, 0.1)

	var sum float32
	v := float32(1)
	for r := 0; r < 2; r++ {
		for cc := 0; cc < 2; cc++ {
			for d := 0; d < 2; d++ {
				in.Data.Set(r, cc, d, 0, v)
				sum += v
				v++
			}
		}
	}

	c.Forward()
	want := 0.5*sum + 0.1
	for od := 0; od < 3; od++ {
		assert.InDelta(t, want, out.Data.Get(0, 0, od, 0), 1e-4)
	}
}

func TestFullyConnectedIsDegenerateConvolution(t *testing.T) {
	drv := driver.NewCPUDriver()
	in1 := layer.New(cube.New(3, 3, 2, 2))
	out1 := layer.New(cube.New(1, 1, 4, 2))
	fc := NewFullyConnectedBridge("fc", in1, out1, drv, 4, false)

	in2 := layer.New(cube.New(3, 3, 2, 2))
	out2 := layer.New(cube.New(1, 1, 4, 2))
	conv := NewConvolutionBridge("conv", in2, out2, drv, 3, 0, 1, 4, false)

	copy(fc.Model.Data, conv.Model.Data)
	copy(fc.Bias.Data, conv.Bias.Data)
	for i := range in1.Data.Data {
		in1.Data.Data[i] = float32(i) * 0.1
		in2.Data.Data[i] = float32(i) * 0.1
	}

	fc.Forward()
	conv.Forward()
	for i := range out1.Data.Data {
		assert.InDelta(t, out2.Data.Data[i], out1.Data.Data[i], 1e-6)
	}
}

func TestConvolutionBackwardGradientMatchesFiniteDifference(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(3, 3, 1, 1))
	out := layer.New(cube.New(2, 2, 1, 1))
	c := NewConvolutionBridge("conv", in, out, drv, 2, 0, 1, 1, true)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i+1) * 0.1
	}

	loss := func() float32 {
		c.Forward()
		var l float32
		for _, v := range out.Data.Data {
			l += v * v
		}
		return l
	}

	base := loss() // also primes c.lowered, which Backward needs
	require.Greater(t, base, float32(0))
	for i := range out.Grad.Data {
		out.Grad.Data[i] = 2 * out.Data.Data[i]
	}
	c.Backward()
	analyticGrad := c.ModelGradC.Data[0]

	const eps = 1e-3
	orig := c.Model.Data[0]
	c.Model.Data[0] = orig + eps
	lossPlus := loss()
	c.Model.Data[0] = orig - eps
	lossMinus := loss()
	c.Model.Data[0] = orig

	numericGrad := (lossPlus - lossMinus) / (2 * eps)
	require.InDelta(t, numericGrad, analyticGrad, 5e-2, "analytic weight gradient should match the finite-difference estimate")
}
