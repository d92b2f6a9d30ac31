package kernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

func TestLRNForwardSingleChannelMatchesClosedForm(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := cube.New(1, 1, 1, 1)
	in.Set(0, 0, 0, 0, 2)

	out, denom := LRNForward(drv, in, 1e-4, 0.75, 5)
	wantDenom := float32(1.0 + (1e-4/5)*4) // sumSq = 2*2 = 4, single channel
	assert.InDelta(t, wantDenom, denom.Get(0, 0, 0, 0), 1e-6)

	wantOut := float32(2) * float32(math.Pow(float64(wantDenom), -0.75))
	assert.InDelta(t, wantOut, out.Get(0, 0, 0, 0), 1e-6)
}

func TestLRNForwardShapeMatchesInput(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := cube.New(3, 3, 5, 2)
	for i := range in.Data {
		in.Data[i] = float32(i%7) - 3
	}
	out, denom := LRNForward(drv, in, 1e-4, 0.75, 3)
	assert.True(t, cube.SameShape(in, out))
	assert.True(t, cube.SameShape(in, denom))
}

func TestLRNBackwardShapeMatchesInput(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := cube.New(2, 2, 4, 1)
	for i := range in.Data {
		in.Data[i] = float32(i) * 0.1
	}
	out, denom := LRNForward(drv, in, 1e-4, 0.75, 3)
	gradOut := cube.New(out.R, out.C, out.D, out.B)
	for i := range gradOut.Data {
		gradOut.Data[i] = 1
	}
	gi := LRNBackward(drv, in, gradOut, denom, 1e-4, 0.75, 3)
	assert.True(t, cube.SameShape(in, gi))
}
