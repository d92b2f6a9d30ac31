package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

func TestSoftmaxForwardRowsSumToOne(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := cube.New(1, 1, 4, 3)
	for i := range in.Data {
		in.Data[i] = float32(i%5) - 2
	}
	out := SoftmaxForward(drv, in)
	for b := 0; b < in.B; b++ {
		var sum float32
		for d := 0; d < in.D; d++ {
			v := out.Get(0, 0, d, b)
			assert.GreaterOrEqual(t, v, float32(0))
			sum += v
		}
		assert.InDelta(t, float32(1), sum, 1e-5)
	}
}

func TestSoftmaxForwardIsShiftInvariant(t *testing.T) {
	drv := driver.NewCPUDriver()
	a := cube.New(1, 1, 3, 1)
	a.Set(0, 0, 0, 0, 1000)
	a.Set(0, 0, 1, 0, 1001)
	a.Set(0, 0, 2, 0, 1002)

	b := cube.New(1, 1, 3, 1)
	b.Set(0, 0, 0, 0, 0)
	b.Set(0, 0, 1, 0, 1)
	b.Set(0, 0, 2, 0, 2)

	outA := SoftmaxForward(drv, a)
	outB := SoftmaxForward(drv, b)
	for d := 0; d < 3; d++ {
		assert.InDelta(t, outB.Get(0, 0, d, 0), outA.Get(0, 0, d, 0), 1e-5)
	}
}
