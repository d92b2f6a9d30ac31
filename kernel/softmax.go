package kernel

import (
	"math"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

// SoftmaxForward computes a numerically-stable per-sample softmax over
// the depth axis of a (1,1,D,B) cube, subtracting the per-sample max
// before exponentiating.
func SoftmaxForward(drv driver.Driver, input *cube.LogicalCube) *cube.LogicalCube {
	output := cube.New(1, 1, input.D, input.B)
	drv.ParallelFor(input.B, func(b int) {
		max := input.Get(0, 0, 0, b)
		for d := 1; d < input.D; d++ {
			if v := input.Get(0, 0, d, b); v > max {
				max = v
			}
		}
		var sum float32
		for d := 0; d < input.D; d++ {
			e := float32(math.Exp(float64(input.Get(0, 0, d, b) - max)))
			output.Set(0, 0, d, b, e)
			sum += e
		}
		for d := 0; d < input.D; d++ {
			output.Set(0, 0, d, b, output.Get(0, 0, d, b)/sum)
		}
	})
	return output
}
