package kernel

import (
	"math"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

// LRNForward computes across-channel local response normalization:
// for each (r,c,d,b), denom is one plus
// (alpha/n) times the sum of squares over a window of n channels
// centered on d (channels outside [0,D) contribute zero), and the
// output is x * denom^-beta. denom is returned alongside the output so
// Backward can reuse it without recomputing the window sums. Purely
// element-wise in (r,c,d,b), so it parallelizes over (row,col,batch)
// triples with no cross-goroutine writes.
func LRNForward(drv driver.Driver, input *cube.LogicalCube, alpha, beta float32, localSize int) (output, denom *cube.LogicalCube) {
	output = cube.New(input.R, input.C, input.D, input.B)
	denom = cube.New(input.R, input.C, input.D, input.B)
	half := localSize / 2

	drv.ParallelFor(input.R*input.C*input.B, func(i int) {
		b := i / (input.R * input.C)
		rem := i % (input.R * input.C)
		r := rem / input.C
		c := rem % input.C

		for d := 0; d < input.D; d++ {
			var sumSq float32
			for k := d - half; k <= d+half; k++ {
				if k < 0 || k >= input.D {
					continue
				}
				v := input.Get(r, c, k, b)
				sumSq += v * v
			}
			dn := float32(1.0) + (alpha/float32(localSize))*sumSq
			denom.Set(r, c, d, b, dn)
			x := input.Get(r, c, d, b)
			output.Set(r, c, d, b, x*float32(math.Pow(float64(dn), float64(-beta))))
		}
	})
	return output, denom
}

// LRNBackward computes the normalization's input gradient:
//
//	dx(r,c,d,b) = denom^-beta * dy
//	            - (2*alpha*beta/n) * x(r,c,d,b) * sum_{k in N(d)} dy(k)*x(k)*denom(k)^(-beta-1)
func LRNBackward(drv driver.Driver, input, gradOutput, denom *cube.LogicalCube, alpha, beta float32, localSize int) *cube.LogicalCube {
	gradInput := cube.New(input.R, input.C, input.D, input.B)
	half := localSize / 2
	coeff := 2 * alpha * beta / float32(localSize)

	drv.ParallelFor(input.R*input.C*input.B, func(i int) {
		b := i / (input.R * input.C)
		rem := i % (input.R * input.C)
		r := rem / input.C
		c := rem % input.C

		for d := 0; d < input.D; d++ {
			dn := denom.Get(r, c, d, b)
			dy := gradOutput.Get(r, c, d, b)
			term1 := float32(math.Pow(float64(dn), float64(-beta))) * dy

			var windowSum float32
			for k := d - half; k <= d+half; k++ {
				if k < 0 || k >= input.D {
					continue
				}
				dyk := gradOutput.Get(r, c, k, b)
				xk := input.Get(r, c, k, b)
				dnk := denom.Get(r, c, k, b)
				windowSum += dyk * xk * float32(math.Pow(float64(dnk), float64(-beta-1)))
			}
			x := input.Get(r, c, d, b)
			gradInput.Set(r, c, d, b, term1-coeff*x*windowSum)
		}
	})
	return gradInput
}
