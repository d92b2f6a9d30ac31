package kernel

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

// MaxPoolForward scans each K x K window (stride S, no padding) and
// records both the max and the flat physical index into input.Data that
// produced it, so Backward can scatter without re-scanning. Parallelized
// over (batch, channel) pairs: pooling windows for a given (b,d) never
// touch another (b,d)'s slice, so this partition is race-free even
// though overlapping windows (S < K) write the same input index from
// multiple output positions within one (b,d) slice.
func MaxPoolForward(drv driver.Driver, input *cube.LogicalCube, K, S int) (output *cube.LogicalCube, maxIndex []int) {
	oR := (input.R-K)/S + 1
	oC := (input.C-K)/S + 1
	output = cube.New(oR, oC, input.D, input.B)
	maxIndex = make([]int, output.NElements())

	drv.ParallelFor(input.B*input.D, func(bd int) {
		b := bd / input.D
		d := bd % input.D
		for or := 0; or < oR; or++ {
			for oc := 0; oc < oC; oc++ {
				r0 := or * S
				c0 := oc * S
				best := input.Get(r0, c0, d, b)
				bestR, bestC := r0, c0
				for kr := 0; kr < K; kr++ {
					for kc := 0; kc < K; kc++ {
						r, c := r0+kr, c0+kc
						v := input.Get(r, c, d, b)
						if v > best {
							best = v
							bestR, bestC = r, c
						}
					}
				}
				outIdx := ((b*input.D+d)*oR+or)*oC + oc
				inIdx := ((b*input.D+d)*input.R+bestR)*input.C + bestC
				output.Data[outIdx] = best
				maxIndex[outIdx] = inIdx
			}
		}
	})
	return output, maxIndex
}

// MaxPoolBackward scatters each output gradient to the single input
// position that produced it (accumulating, since overlapping windows
// can route more than one output to the same input cell). Parallelized
// over (batch, channel) for the same reason as the forward pass.
func MaxPoolBackward(drv driver.Driver, gradOutput *cube.LogicalCube, maxIndex []int, inShape [4]int) *cube.LogicalCube {
	IR, IC, ID, B := inShape[0], inShape[1], inShape[2], inShape[3]
	gradInput := cube.New(IR, IC, ID, B)

	oR, oC := gradOutput.R, gradOutput.C
	drv.ParallelFor(B*ID, func(bd int) {
		b := bd / ID
		d := bd % ID
		for or := 0; or < oR; or++ {
			for oc := 0; oc < oC; oc++ {
				outIdx := ((b*ID+d)*oR+or)*oC + oc
				gradInput.Data[maxIndex[outIdx]] += gradOutput.Data[outIdx]
			}
		}
	})
	return gradInput
}
