package bridge

import (
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

// ReLUBridge computes y = max(0, x). No parameters, no cached state
// between passes beyond the input cube it re-reads on Backward.
type ReLUBridge struct {
	Base
	drv driver.Driver
}

func NewReLUBridge(name string, input, output *layer.Layer, drv driver.Driver) *ReLUBridge {
	return &ReLUBridge{Base: NewBase(name, input, output, true), drv: drv}
}

func (r *ReLUBridge) Forward() {
	r.Timer.Start()
	defer r.Timer.Stop()

	in := r.InputL.Data
	out := r.OutputL.Data
	r.drv.ElementwiseReduce2(out.Data, in.Data, in.Data, func(a, _ float32) float32 {
		if a > 0 {
			return a
		}
		return 0
	})
}

func (r *ReLUBridge) Backward() {
	r.Timer.Start()
	defer r.Timer.Stop()

	if !r.NeedsGrad {
		return
	}
	in := r.InputL.Data
	gradOut := r.OutputL.Grad
	gradIn := r.InputL.Grad
	r.drv.ElementwiseReduce2(gradIn.Data, gradOut.Data, in.Data, func(dy, x float32) float32 {
		if x > 0 {
			return dy
		}
		return 0
	})
}
