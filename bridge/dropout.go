package bridge

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

// DropoutBridge drops each activation with probability P and rescales
// the survivors by 1/(1-P). The mask is regenerated on every
// training-mode Forward call; in inference it is the identity on both
// passes, selected once at construction by the Train flag so the phase
// travels through construction rather than global state.
type DropoutBridge struct {
	Base

	drv   driver.Driver
	P     float32
	Train bool

	mask *cube.LogicalCube
}

func NewDropoutBridge(name string, input, output *layer.Layer, drv driver.Driver, p float32, train bool) *DropoutBridge {
	return &DropoutBridge{
		Base:  NewBase(name, input, output, true),
		drv:   drv,
		P:     p,
		Train: train,
	}
}

func (d *DropoutBridge) Forward() {
	d.Timer.Start()
	defer d.Timer.Stop()

	in := d.InputL.Data
	out := d.OutputL.Data
	if !d.Train {
		copy(out.Data, in.Data)
		return
	}

	if d.mask == nil || d.mask.NElements() != in.NElements() {
		d.mask = cube.New(in.R, in.C, in.D, in.B)
	}
	d.drv.InitBernoulli(d.mask.Data, 1-d.P)
	keep := 1.0 / (1.0 - d.P)
	d.drv.ElementwiseReduce2(out.Data, in.Data, d.mask.Data, func(x, m float32) float32 {
		return x * m * keep
	})
}

func (d *DropoutBridge) Backward() {
	d.Timer.Start()
	defer d.Timer.Stop()

	if !d.NeedsGrad {
		return
	}
	gradOut := d.OutputL.Grad
	gradIn := d.InputL.Grad
	if !d.Train {
		copy(gradIn.Data, gradOut.Data)
		return
	}
	keep := 1.0 / (1.0 - d.P)
	d.drv.ElementwiseReduce2(gradIn.Data, gradOut.Data, d.mask.Data, func(dy, m float32) float32 {
		return dy * m * keep
	})
}

func (d *DropoutBridge) SetCurrBatchSize(n int) {
	d.Base.SetCurrBatchSize(n)
	d.mask = nil
}
