package bridge

import (
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/kernel"
	"github.com/muchq/deepbridge/layer"
)

// MaxPoolingBridge implements max pooling: no padding, a K x K window
// at stride S, with an argmax index cached from Forward so Backward can
// scatter without rescanning.
type MaxPoolingBridge struct {
	Base

	drv  driver.Driver
	K, S int

	maxIndex []int
}

func NewMaxPoolingBridge(name string, input, output *layer.Layer, drv driver.Driver, K, S int) *MaxPoolingBridge {
	return &MaxPoolingBridge{
		Base: NewBase(name, input, output, true),
		drv:  drv,
		K:    K,
		S:    S,
	}
}

func (p *MaxPoolingBridge) SetCurrBatchSize(n int) {
	p.Base.SetCurrBatchSize(n)
	p.maxIndex = nil
}

func (p *MaxPoolingBridge) Forward() {
	p.Timer.Start()
	defer p.Timer.Stop()

	out, idx := kernel.MaxPoolForward(p.drv, p.InputL.Data, p.K, p.S)
	p.maxIndex = idx
	copy(p.OutputL.Data.Data, out.Data)
}

func (p *MaxPoolingBridge) Backward() {
	p.Timer.Start()
	defer p.Timer.Stop()

	if !p.NeedsGrad {
		return
	}
	in := p.InputL.Data
	gi := kernel.MaxPoolBackward(p.drv, p.OutputL.Grad, p.maxIndex, [4]int{in.R, in.C, in.D, in.B})
	copy(p.InputL.Grad.Data, gi.Data)
}
