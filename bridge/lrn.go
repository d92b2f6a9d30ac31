package bridge

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/kernel"
	"github.com/muchq/deepbridge/layer"
)

// LRNBridge implements across-channel local response normalization.
// Caches its input and the per-element denom from
// Forward so Backward need not recompute the channel window sums.
type LRNBridge struct {
	Base

	drv         driver.Driver
	Alpha, Beta float32
	LocalSize   int

	lastInput *cube.LogicalCube
	denom     *cube.LogicalCube
}

func NewLRNBridge(name string, input, output *layer.Layer, drv driver.Driver, alpha, beta float32, localSize int) *LRNBridge {
	return &LRNBridge{
		Base:      NewBase(name, input, output, true),
		drv:       drv,
		Alpha:     alpha,
		Beta:      beta,
		LocalSize: localSize,
	}
}

func (l *LRNBridge) Forward() {
	l.Timer.Start()
	defer l.Timer.Stop()

	out, denom := kernel.LRNForward(l.drv, l.InputL.Data, l.Alpha, l.Beta, l.LocalSize)
	l.lastInput = l.InputL.Data
	l.denom = denom
	copy(l.OutputL.Data.Data, out.Data)
}

func (l *LRNBridge) Backward() {
	l.Timer.Start()
	defer l.Timer.Stop()

	if !l.NeedsGrad {
		return
	}
	gi := kernel.LRNBackward(l.drv, l.lastInput, l.OutputL.Grad, l.denom, l.Alpha, l.Beta, l.LocalSize)
	copy(l.InputL.Grad.Data, gi.Data)
}
