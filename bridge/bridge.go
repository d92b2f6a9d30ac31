// Package bridge implements the per-layer bridges: each bridge owns
// its forward/backward kernels (calling into package kernel and
// driver.Driver for the actual math), a human name, and diagnostic
// counters, and reads/writes the cubes of its input and output
// layer.Layer.
package bridge

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/layer"
	"github.com/muchq/deepbridge/report"
)

// Bridge is the common capability set every layer realization exposes.
// Bridges are represented as a Go interface with one concrete type per
// layer kind.
type Bridge interface {
	// Forward reads InputLayer().Data and writes OutputLayer().Data.
	Forward()
	// Backward reads OutputLayer().Grad (and possibly cached
	// forward-pass state), writes InputLayer().Grad if
	// NeedsBackwardGrad(), and accumulates into ModelGrad()/BiasGrad()
	// when those exist.
	Backward()

	Name() string
	NeedsBackwardGrad() bool
	SetCurrBatchSize(b int)

	InputLayer() *layer.Layer
	OutputLayer() *layer.Layer

	// ModelCube/BiasCube are nil for bridges with no parameters
	// (pooling, LRN, ReLU, dropout, funnel, softmax).
	ModelCube() *cube.LogicalCube
	ModelGrad() *cube.LogicalCube
	BiasCube() *cube.LogicalCube
	BiasGrad() *cube.LogicalCube

	Report() *report.Timer
}

// Base implements every method common to all bridges; concrete bridges
// embed it and add their own Forward/Backward/ModelCube/etc.
type Base struct {
	NameStr   string
	InputL    *layer.Layer
	OutputL   *layer.Layer
	NeedsGrad bool
	Timer     *report.Timer
}

func NewBase(name string, input, output *layer.Layer, needsGrad bool) Base {
	return Base{
		NameStr:   name,
		InputL:    input,
		OutputL:   output,
		NeedsGrad: needsGrad,
		Timer:     report.NewTimer(name),
	}
}

func (b *Base) Name() string                 { return b.NameStr }
func (b *Base) NeedsBackwardGrad() bool      { return b.NeedsGrad }
func (b *Base) InputLayer() *layer.Layer     { return b.InputL }
func (b *Base) OutputLayer() *layer.Layer    { return b.OutputL }
func (b *Base) Report() *report.Timer        { return b.Timer }
func (b *Base) ModelCube() *cube.LogicalCube { return nil }
func (b *Base) ModelGrad() *cube.LogicalCube { return nil }
func (b *Base) BiasCube() *cube.LogicalCube  { return nil }
func (b *Base) BiasGrad() *cube.LogicalCube  { return nil }

// SetCurrBatchSize is the default implementation: reseat both layers.
// Bridges with cached per-pass state sized by batch (conv's lowered
// matrix, pooling's max-index buffer) override this to also drop that
// cache so it gets rebuilt at the new size on the next Forward.
func (b *Base) SetCurrBatchSize(n int) {
	b.InputL.SetCurrBatchSize(n)
	b.OutputL.SetCurrBatchSize(n)
}
