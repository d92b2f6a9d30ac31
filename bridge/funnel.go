package bridge

import (
	"fmt"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/layer"
	"github.com/muchq/deepbridge/report"
)

// FunnelBridge concatenates several input groups' depth axes into one
// output. Used by the network builder immediately before an
// inner-product layer whenever upstream grouping exceeds one. It has
// multiple inputs, so unlike every other bridge it cannot embed Base
// (which assumes exactly one).
type FunnelBridge struct {
	NameStr string
	Inputs  []*layer.Layer
	Output  *layer.Layer
	Timer   *report.Timer
}

func NewFunnelBridge(name string, inputs []*layer.Layer, output *layer.Layer) *FunnelBridge {
	sum := 0
	for _, in := range inputs {
		sum += in.Data.D
		if in.Data.R != output.Data.R || in.Data.C != output.Data.C || in.Data.B != output.Data.B {
			panic(fmt.Sprintf("bridge.NewFunnelBridge %s: input shape %s incompatible with output %s", name, in.Data.ShapeString(), output.Data.ShapeString()))
		}
	}
	if sum != output.Data.D {
		panic(fmt.Sprintf("bridge.NewFunnelBridge %s: input depths sum to %d, output depth is %d", name, sum, output.Data.D))
	}
	return &FunnelBridge{
		NameStr: name,
		Inputs:  inputs,
		Output:  output,
		Timer:   report.NewTimer(name),
	}
}

func (f *FunnelBridge) Name() string                 { return f.NameStr }
func (f *FunnelBridge) NeedsBackwardGrad() bool      { return true }
func (f *FunnelBridge) InputLayer() *layer.Layer     { return f.Inputs[0] }
func (f *FunnelBridge) OutputLayer() *layer.Layer    { return f.Output }
func (f *FunnelBridge) Report() *report.Timer        { return f.Timer }
func (f *FunnelBridge) ModelCube() *cube.LogicalCube { return nil }
func (f *FunnelBridge) ModelGrad() *cube.LogicalCube { return nil }
func (f *FunnelBridge) BiasCube() *cube.LogicalCube  { return nil }
func (f *FunnelBridge) BiasGrad() *cube.LogicalCube  { return nil }

// InputLayers exposes the full fan-in list; the single InputLayer()
// above only satisfies the common Bridge interface and is not otherwise
// meaningful for a funnel.
func (f *FunnelBridge) InputLayers() []*layer.Layer { return f.Inputs }

func (f *FunnelBridge) Forward() {
	f.Timer.Start()
	defer f.Timer.Stop()

	dOffset := 0
	out := f.Output.Data
	for _, in := range f.Inputs {
		for r := 0; r < in.Data.R; r++ {
			for c := 0; c < in.Data.C; c++ {
				for d := 0; d < in.Data.D; d++ {
					for b := 0; b < in.Data.B; b++ {
						out.Set(r, c, dOffset+d, b, in.Data.Get(r, c, d, b))
					}
				}
			}
		}
		dOffset += in.Data.D
	}
}

func (f *FunnelBridge) Backward() {
	f.Timer.Start()
	defer f.Timer.Stop()

	dOffset := 0
	grad := f.Output.Grad
	for _, in := range f.Inputs {
		for r := 0; r < in.Grad.R; r++ {
			for c := 0; c < in.Grad.C; c++ {
				for d := 0; d < in.Grad.D; d++ {
					for b := 0; b < in.Grad.B; b++ {
						in.Grad.Set(r, c, d, b, grad.Get(r, c, dOffset+d, b))
					}
				}
			}
		}
		dOffset += in.Grad.D
	}
}

func (f *FunnelBridge) SetCurrBatchSize(n int) {
	for _, in := range f.Inputs {
		in.SetCurrBatchSize(n)
	}
	f.Output.SetCurrBatchSize(n)
}
