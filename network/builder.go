// Package network translates a parsed netconfig.NetConfig into an
// ordered list of bridges, including the grouping-compatibility rule
// that promotes an ungrouped convolution to the next convolution's
// group count.
package network

import (
	"fmt"

	"github.com/muchq/deepbridge/bridge"
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
	"github.com/muchq/deepbridge/netconfig"
	"github.com/muchq/deepbridge/parallel"
)

// Network is the built bridge list plus the handles the solver needs to
// drive it: the first layer (whose data cube the corpus refills in place
// with each mini-batch's images), the labels cube (refilled in place
// with each batch's labels), and the softmax bridge (for loss/accuracy).
type Network struct {
	Bridges []bridge.Bridge
	Input   *layer.Layer
	Labels  *cube.LogicalCube
	Softmax *bridge.SoftmaxLossBridge
}

// defaultMaxParallelism is the default outer shard count for
// conv/pool/ReLU/LRN bridges (capped at the mini-batch size),
// overridable via the solver config's run_with_n_threads field. It
// also doubles as the default intra-kernel thread count for FC, which
// gets the reverse split: a single outer shard and high inner
// parallelism instead.
const defaultMaxParallelism = 16

// shardInnerThreads is the intra-kernel thread count given to every
// conv/pool/ReLU/LRN ParallelizedBridge: these bridges get their
// parallelism from a high outer shard count instead.
const shardInnerThreads = 1

// fcOuterShards is the fixed outer shard count for the fully-connected
// bridge: FC forwards as a single dense GEMM rather than a
// batch-sharded one, trading outer parallelism for intra-kernel
// parallelism (fcInnerThreads below).
const fcOuterShards = 1

// Build constructs every bridge for the given phase (TRAIN layers such
// as DROPOUT are skipped when phase is TEST). batchSize is the
// configured mini-batch size; the final, possibly smaller, batch is
// handled later by SetCurrBatchSize on every bridge.
func Build(cfg *netconfig.NetConfig, drv driver.Driver, phase netconfig.Phase, batchSize int) (net *Network, err error) {
	// Bridge constructors panic on shape mismatches since those are
	// programmer/config errors, not runtime conditions to recover from
	// mid-pass. Build is the one boundary that turns such a panic into
	// the error-return the CLI expects.
	defer func() {
		if r := recover(); r != nil {
			net, err = nil, fmt.Errorf("network: %v", r)
		}
	}()

	layers := activeLayers(cfg.Net.Layers, phase)
	if len(layers) == 0 || layers[0].Type != "DATA" {
		return nil, fmt.Errorf("network: first active layer must be DATA")
	}

	n := defaultMaxParallelism
	if cfg.Solver.RunWithNThreads > 0 {
		n = cfg.Solver.RunWithNThreads
	}
	if n > batchSize {
		n = batchSize
	}

	fcInnerThreads := defaultMaxParallelism
	if cfg.Solver.NumThreads > 0 {
		fcInnerThreads = cfg.Solver.NumThreads
	}

	b := &Builder{
		drv:            drv,
		phase:          phase,
		n:              n,
		fcInnerThreads: fcInnerThreads,
		batchSize:      batchSize,
	}
	return b.build(layers)
}

func activeLayers(all []netconfig.Layer, phase netconfig.Phase) []netconfig.Layer {
	out := make([]netconfig.Layer, 0, len(all))
	for _, l := range all {
		if l.AppliesTo(phase) {
			out = append(out, l)
		}
	}
	return out
}

// Builder carries the mutable state threaded through the layer loop:
// the "prev layers" list (one per current group) and the current
// spatial/depth shape.
type Builder struct {
	drv            driver.Driver
	phase          netconfig.Phase
	n              int // outer shard count for conv/pool/ReLU/LRN
	fcInnerThreads int // intra-kernel thread count for FC
	batchSize      int

	prevLayers       []*layer.Layer
	curR, curC, curD int

	isFirstConv bool
	bridges     []bridge.Bridge
	labels      *cube.LogicalCube
	softmax     *bridge.SoftmaxLossBridge
}

func (b *Builder) build(layers []netconfig.Layer) (*Network, error) {
	data := layers[0].Data
	if data == nil {
		return nil, fmt.Errorf("network: DATA layer missing data_param")
	}
	b.curR, b.curC, b.curD = data.NumRows, data.NumCols, data.Dim
	b.isFirstConv = true

	dataCube := cube.New(b.curR, b.curC, b.curD, b.batchSize)
	dataLayer := layer.New(dataCube)
	b.prevLayers = []*layer.Layer{dataLayer}
	b.labels = cube.New(1, 1, 1, b.batchSize)

	for i := 1; i < len(layers); i++ {
		l := layers[i]
		var err error
		switch l.Type {
		case "CONVOLUTION":
			err = b.addConvolution(layers, i)
		case "INNER_PRODUCT":
			err = b.addInnerProduct(l)
		case "POOLING":
			err = b.addPooling(l)
		case "RELU":
			err = b.addReLU(l)
		case "LRN":
			err = b.addLRN(l)
		case "DROPOUT":
			err = b.addDropout(l)
		case "SOFTMAX_LOSS":
			err = b.addSoftmax(l)
		default:
			err = fmt.Errorf("network: unsupported layer type %q", l.Type)
		}
		if err != nil {
			return nil, err
		}
	}

	return &Network{
		Bridges: b.bridges,
		Input:   dataLayer,
		Labels:  b.labels,
		Softmax: b.softmax,
	}, nil
}

func outSpatial(in, k, p, s int) int { return (in+2*p-k)/s + 1 }

// resolvedGroup implements the grouping-compatibility rule: when this
// CONVOLUTION's group is 1 but the *next* CONVOLUTION layer (skipping
// non-conv layers in between) asks for group>1, this layer's group is
// silently promoted to match. Some descriptor dialects rely on that
// promotion instead of spelling the group out on every layer.
func resolvedGroup(layers []netconfig.Layer, idx int) int {
	group := layers[idx].Convolution.Group
	if group == 0 {
		group = 1
	}
	if group != 1 {
		return group
	}
	for j := idx + 1; j < len(layers); j++ {
		if layers[j].Type == "CONVOLUTION" {
			next := layers[j].Convolution.Group
			if next == 0 {
				next = 1
			}
			if next != 1 {
				return next
			}
			break
		}
	}
	return group
}

// addConvolution builds one sibling bridge per promoted group
// (resolvedGroup), each reading either its own member of prevLayers
// (if groups already match) or the same single ungrouped input (a
// 1-to-many fork). The first convolution ever built has no upstream to
// propagate to, so it skips the input-gradient computation.
func (b *Builder) addConvolution(layers []netconfig.Layer, idx int) error {
	l := layers[idx]
	if l.Convolution == nil {
		return fmt.Errorf("network: layer %s missing convolution_param", l.Name)
	}
	K, P, S := l.Convolution.KernelSize, l.Convolution.Pad, l.Convolution.Stride
	group := resolvedGroup(layers, idx)
	outD := l.Convolution.NumOutput
	if outD%group != 0 {
		return fmt.Errorf("network: layer %s num_output %d not divisible by group %d", l.Name, outD, group)
	}
	outD /= group
	oR := outSpatial(b.curR, K, P, S)
	oC := outSpatial(b.curC, K, P, S)
	needsGrad := !b.isFirstConv

	var next []*layer.Layer
	switch {
	case group == len(b.prevLayers):
		next = make([]*layer.Layer, group)
		for i, in := range b.prevLayers {
			out := layer.New(cube.New(oR, oC, outD, b.batchSize))
			name := fmt.Sprintf("%s_%d", l.Name, i)
			factory := func(si, so *layer.Layer, model, bias *cube.LogicalCube) bridge.Bridge {
				return bridge.NewConvolutionBridgeShared(name, si, so, b.drv, K, P, S, outD, needsGrad, model, bias)
			}
			pb := parallel.New(name, in, out, b.n, factory, b.drv, shardInnerThreads)
			b.bridges = append(b.bridges, pb)
			next[i] = out
		}
	case group != 1 && len(b.prevLayers) == 1:
		next = make([]*layer.Layer, group)
		for i := 0; i < group; i++ {
			out := layer.New(cube.New(oR, oC, outD, b.batchSize))
			name := fmt.Sprintf("%s_%d", l.Name, i)
			factory := func(si, so *layer.Layer, model, bias *cube.LogicalCube) bridge.Bridge {
				return bridge.NewConvolutionBridgeShared(name, si, so, b.drv, K, P, S, outD, needsGrad, model, bias)
			}
			pb := parallel.New(name, b.prevLayers[0], out, b.n, factory, b.drv, shardInnerThreads)
			b.bridges = append(b.bridges, pb)
			next[i] = out
		}
	default:
		return fmt.Errorf("network: layer %s: unsupported grouping transition from %d to %d", l.Name, len(b.prevLayers), group)
	}

	b.prevLayers = next
	b.curR, b.curC, b.curD = oR, oC, outD
	b.isFirstConv = false
	return nil
}

func (b *Builder) addInnerProduct(l netconfig.Layer) error {
	if l.InnerProduct == nil {
		return fmt.Errorf("network: layer %s missing inner_product_param", l.Name)
	}
	if len(b.prevLayers) > 1 {
		funnelOut := cube.New(b.curR, b.curC, b.curD*len(b.prevLayers), b.batchSize)
		funnelLayer := layer.New(funnelOut)
		funnel := bridge.NewFunnelBridge("FUNNEL", b.prevLayers, funnelLayer)
		b.bridges = append(b.bridges, funnel)
		b.curD *= len(b.prevLayers)
		b.prevLayers = []*layer.Layer{funnelLayer}
	}

	OD := l.InnerProduct.NumOutput
	outCube := cube.New(1, 1, OD, b.batchSize)
	outLayer := layer.New(outCube)
	factory := func(si, so *layer.Layer, model, bias *cube.LogicalCube) bridge.Bridge {
		return bridge.NewFullyConnectedBridgeShared(l.Name, si, so, b.drv, OD, true, model, bias)
	}
	pb := parallel.New(l.Name, b.prevLayers[0], outLayer, fcOuterShards, factory, b.drv, b.fcInnerThreads)
	b.bridges = append(b.bridges, pb)
	b.curD = OD
	b.curR, b.curC = 1, 1
	b.prevLayers = []*layer.Layer{outLayer}
	return nil
}

// addPooling, like addConvolution, wraps each group's bridge in a
// ParallelizedBridge with a high outer shard count and a single inner
// thread rather than constructing it directly.
func (b *Builder) addPooling(l netconfig.Layer) error {
	if l.Pooling == nil {
		return fmt.Errorf("network: layer %s missing pooling_param", l.Name)
	}
	K, S := l.Pooling.KernelSize, l.Pooling.Stride
	oR := outSpatial(b.curR, K, 0, S)
	oC := outSpatial(b.curC, K, 0, S)
	next := make([]*layer.Layer, len(b.prevLayers))
	for i, in := range b.prevLayers {
		out := layer.New(cube.New(oR, oC, b.curD, b.batchSize))
		name := fmt.Sprintf("%s_%d", l.Name, i)
		factory := func(si, so *layer.Layer, _, _ *cube.LogicalCube) bridge.Bridge {
			return bridge.NewMaxPoolingBridge(name, si, so, b.drv, K, S)
		}
		pb := parallel.New(name, in, out, b.n, factory, b.drv, shardInnerThreads)
		b.bridges = append(b.bridges, pb)
		next[i] = out
	}
	b.prevLayers = next
	b.curR, b.curC = oR, oC
	return nil
}

// addReLU wraps each group's bridge the same way addPooling does.
func (b *Builder) addReLU(l netconfig.Layer) error {
	next := make([]*layer.Layer, len(b.prevLayers))
	for i, in := range b.prevLayers {
		out := layer.New(cube.New(b.curR, b.curC, b.curD, b.batchSize))
		name := fmt.Sprintf("%s_%d", l.Name, i)
		factory := func(si, so *layer.Layer, _, _ *cube.LogicalCube) bridge.Bridge {
			return bridge.NewReLUBridge(name, si, so, b.drv)
		}
		pb := parallel.New(name, in, out, b.n, factory, b.drv, shardInnerThreads)
		b.bridges = append(b.bridges, pb)
		next[i] = out
	}
	b.prevLayers = next
	return nil
}

// addLRN wraps each group's bridge the same way addPooling does.
func (b *Builder) addLRN(l netconfig.Layer) error {
	if l.LRN == nil {
		return fmt.Errorf("network: layer %s missing lrn_param", l.Name)
	}
	next := make([]*layer.Layer, len(b.prevLayers))
	for i, in := range b.prevLayers {
		out := layer.New(cube.New(b.curR, b.curC, b.curD, b.batchSize))
		name := fmt.Sprintf("%s_%d", l.Name, i)
		factory := func(si, so *layer.Layer, _, _ *cube.LogicalCube) bridge.Bridge {
			return bridge.NewLRNBridge(name, si, so, b.drv, l.LRN.Alpha, l.LRN.Beta, l.LRN.LocalSize)
		}
		pb := parallel.New(name, in, out, b.n, factory, b.drv, shardInnerThreads)
		b.bridges = append(b.bridges, pb)
		next[i] = out
	}
	b.prevLayers = next
	return nil
}

func (b *Builder) addDropout(l netconfig.Layer) error {
	if l.Dropout == nil {
		return fmt.Errorf("network: layer %s missing dropout_param", l.Name)
	}
	train := b.phase == netconfig.PhaseTrain
	next := make([]*layer.Layer, len(b.prevLayers))
	for i, in := range b.prevLayers {
		out := layer.New(cube.New(b.curR, b.curC, b.curD, b.batchSize))
		br := bridge.NewDropoutBridge(fmt.Sprintf("%s_%d", l.Name, i), in, out, b.drv, l.Dropout.DropoutRatio, train)
		b.bridges = append(b.bridges, br)
		next[i] = out
	}
	b.prevLayers = next
	return nil
}

func (b *Builder) addSoftmax(l netconfig.Layer) error {
	if len(b.prevLayers) != 1 {
		return fmt.Errorf("network: SOFTMAX_LOSS requires a single group, found %d", len(b.prevLayers))
	}
	out := layer.New(cube.New(1, 1, b.curD, b.batchSize))
	br := bridge.NewSoftmaxLossBridge(l.Name, b.prevLayers[0], out, b.drv, b.labels)
	b.bridges = append(b.bridges, br)
	b.softmax = br
	b.prevLayers = []*layer.Layer{out}
	return nil
}
