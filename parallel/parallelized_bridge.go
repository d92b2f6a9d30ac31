// Package parallel implements ParallelizedBridge, a mini-batch-sharded
// wrapper that presents n inner bridges as a single outward-facing
// bridge, owning the canonical model/bias and reducing per-shard
// gradients deterministically.
package parallel

import (
	"fmt"
	"sync"

	"github.com/muchq/deepbridge/bridge"
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
	"github.com/muchq/deepbridge/report"
)

// Factory builds one shard's bridge given the shard's input/output
// layers (views over the parent's cubes) plus the canonical model/bias
// cube to forward against. sharedModel/sharedBias are nil on the very
// first call (that call's returned bridge.ModelCube()/BiasCube()
// become canonical); for bridges with parameters they are non-nil on
// every subsequent call, so shards 1..n-1 must construct their bridge
// against exactly those cubes instead of allocating their own (e.g. via
// a bridge package's "…Shared" constructor). For parameterless bridges
// they stay nil on every call.
type Factory func(shardInput, shardOutput *layer.Layer, sharedModel, sharedBias *cube.LogicalCube) bridge.Bridge

// ParallelizedBridge shards a mini-batch across n child bridges along
// the batch axis. Children share the canonical model/bias cubes
// read-only on forward and hold independent gradient shards reduced
// into the canonical gradient after backward.
type ParallelizedBridge struct {
	name string
	n    int

	parentInput  *layer.Layer
	parentOutput *layer.Layer

	children []bridge.Bridge

	// shardSizes holds each child's full-batch shard width; curSizes is
	// the per-child width under the current (possibly truncated) batch.
	// A child whose current width is zero is skipped by Forward/Backward
	// until SetCurrBatchSize restores it.
	shardSizes []int
	curSizes   []int

	// canonicalModelGrad/canonicalBiasGrad are owned by the
	// ParallelizedBridge itself, distinct from any child's own
	// accumulator. Reduction sums every child's shard into these, then
	// zeroes the children's shards so the next backward's "+="
	// accumulation starts clean.
	canonicalModel     *cube.LogicalCube
	canonicalBias      *cube.LogicalCube
	canonicalModelGrad *cube.LogicalCube
	canonicalBiasGrad  *cube.LogicalCube

	// drv/innerThreads realize the second, finer level of the two-level
	// concurrency model: every Forward/Backward pins the
	// shared driver to innerThreads before dispatching its n outer
	// shards, so a bridge type that wants high outer/low inner
	// parallelism (conv/pool/ReLU/LRN) and one that wants the reverse
	// (FC) can coexist on one process-wide driver, since bridges in a
	// Network execute one at a time.
	drv          driver.Driver
	innerThreads int

	timer *report.Timer
}

// New shards parentInput/parentOutput's batch axis into n near-equal
// pieces and invokes factory once per shard to build each child
// bridge. n need not evenly divide the batch size;
// shards differ in size by at most one when B is not a multiple of n.
// drv/innerThreads record this bridge's intra-kernel thread budget,
// applied via RunWithNThreads at the start of every Forward/Backward.
func New(name string, parentInput, parentOutput *layer.Layer, n int, factory Factory, drv driver.Driver, innerThreads int) *ParallelizedBridge {
	if n < 1 {
		panic(fmt.Sprintf("parallel.New %s: n must be >= 1, got %d", name, n))
	}
	b := parentInput.Data.B
	if parentOutput.Data.B != b {
		panic(fmt.Sprintf("parallel.New %s: input batch %d != output batch %d", name, b, parentOutput.Data.B))
	}

	children := make([]bridge.Bridge, 0, n)
	shardSizes := make([]int, 0, n)
	var canonicalModel, canonicalBias *cube.LogicalCube
	shardStart := 0
	base := b / n
	rem := b % n
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		if size == 0 {
			continue
		}
		shardEnd := shardStart + size
		shardIn := layer.NewWithGrad(parentInput.Data.View(shardStart, shardEnd), parentInput.Grad.View(shardStart, shardEnd))
		shardOut := layer.NewWithGrad(parentOutput.Data.View(shardStart, shardEnd), parentOutput.Grad.View(shardStart, shardEnd))
		child := factory(shardIn, shardOut, canonicalModel, canonicalBias)
		if canonicalModel == nil {
			canonicalModel = child.ModelCube()
			canonicalBias = child.BiasCube()
		}
		children = append(children, child)
		shardSizes = append(shardSizes, size)
		shardStart = shardEnd
	}

	curSizes := make([]int, len(shardSizes))
	copy(curSizes, shardSizes)

	pb := &ParallelizedBridge{
		name:           name,
		n:              len(children),
		parentInput:    parentInput,
		parentOutput:   parentOutput,
		children:       children,
		shardSizes:     shardSizes,
		curSizes:       curSizes,
		canonicalModel: canonicalModel,
		canonicalBias:  canonicalBias,
		drv:            drv,
		innerThreads:   innerThreads,
		timer:          report.NewTimer(name),
	}
	if len(children) > 0 {
		if mg := children[0].ModelGrad(); mg != nil {
			pb.canonicalModelGrad = cube.New(mg.R, mg.C, mg.D, mg.B)
		}
		if bg := children[0].BiasGrad(); bg != nil {
			pb.canonicalBiasGrad = cube.New(bg.R, bg.C, bg.D, bg.B)
		}
	}
	return pb
}

func (p *ParallelizedBridge) Name() string              { return p.name }
func (p *ParallelizedBridge) Report() *report.Timer     { return p.timer }
func (p *ParallelizedBridge) InputLayer() *layer.Layer  { return p.parentInput }
func (p *ParallelizedBridge) OutputLayer() *layer.Layer { return p.parentOutput }
func (p *ParallelizedBridge) NeedsBackwardGrad() bool {
	if len(p.children) == 0 {
		return false
	}
	return p.children[0].NeedsBackwardGrad()
}
func (p *ParallelizedBridge) ModelCube() *cube.LogicalCube { return p.canonicalModel }
func (p *ParallelizedBridge) ModelGrad() *cube.LogicalCube { return p.canonicalModelGrad }
func (p *ParallelizedBridge) BiasCube() *cube.LogicalCube  { return p.canonicalBias }
func (p *ParallelizedBridge) BiasGrad() *cube.LogicalCube  { return p.canonicalBiasGrad }

// Forward dispatches all children concurrently and blocks until every
// shard completes.
func (p *ParallelizedBridge) Forward() {
	p.timer.Start()
	defer p.timer.Stop()

	RunWithNThreads(p.drv, p.innerThreads)

	var wg sync.WaitGroup
	for i, c := range p.children {
		if p.curSizes[i] == 0 {
			continue
		}
		wg.Add(1)
		go func(c bridge.Bridge) {
			defer wg.Done()
			c.Forward()
		}(c)
	}
	wg.Wait()
}

// Backward dispatches all children concurrently, then reduces their
// weight/bias gradients into the canonical gradient cubes in fixed
// shard order after all children have finished, so the reduction is
// deterministic and never races a running child.
func (p *ParallelizedBridge) Backward() {
	p.timer.Start()
	defer p.timer.Stop()

	RunWithNThreads(p.drv, p.innerThreads)

	var wg sync.WaitGroup
	for i, c := range p.children {
		if p.curSizes[i] == 0 {
			continue
		}
		wg.Add(1)
		go func(c bridge.Bridge) {
			defer wg.Done()
			c.Backward()
		}(c)
	}
	wg.Wait()

	p.reduceGradients()
}

// SetCurrBatchSize truncates the parent layers to the trailing partial
// batch and redistributes it across children in shard order: each child
// keeps its full width until the new batch runs out, so a shorter batch
// deactivates the tail shards (their width drops to zero) rather than
// re-slicing every shard. The shard views were cut from the front of
// the parent's buffer in the same order the batch is filled, so the
// active prefix of children covers exactly the n loaded examples.
func (p *ParallelizedBridge) SetCurrBatchSize(n int) {
	p.parentInput.SetCurrBatchSize(n)
	p.parentOutput.SetCurrBatchSize(n)

	remaining := n
	for i, c := range p.children {
		size := p.shardSizes[i]
		if size > remaining {
			size = remaining
		}
		p.curSizes[i] = size
		if size > 0 {
			c.SetCurrBatchSize(size)
		}
		remaining -= size
	}
}

// reduceGradients sums every child's independent model/bias gradient
// shard into the canonical gradient, in fixed shard order so the sum
// is deterministic, then zeroes each child's shard so
// the next backward's "+=" accumulation starts from zero. Every child
// shares the *same* canonical model/bias cube (Factory's contract), so
// only the gradients, never the parameters, need reducing here.
func (p *ParallelizedBridge) reduceGradients() {
	if p.canonicalModelGrad != nil {
		p.canonicalModelGrad.Zero()
	}
	if p.canonicalBiasGrad != nil {
		p.canonicalBiasGrad.Zero()
	}
	for _, c := range p.children {
		if p.canonicalModelGrad != nil {
			cmg := c.ModelGrad()
			for j, v := range cmg.Data {
				p.canonicalModelGrad.Data[j] += v
			}
			cmg.Zero()
		}
		if p.canonicalBiasGrad != nil {
			cbg := c.BiasGrad()
			for j, v := range cbg.Data {
				p.canonicalBiasGrad.Data[j] += v
			}
			cbg.Zero()
		}
	}
}

// RunWithNThreads caps the intra-kernel thread count on drv, the
// second, finer level of the two-level concurrency model. Called by
// Forward/Backward with each ParallelizedBridge's own innerThreads
// before dispatching its outer shards: conv/pool/ReLU/LRN bridges are
// built with a low innerThreads (they get their parallelism from a
// high outer shard count n instead), while FC is built with n=1 and a
// high innerThreads, the reverse split.
func RunWithNThreads(drv driver.Driver, n int) {
	drv.SetNumThreads(n)
}
