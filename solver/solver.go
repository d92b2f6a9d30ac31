// Package solver drives the training/evaluation loop: stream
// mini-batches out of a corpus.Corpus into a built network.Network,
// run forward/backward sweeps, and apply the configured
// SGD-with-momentum update rule, repeating until max_iter is reached.
package solver

import (
	"fmt"

	"github.com/muchq/deepbridge/bridge"
	"github.com/muchq/deepbridge/corpus"
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/netconfig"
	"github.com/muchq/deepbridge/network"
)

// Solver owns the per-bridge momentum velocity state that the
// bridge/network packages don't need to know about, keyed by the
// bridge's identity (the interface value's underlying pointer).
type Solver struct {
	cfg netconfig.Solver
	drv driver.Driver

	velModel     map[bridge.Bridge]*cube.LogicalCube
	velBias      map[bridge.Bridge]*cube.LogicalCube
	scratchModel map[bridge.Bridge]*cube.LogicalCube // grad + weight_decay*model, reused per bridge
	scratchBias  map[bridge.Bridge]*cube.LogicalCube
}

// New constructs a Solver against a parsed solver config and driver.
func New(cfg netconfig.Solver, drv driver.Driver) *Solver {
	return &Solver{
		cfg:          cfg,
		drv:          drv,
		velModel:     make(map[bridge.Bridge]*cube.LogicalCube),
		velBias:      make(map[bridge.Bridge]*cube.LogicalCube),
		scratchModel: make(map[bridge.Bridge]*cube.LogicalCube),
		scratchBias:  make(map[bridge.Bridge]*cube.LogicalCube),
	}
}

// BatchResult reports one mini-batch's outcome.
type BatchResult struct {
	Iteration int
	Loss      float32
	Correct   int
	BatchSize int
}

// TrainStats summarizes a full Train call.
type TrainStats struct {
	Iterations   int
	FinalLoss    float32
	LastAccuracy float64
}

// Train runs mini-batch SGD against net until cfg.MaxIter iterations
// have executed, re-opening the corpus binary at dataPath for a fresh
// epoch each time the previous pass is exhausted. onBatch, if non-nil,
// is called after every mini-batch for progress reporting.
func (s *Solver) Train(net *network.Network, dataPath string, onBatch func(BatchResult)) (TrainStats, error) {
	batchSize := net.Input.Data.B
	nRows, nCols, dim := net.Input.Data.R, net.Input.Data.C, net.Input.Data.D

	var stats TrainStats
	iter := 0
	for iter < s.cfg.MaxIter {
		c, err := corpus.Open(dataPath, nRows, nCols, dim)
		if err != nil {
			return stats, err
		}

		epochStart := iter
		for iter < s.cfg.MaxIter {
			restoreBatchSize(net, batchSize)
			n, err := c.NextBatch(net.Input.Data, net.Labels)
			if err != nil {
				c.Close()
				return stats, err
			}
			if n == 0 {
				break
			}
			if n != batchSize {
				restoreBatchSize(net, n)
			}

			loss, correct := s.runBatch(net)
			s.applyUpdate(net, s.cfg.EffectiveLR(iter))

			iter++
			stats.Iterations = iter
			stats.FinalLoss = loss
			stats.LastAccuracy = float64(correct) / float64(n)
			if onBatch != nil {
				onBatch(BatchResult{Iteration: iter, Loss: loss, Correct: correct, BatchSize: n})
			}
		}
		c.Close()
		if iter == epochStart {
			return stats, fmt.Errorf("solver: corpus at %s produced no examples", dataPath)
		}
	}
	return stats, nil
}

// Evaluate runs one full pass over dataPath in inference mode (no
// backward, no update) and returns the overall top-k accuracy. net must
// have been built with netconfig.PhaseTest so DROPOUT layers are absent.
func (s *Solver) Evaluate(net *network.Network, dataPath string, k int) (float64, error) {
	batchSize := net.Input.Data.B
	nRows, nCols, dim := net.Input.Data.R, net.Input.Data.C, net.Input.Data.D

	c, err := corpus.Open(dataPath, nRows, nCols, dim)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	var total, correct int
	for {
		restoreBatchSize(net, batchSize)
		n, err := c.NextBatch(net.Input.Data, net.Labels)
		if err != nil {
			return 0, err
		}
		if n == 0 {
			break
		}
		if n != batchSize {
			restoreBatchSize(net, n)
		}

		net.Softmax.ResetLoss()
		for _, br := range net.Bridges {
			br.Forward()
		}
		correct += net.Softmax.TopKCorrect(k)
		total += n
	}
	if total == 0 {
		return 0, fmt.Errorf("solver: corpus at %s produced no examples", dataPath)
	}
	return float64(correct) / float64(total), nil
}

func restoreBatchSize(net *network.Network, n int) {
	net.Input.SetCurrBatchSize(n)
	for _, br := range net.Bridges {
		br.SetCurrBatchSize(n)
	}
}

// runBatch executes one forward sweep (front-to-back, list order) and
// one backward sweep (reverse order), returning the batch's total loss
// and top-1 correct count.
func (s *Solver) runBatch(net *network.Network) (loss float32, correct int) {
	net.Softmax.ResetLoss()
	for _, br := range net.Bridges {
		br.Forward()
	}
	loss = net.Softmax.GetLoss()
	correct = net.Softmax.Top1Correct()

	for i := len(net.Bridges) - 1; i >= 0; i-- {
		net.Bridges[i].Backward()
	}
	return loss, correct
}

// applyUpdate runs the parameter update for every bridge that owns a
// model: velocity-form SGD with momentum and L2
// weight decay, reducing to bare "model -= lr*grad" when both are
// zero. v = momentum*v - lr*(grad + weight_decay*model); model += v.
func (s *Solver) applyUpdate(net *network.Network, lr float32) {
	for _, br := range net.Bridges {
		s.updateParam(br, br.ModelCube(), br.ModelGrad(), lr, s.velModel, s.scratchModel)
		s.updateParam(br, br.BiasCube(), br.BiasGrad(), lr, s.velBias, s.scratchBias)
	}
}

func (s *Solver) updateParam(br bridge.Bridge, param, grad *cube.LogicalCube, lr float32, vel, scratch map[bridge.Bridge]*cube.LogicalCube) {
	if param == nil || grad == nil {
		return
	}
	v, ok := vel[br]
	if !ok {
		v = cube.New(param.R, param.C, param.D, param.B)
		vel[br] = v
	}

	eff := grad.Data
	if s.cfg.WeightDecay != 0 {
		tmp, ok := scratch[br]
		if !ok {
			tmp = cube.New(param.R, param.C, param.D, param.B)
			scratch[br] = tmp
		}
		decay := s.cfg.WeightDecay
		s.drv.ElementwiseReduce2(tmp.Data, grad.Data, param.Data, func(g, m float32) float32 {
			return g + decay*m
		})
		eff = tmp.Data
	}

	s.drv.Axpby(-lr, eff, s.cfg.Momentum, v.Data)
	s.drv.Axpy(1.0, v.Data, param.Data)
}
