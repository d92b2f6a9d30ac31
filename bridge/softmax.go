package bridge

import (
	"math"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/kernel"
	"github.com/muchq/deepbridge/layer"
)

// SoftmaxLossBridge computes per-sample softmax probabilities and
// accumulates the negative log-likelihood loss over a (1,1,iD,B) cube
// where iD is the class count; Labels holds one float class index
// per batch element, refilled in place by the corpus reader each
// mini-batch the same way the data layer's images are.
type SoftmaxLossBridge struct {
	Base

	drv    driver.Driver
	Labels *cube.LogicalCube

	baseLabels *cube.LogicalCube
	probs      *cube.LogicalCube
	loss       float32
}

func NewSoftmaxLossBridge(name string, input, output *layer.Layer, drv driver.Driver, labels *cube.LogicalCube) *SoftmaxLossBridge {
	return &SoftmaxLossBridge{
		Base:       NewBase(name, input, output, true),
		drv:        drv,
		Labels:     labels,
		baseLabels: labels,
	}
}

// SetCurrBatchSize reseats Labels to the truncated batch window in
// addition to the default InputL/OutputL reseat: the label stream is
// not itself a Layer, so it would otherwise be left at the full
// configured batch size on a trailing partial mini-batch.
func (s *SoftmaxLossBridge) SetCurrBatchSize(n int) {
	s.Base.SetCurrBatchSize(n)
	if n == s.baseLabels.B {
		s.Labels = s.baseLabels
	} else {
		s.Labels = s.baseLabels.View(0, n)
	}
}

func (s *SoftmaxLossBridge) Forward() {
	s.Timer.Start()
	defer s.Timer.Stop()

	p := kernel.SoftmaxForward(s.drv, s.InputL.Data)
	s.probs = p
	copy(s.OutputL.Data.Data, p.Data)

	var loss float32
	for b := 0; b < p.B; b++ {
		label := int(s.Labels.Get(0, 0, 0, b))
		pl := p.Get(0, 0, label, b)
		loss -= float32(math.Log(float64(pl)))
	}
	s.loss += loss
}

// Backward seeds dx = p - onehot(label); there is no upstream gradient
// to combine with since the loss is the top of the network.
func (s *SoftmaxLossBridge) Backward() {
	s.Timer.Start()
	defer s.Timer.Stop()

	gradIn := s.InputL.Grad
	for b := 0; b < s.probs.B; b++ {
		label := int(s.Labels.Get(0, 0, 0, b))
		for d := 0; d < s.probs.D; d++ {
			dx := s.probs.Get(0, 0, d, b)
			if d == label {
				dx -= 1
			}
			gradIn.Set(0, 0, d, b, dx)
		}
	}
}

// GetLoss returns the loss accumulated since the last ResetLoss.
func (s *SoftmaxLossBridge) GetLoss() float32 { return s.loss }

// ResetLoss zeroes the accumulator, called by the solver at the start
// of each mini-batch.
func (s *SoftmaxLossBridge) ResetLoss() { s.loss = 0 }

// Top1Correct counts predictions whose highest-probability class
// matches the batch's label, for accuracy reporting.
func (s *SoftmaxLossBridge) Top1Correct() int {
	return s.TopKCorrect(1)
}

// TopKCorrect counts predictions whose label falls among the k
// highest-probability classes.
func (s *SoftmaxLossBridge) TopKCorrect(k int) int {
	if k < 1 {
		k = 1
	}
	if k > s.probs.D {
		k = s.probs.D
	}
	correct := 0
	for b := 0; b < s.probs.B; b++ {
		label := int(s.Labels.Get(0, 0, 0, b))
		labelProb := s.probs.Get(0, 0, label, b)
		rank := 0
		for d := 0; d < s.probs.D; d++ {
			if s.probs.Get(0, 0, d, b) > labelProb {
				rank++
			}
		}
		if rank < k {
			correct++
		}
	}
	return correct
}
