package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

func TestSoftmaxLossBridgeForwardPositiveLoss(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(1, 1, 3, 2))
	out := layer.New(cube.New(1, 1, 3, 2))
	labels := cube.New(1, 1, 1, 2)
	labels.Set(0, 0, 0, 0, 0)
	labels.Set(0, 0, 0, 1, 2)

	s := NewSoftmaxLossBridge("loss", in, out, drv, labels)
	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i) * 0.1
	}
	s.Forward()
	assert.Greater(t, s.GetLoss(), float32(0))

	s.ResetLoss()
	assert.Equal(t, float32(0), s.GetLoss())
}

func TestSoftmaxLossBridgeBackwardIsProbsMinusOnehot(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(1, 1, 3, 1))
	out := layer.New(cube.New(1, 1, 3, 1))
	labels := cube.New(1, 1, 1, 1)
	labels.Set(0, 0, 0, 0, 1)

	s := NewSoftmaxLossBridge("loss", in, out, drv, labels)
	in.Data.Set(0, 0, 0, 0, 0.2)
	in.Data.Set(0, 0, 1, 0, 0.5)
	in.Data.Set(0, 0, 2, 0, 0.3)
	s.Forward()
	s.Backward()

	var sum float32
	for d := 0; d < 3; d++ {
		g := in.Grad.Get(0, 0, d, 0)
		p := s.probs.Get(0, 0, d, 0)
		if d == 1 {
			assert.InDelta(t, p-1, g, 1e-6)
		} else {
			assert.InDelta(t, p, g, 1e-6)
		}
		sum += g
	}
	assert.InDelta(t, float32(0), sum, 1e-5, "dx should sum to zero since probs sum to 1 and onehot sums to 1")
}

func TestSoftmaxLossBridgeTopKCorrect(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(1, 1, 4, 1))
	out := layer.New(cube.New(1, 1, 4, 1))
	labels := cube.New(1, 1, 1, 1)
	labels.Set(0, 0, 0, 0, 3)

	s := NewSoftmaxLossBridge("loss", in, out, drv, labels)
	in.Data.Set(0, 0, 0, 0, 5)
	in.Data.Set(0, 0, 1, 0, 4)
	in.Data.Set(0, 0, 2, 0, 3)
	in.Data.Set(0, 0, 3, 0, 2)
	s.Forward()

	assert.Equal(t, 0, s.Top1Correct())
	assert.Equal(t, 0, s.TopKCorrect(3))
	assert.Equal(t, 1, s.TopKCorrect(4))
}
