package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

func TestMaxPoolingBridgeForwardBackward(t *testing.T) {
	drv := driver.NewCPUDriver()
	in := layer.New(cube.New(4, 4, 1, 1))
	out := layer.New(cube.New(2, 2, 1, 1))
	p := NewMaxPoolingBridge("pool", in, out, drv, 2, 2)

	for i := range in.Data.Data {
		in.Data.Data[i] = float32(i)
	}
	p.Forward()
	// Window (0,0) covers input rows/cols 0-1, max is at (1,1)=5.
	assert.Equal(t, float32(5), out.Data.Get(0, 0, 0, 0))

	for i := range out.Grad.Data {
		out.Grad.Data[i] = 1
	}
	p.Backward()
	var total float32
	for _, v := range in.Grad.Data {
		total += v
	}
	assert.InDelta(t, float32(4), total, 1e-6, "each of the 4 output cells routes exactly one unit of gradient")
}
