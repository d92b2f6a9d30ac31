package bridge

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

// NewFullyConnectedBridge builds a fully-connected layer as the
// degenerate convolution with K = iR = iC, P = 0, S = 1, so oR = oC = 1
// and the whole image is a single receptive field. Reusing
// ConvolutionBridge makes the conv/FC equivalence hold by construction
// rather than by coincidence between two separate implementations.
func NewFullyConnectedBridge(name string, input, output *layer.Layer, drv driver.Driver, OD int, needsBackwardGrad bool) *ConvolutionBridge {
	id := input.Data
	if id.R != id.C {
		panic("bridge.NewFullyConnectedBridge: input is not square, cannot treat as a single receptive field")
	}
	return NewConvolutionBridge(name, input, output, drv, id.R, 0, 1, OD, needsBackwardGrad)
}

// NewFullyConnectedBridgeShared is NewFullyConnectedBridge's
// externally-owned-parameter counterpart, for ParallelizedBridge shards
// (see NewConvolutionBridgeShared).
func NewFullyConnectedBridgeShared(name string, input, output *layer.Layer, drv driver.Driver, OD int, needsBackwardGrad bool, model, bias *cube.LogicalCube) *ConvolutionBridge {
	id := input.Data
	if id.R != id.C {
		panic("bridge.NewFullyConnectedBridgeShared: input is not square, cannot treat as a single receptive field")
	}
	return NewConvolutionBridgeShared(name, input, output, drv, id.R, 0, 1, OD, needsBackwardGrad, model, bias)
}
