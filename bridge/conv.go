package bridge

import (
	"fmt"

	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/kernel"
	"github.com/muchq/deepbridge/layer"
)

// ConvolutionBridge lowers the input into a single GEMM operand and
// multiplies by the reshaped filter bank on forward; backward runs
// three GEMMs (weight grad, lowered input grad, bias grad) and an
// inverse-lowering scatter. Grouped convolutions are realized by the
// network builder constructing G independent ConvolutionBridge values,
// each seeing 1/G of the output depth; this type has no group field of
// its own.
type ConvolutionBridge struct {
	Base

	drv driver.Driver

	K, P, S    int
	IR, IC, ID int
	OD         int
	oR, oC     int

	Model      *cube.LogicalCube // (K,K,ID,OD)
	ModelGradC *cube.LogicalCube
	Bias       *cube.LogicalCube // (1,1,OD,1)
	BiasGradC  *cube.LogicalCube

	params  kernel.Params
	lowered *kernel.Matrix // cached M from the most recent Forward
}

// NewConvolutionBridge constructs a convolution bridge and Xavier-inits
// its weights (fan-in K*K*ID) with a zero bias.
func NewConvolutionBridge(name string, input, output *layer.Layer, drv driver.Driver, K, P, S, OD int, needsBackwardGrad bool) *ConvolutionBridge {
	return newConvolutionBridge(name, input, output, drv, K, P, S, OD, needsBackwardGrad, nil, nil)
}

// NewConvolutionBridgeShared builds a shard bridge that reads/writes an
// externally-owned model and bias cube instead of allocating its own,
// used by ParallelizedBridge so every shard forwards against the same
// canonical parameters while still accumulating into its own private
// gradient shard.
func NewConvolutionBridgeShared(name string, input, output *layer.Layer, drv driver.Driver, K, P, S, OD int, needsBackwardGrad bool, model, bias *cube.LogicalCube) *ConvolutionBridge {
	return newConvolutionBridge(name, input, output, drv, K, P, S, OD, needsBackwardGrad, model, bias)
}

func newConvolutionBridge(name string, input, output *layer.Layer, drv driver.Driver, K, P, S, OD int, needsBackwardGrad bool, sharedModel, sharedBias *cube.LogicalCube) *ConvolutionBridge {
	id := input.Data
	oR := (id.R+2*P-K)/S + 1
	oC := (id.C+2*P-K)/S + 1
	if output.Data.R != oR || output.Data.C != oC || output.Data.D != OD {
		panic(fmt.Sprintf("bridge.NewConvolutionBridge %s: output shape %s does not match expected (%d,%d,%d,%d)",
			name, output.Data.ShapeString(), oR, oC, OD, id.B))
	}

	model, bias := sharedModel, sharedBias
	if model == nil {
		model = cube.New(K, K, id.D, OD)
		drv.InitXavier(model.Data, K*K*id.D)
	}
	if bias == nil {
		bias = cube.New(1, 1, OD, 1)
		drv.InitConstant(bias.Data, 0)
	}
	modelGrad := cube.New(K, K, id.D, OD)
	biasGrad := cube.New(1, 1, OD, 1)

	return &ConvolutionBridge{
		Base:       NewBase(name, input, output, needsBackwardGrad),
		drv:        drv,
		K:          K,
		P:          P,
		S:          S,
		IR:         id.R,
		IC:         id.C,
		ID:         id.D,
		OD:         OD,
		oR:         oR,
		oC:         oC,
		Model:      model,
		ModelGradC: modelGrad,
		Bias:       bias,
		BiasGradC:  biasGrad,
		params: kernel.Params{
			K: K, P: P, S: S,
			IR: id.R, IC: id.C, ID: id.D,
			OR: oR, OC: oC,
		},
	}
}

func (c *ConvolutionBridge) ModelCube() *cube.LogicalCube { return c.Model }
func (c *ConvolutionBridge) ModelGrad() *cube.LogicalCube { return c.ModelGradC }
func (c *ConvolutionBridge) BiasCube() *cube.LogicalCube  { return c.Bias }
func (c *ConvolutionBridge) BiasGrad() *cube.LogicalCube  { return c.BiasGradC }

// SetCurrBatchSize drops the cached lowered matrix in addition to the
// default reseat, since its column count is sized by batch.
func (c *ConvolutionBridge) SetCurrBatchSize(n int) {
	c.Base.SetCurrBatchSize(n)
	c.lowered = nil
}

// Forward implements O = W*M + b, where W is the model cube reinterpreted
// as an (OD) x (K*K*ID) matrix. CRDB physical order makes this
// reinterpretation free: model.PhysicalRCDSlice(outChannel) is exactly
// the K*K*ID row kernel.Lower indexes with row=(d*K+kr)*K+kc.
func (c *ConvolutionBridge) Forward() {
	c.Timer.Start()
	defer c.Timer.Stop()

	in := c.InputL.Data
	M := kernel.Lower(c.drv, in, c.params)
	c.lowered = M

	rowLen := c.K * c.K * c.ID
	out := kernel.NewMatrix(c.OD, M.Cols)
	c.drv.Gemm(false, false, c.OD, M.Cols, rowLen, 1.0, c.Model.Data, rowLen, M.Data, M.Cols, 0.0, out.Data, out.Cols)

	c.drv.ParallelFor(c.OD, func(d int) {
		bias := c.Bias.Data[d]
		for col := 0; col < out.Cols; col++ {
			b, orow, ocol := c.params.ColIndex(col)
			c.OutputL.Data.Set(orow, ocol, d, b, out.At(d, col)+bias)
		}
	})
	c.Timer.AddFLOPs(int64(2 * c.OD * M.Rows * M.Cols))
}

// Backward runs the weight-gradient, input-gradient and bias-gradient
// products plus the inverse lowering scatter.
func (c *ConvolutionBridge) Backward() {
	c.Timer.Start()
	defer c.Timer.Stop()

	og := c.OutputL.Grad
	cols := c.lowered.Cols
	rowLen := c.K * c.K * c.ID

	dO := kernel.NewMatrix(c.OD, cols)
	c.drv.ParallelFor(c.OD, func(d int) {
		for col := 0; col < cols; col++ {
			b, orow, ocol := c.params.ColIndex(col)
			dO.Set(d, col, og.Get(orow, ocol, d, b))
		}
	})

	// dW += dO * M^T
	c.drv.Gemm(false, true, c.OD, rowLen, cols, 1.0, dO.Data, dO.Cols, c.lowered.Data, c.lowered.Cols, 1.0, c.ModelGradC.Data, rowLen)

	// db += row sums of dO
	for d := 0; d < c.OD; d++ {
		c.BiasGradC.Data[d] += driver.Sum(dO.Data[d*cols : (d+1)*cols])
	}

	if !c.NeedsGrad {
		return
	}

	// dM = W^T * dO
	dM := kernel.NewMatrix(rowLen, cols)
	c.drv.Gemm(true, false, rowLen, cols, c.OD, 1.0, c.Model.Data, rowLen, dO.Data, dO.Cols, 0.0, dM.Data, dM.Cols)

	gradInput := kernel.InverseLower(c.drv, dM, c.params, c.InputL.Grad.B)
	copy(c.InputL.Grad.Data, gradInput.Data)
}
