// Package layer defines Layer, the data+gradient cube pair that wires
// adjacent bridges together.
package layer

import (
	"fmt"

	"github.com/muchq/deepbridge/cube"
)

// Layer pairs a data cube (activations) with a grad cube (the loss
// gradient with respect to those activations). Both are provided at
// construction; a Layer does not own them transitively across bridges;
// each bridge holds a reference to its input and output Layer.
//
// Data and Grad are the *currently active* view, which may be a
// batch-truncated window of baseData/baseGrad (see SetCurrBatchSize);
// the base cubes are retained so the view can be restored to full batch
// size at the start of the next epoch.
type Layer struct {
	Data *cube.LogicalCube
	Grad *cube.LogicalCube

	baseData *cube.LogicalCube
	baseGrad *cube.LogicalCube
}

// New constructs a Layer from an existing data cube, allocating a
// same-shaped grad cube.
func New(data *cube.LogicalCube) *Layer {
	grad := cube.New(data.R, data.C, data.D, data.B)
	return &Layer{Data: data, Grad: grad, baseData: data, baseGrad: grad}
}

// NewWithGrad constructs a Layer from explicit data and grad cubes,
// panicking if their shapes disagree.
func NewWithGrad(data, grad *cube.LogicalCube) *Layer {
	if !cube.SameShape(data, grad) {
		panic(fmt.Sprintf("layer.NewWithGrad: data shape %s != grad shape %s", data.ShapeString(), grad.ShapeString()))
	}
	return &Layer{Data: data, Grad: grad, baseData: data, baseGrad: grad}
}

// SetCurrBatchSize reseats both cubes' batch window to the first b
// batch slots of the full-size base cubes, used for the trailing
// partial mini-batch. Passing the full configured batch size restores
// the unrestricted view.
func (l *Layer) SetCurrBatchSize(b int) {
	if b == l.baseData.B {
		l.Data = l.baseData
		l.Grad = l.baseGrad
		return
	}
	l.Data = l.baseData.View(0, b)
	l.Grad = l.baseGrad.View(0, b)
}
