// Package kernel holds the pure math routines shared by bridges:
// im2col-style lowering and its inverse, max-pooling, local response
// normalization, and softmax. Bridges own the surrounding state (model
// cubes, counters, cached inputs); kernel functions are stateless given
// their inputs.
package kernel

// Matrix is a row-major 2-D float32 buffer used as a GEMM operand. It
// exists because the lowered convolution matrix and its gradient are
// genuinely 2-D and don't fit the fixed 4-D LogicalCube layout.
type Matrix struct {
	Data       []float32
	Rows, Cols int
}

// NewMatrix allocates a zeroed rows x cols matrix.
func NewMatrix(rows, cols int) *Matrix {
	return &Matrix{Data: make([]float32, rows*cols), Rows: rows, Cols: cols}
}

func (m *Matrix) At(r, c int) float32 { return m.Data[r*m.Cols+c] }

func (m *Matrix) Set(r, c int, v float32) { m.Data[r*m.Cols+c] = v }

func (m *Matrix) Add(r, c int, v float32) { m.Data[r*m.Cols+c] += v }
