// Package cube implements LogicalCube, the 4-D single-precision tensor
// that is the unit of data exchange across the bridge framework. Layout
// is fixed to CRDB: columns vary fastest, then rows, then depth, then
// batch.
package cube

import "fmt"

// LogicalCube is a 4-D tensor of shape (R, C, D, B) in CRDB physical
// order: index(r,c,d,b) = ((b*D+d)*R+r)*C+c.
type LogicalCube struct {
	Data       []float32
	R, C, D, B int

	// owned is false when Data is a window borrowed from another cube
	// (e.g. a per-batch-shard view); SetPData is only safe to reseat
	// borrowed buffers to another caller-owned buffer of the same size.
	owned bool
}

// New allocates a zeroed cube of shape (R, C, D, B).
func New(R, C, D, B int) *LogicalCube {
	n := R * C * D * B
	return &LogicalCube{Data: make([]float32, n), R: R, C: C, D: D, B: B, owned: true}
}

// Wrap constructs a cube that borrows an existing buffer without copying.
// len(data) must equal R*C*D*B.
func Wrap(data []float32, R, C, D, B int) *LogicalCube {
	n := R * C * D * B
	if len(data) != n {
		panic(fmt.Sprintf("cube.Wrap: buffer has %d elements, shape (%d,%d,%d,%d) needs %d", len(data), R, C, D, B, n))
	}
	return &LogicalCube{Data: data, R: R, C: C, D: D, B: B, owned: false}
}

// NElements returns R*C*D*B.
func (c *LogicalCube) NElements() int { return c.R * c.C * c.D * c.B }

func (c *LogicalCube) index(r, c2, d, b int) int {
	return ((b*c.D+d)*c.R+r)*c.C + c2
}

// Get reads the logical element at (r,c,d,b).
func (c *LogicalCube) Get(r, col, d, b int) float32 {
	return c.Data[c.index(r, col, d, b)]
}

// Set writes the logical element at (r,c,d,b).
func (c *LogicalCube) Set(r, col, d, b int, v float32) {
	c.Data[c.index(r, col, d, b)] = v
}

// PhysicalRCDSlice returns the contiguous R*C*D-length window holding
// batch element b's data. Guarantee: under CRDB this window is always
// contiguous (batch is the slowest-varying axis).
func (c *LogicalCube) PhysicalRCDSlice(b int) []float32 {
	n := c.R * c.C * c.D
	start := b * n
	return c.Data[start : start+n]
}

// SetPData reseats the cube's buffer without reallocating shape metadata.
// The solver does not call it: the corpus reader copies each mini-batch
// straight into the first layer's existing data buffer. len(data) must
// match R*C*D*B.
func (c *LogicalCube) SetPData(data []float32) {
	if len(data) != c.NElements() {
		panic(fmt.Sprintf("cube.SetPData: buffer has %d elements, cube needs %d", len(data), c.NElements()))
	}
	c.Data = data
}

// View returns a cube that aliases this cube's buffer, restricted to
// the batch range [bStart, bEnd). Used by ParallelizedBridge to shard a
// mini-batch across child bridges without copying.
func (c *LogicalCube) View(bStart, bEnd int) *LogicalCube {
	if bStart < 0 || bEnd > c.B || bStart >= bEnd {
		panic(fmt.Sprintf("cube.View: invalid batch range [%d,%d) for B=%d", bStart, bEnd, c.B))
	}
	n := c.R * c.C * c.D
	return &LogicalCube{
		Data:  c.Data[bStart*n : bEnd*n],
		R:     c.R,
		C:     c.C,
		D:     c.D,
		B:     bEnd - bStart,
		owned: false,
	}
}

// Zero overwrites every element with 0.
func (c *LogicalCube) Zero() {
	for i := range c.Data {
		c.Data[i] = 0
	}
}

// SameShape reports whether two cubes have identical (R,C,D,B).
func SameShape(a, b *LogicalCube) bool {
	return a.R == b.R && a.C == b.C && a.D == b.D && a.B == b.B
}

// ShapeString renders shape as "(R,C,D,B)" for diagnostics/panics.
func (c *LogicalCube) ShapeString() string {
	return fmt.Sprintf("(%d,%d,%d,%d)", c.R, c.C, c.D, c.B)
}
