package kernel

import (
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
)

// Params captures everything a lowering/inverse-lowering destination-index
// function needs: kernel size, input spatial size, output spatial size,
// padding and stride. This is the closure-like object design notes call
// for in place of the source's templated function pointers.
type Params struct {
	K, P, S    int
	IR, IC, ID int
	OR, OC     int
}

// ColIndex decodes a flattened (batch, out_row, out_col) column index.
func (p Params) ColIndex(col int) (b, orow, ocol int) {
	perBatch := p.OR * p.OC
	b = col / perBatch
	rem := col % perBatch
	orow = rem / p.OC
	ocol = rem % p.OC
	return
}

// ColCount is oR*oC*B for the given batch size.
func (p Params) ColCount(batch int) int { return p.OR * p.OC * batch }

// RowCount is K*K*iD (per group).
func (p Params) RowCount() int { return p.K * p.K * p.ID }

// Lower builds the im2col matrix M of shape (K*K*iD) x (oR*oC*B): each
// column holds the receptive field for one (output row, output col,
// batch) triple, zero-padded where the field falls outside the input.
// Columns are independent, so this parallelizes over columns directly.
func Lower(drv driver.Driver, input *cube.LogicalCube, p Params) *Matrix {
	cols := p.ColCount(input.B)
	m := NewMatrix(p.RowCount(), cols)

	drv.ParallelFor(cols, func(col int) {
		b, orow, ocol := p.ColIndex(col)
		inR0 := orow*p.S - p.P
		inC0 := ocol*p.S - p.P
		for d := 0; d < p.ID; d++ {
			for kr := 0; kr < p.K; kr++ {
				r := inR0 + kr
				for kc := 0; kc < p.K; kc++ {
					c := inC0 + kc
					row := (d*p.K+kr)*p.K + kc
					var v float32
					if r >= 0 && r < p.IR && c >= 0 && c < p.IC {
						v = input.Get(r, c, d, b)
					}
					m.Set(row, col, v)
				}
			}
		}
	})
	return m
}

// InverseLower scatters a lowered gradient matrix dM (same shape as
// Lower's output) back into an input-shaped gradient cube, summing
// contributions from overlapping receptive fields. Overlap can only
// occur within a single batch element (the batch axis never overlaps),
// so this parallelizes safely over batch rather than over columns.
func InverseLower(drv driver.Driver, dM *Matrix, p Params, batch int) *cube.LogicalCube {
	out := cube.New(p.IR, p.IC, p.ID, batch)

	drv.ParallelFor(batch, func(b int) {
		for orow := 0; orow < p.OR; orow++ {
			for ocol := 0; ocol < p.OC; ocol++ {
				col := (b*p.OR+orow)*p.OC + ocol
				inR0 := orow*p.S - p.P
				inC0 := ocol*p.S - p.P
				for d := 0; d < p.ID; d++ {
					for kr := 0; kr < p.K; kr++ {
						r := inR0 + kr
						if r < 0 || r >= p.IR {
							continue
						}
						for kc := 0; kc < p.K; kc++ {
							c := inC0 + kc
							if c < 0 || c >= p.IC {
								continue
							}
							row := (d*p.K+kr)*p.K + kc
							idx := ((b*p.ID+d)*p.IR+r)*p.IC + c
							out.Data[idx] += dM.At(row, col)
						}
					}
				}
			}
		}
	})
	return out
}
