// Package corpus reads the flat little-endian single-precision data
// binary: per image, n_rows*n_cols*dim floats in CRDB order, followed
// by its label as one float.
package corpus

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/muchq/deepbridge/cube"
)

// Corpus streams fixed-size mini-batches of images and labels out of a
// data binary, refilling caller-owned cube buffers in place rather than
// allocating per batch.
type Corpus struct {
	r      io.Reader
	closer io.Closer

	nRows, nCols, dim int
	imageFloats       int // nRows*nCols*dim, one image's float count

	imageBuf []float32
	labelBuf []float32

	exhausted bool
}

// Open opens the data binary at path for streaming. nRows/nCols/dim
// must match the DATA layer's data_param; the corpus format carries
// no header of its own.
func Open(path string, nRows, nCols, dim int) (*Corpus, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("corpus: opening %s: %w", path, err)
	}
	return newCorpus(f, f, nRows, nCols, dim), nil
}

// NewFromReader builds a Corpus over an already-open reader (used by
// tests to avoid touching the filesystem); the caller retains
// ownership of closing r if it implements io.Closer.
func NewFromReader(r io.Reader, nRows, nCols, dim int) *Corpus {
	closer, _ := r.(io.Closer)
	return newCorpus(r, closer, nRows, nCols, dim)
}

func newCorpus(r io.Reader, closer io.Closer, nRows, nCols, dim int) *Corpus {
	return &Corpus{
		r:           r,
		closer:      closer,
		nRows:       nRows,
		nCols:       nCols,
		dim:         dim,
		imageFloats: nRows * nCols * dim,
	}
}

// Close releases the underlying file, if any.
func (c *Corpus) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Exhausted reports whether the previous NextBatch hit clean end-of-
// stream at a record boundary, whether or not it still filled a
// trailing partial batch; this is the signal to end the epoch.
func (c *Corpus) Exhausted() bool { return c.exhausted }

// NextBatch reads up to batchSize examples into images/labels, whose
// shapes must be (nRows, nCols, dim, batchSize) and (1, 1, 1,
// batchSize) respectively. It returns the number of examples actually
// read, which is fewer than batchSize whenever end-of-stream falls on
// an example boundary, including zero for the final, possibly empty,
// partial mini-batch; the caller is expected to call
// SetCurrBatchSize(n) on every bridge when n is smaller than
// batchSize. A short read strictly inside an example (not on an
// example boundary) is an I/O error, distinct from the clean
// end-of-stream case.
func (c *Corpus) NextBatch(images, labels *cube.LogicalCube) (int, error) {
	if images.R != c.nRows || images.C != c.nCols || images.D != c.dim {
		return 0, fmt.Errorf("corpus: images cube shape %s does not match corpus (%d,%d,%d,*)", images.ShapeString(), c.nRows, c.nCols, c.dim)
	}
	batchSize := images.B
	if labels.B != batchSize {
		return 0, fmt.Errorf("corpus: images batch %d != labels batch %d", batchSize, labels.B)
	}

	if cap(c.imageBuf) < c.imageFloats {
		c.imageBuf = make([]float32, c.imageFloats)
	}
	if cap(c.labelBuf) < 1 {
		c.labelBuf = make([]float32, 1)
	}
	c.imageBuf = c.imageBuf[:c.imageFloats]
	c.labelBuf = c.labelBuf[:1]

	imgSlab := images.Data
	lblSlab := labels.Data

	n := 0
	for n < batchSize {
		if err := binary.Read(c.r, binary.LittleEndian, c.imageBuf); err != nil {
			if err == io.EOF {
				// Clean end of stream at a record boundary: whatever
				// was read so far (possibly zero) is a valid, if
				// partial, trailing mini-batch.
				c.exhausted = true
				return n, nil
			}
			return n, fmt.Errorf("corpus: short read on image %d: %w", n, err)
		}
		if err := binary.Read(c.r, binary.LittleEndian, c.labelBuf); err != nil {
			return n, fmt.Errorf("corpus: short read on label %d: %w", n, err)
		}
		copy(imgSlab[n*c.imageFloats:(n+1)*c.imageFloats], c.imageBuf)
		lblSlab[n] = c.labelBuf[0]
		n++
	}
	return n, nil
}
