// Package modelfile reads and writes the trained-parameter file: the
// concatenation, in bridge order, of each bridge's model_cube bytes
// followed by its bias_cube bytes, both in CRDB physical order,
// single-precision float. Bridges with no parameters (pooling, ReLU,
// LRN, dropout, funnel, softmax) contribute nothing. The format is a
// flat headerless concatenation, so a file only loads back into a
// network built with the identical architecture.
package modelfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/muchq/deepbridge/bridge"
)

// Write streams every bridge's model and bias cube, in order, to path.
func Write(path string, bridges []bridge.Bridge) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("modelfile: creating %s: %w", path, err)
	}
	defer f.Close()

	for _, b := range bridges {
		if m := b.ModelCube(); m != nil {
			if err := binary.Write(f, binary.LittleEndian, m.Data); err != nil {
				return fmt.Errorf("modelfile: writing %s model: %w", b.Name(), err)
			}
		}
		if bi := b.BiasCube(); bi != nil {
			if err := binary.Write(f, binary.LittleEndian, bi.Data); err != nil {
				return fmt.Errorf("modelfile: writing %s bias: %w", b.Name(), err)
			}
		}
	}
	return nil
}

// Load reads path's contents into the model/bias cubes of bridges
// already constructed with the matching architecture, in the same
// order Write would have produced them in. A short file is an I/O
// error; a mismatched architecture surfaces as either a short read or
// leftover trailing bytes.
func Load(path string, bridges []bridge.Bridge) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("modelfile: opening %s: %w", path, err)
	}
	defer f.Close()

	for _, b := range bridges {
		if m := b.ModelCube(); m != nil {
			if err := binary.Read(f, binary.LittleEndian, m.Data); err != nil {
				return fmt.Errorf("modelfile: reading %s model: %w", b.Name(), err)
			}
		}
		if bi := b.BiasCube(); bi != nil {
			if err := binary.Read(f, binary.LittleEndian, bi.Data); err != nil {
				return fmt.Errorf("modelfile: reading %s bias: %w", b.Name(), err)
			}
		}
	}

	// Confirm no architecture mismatch left unread trailing data.
	var probe [1]byte
	if _, err := f.Read(probe[:]); err != io.EOF {
		return fmt.Errorf("modelfile: %s has trailing bytes past the expected architecture", path)
	}
	return nil
}
