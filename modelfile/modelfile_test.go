package modelfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchq/deepbridge/bridge"
	"github.com/muchq/deepbridge/cube"
	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/layer"
)

func buildTestBridges(drv driver.Driver) []bridge.Bridge {
	in := layer.New(cube.New(4, 4, 1, 2))
	mid := layer.New(cube.New(4, 4, 3, 2))
	mid2 := layer.New(cube.New(4, 4, 3, 2))
	out := layer.New(cube.New(1, 1, 3, 2))
	conv := bridge.NewConvolutionBridge("conv", in, mid, drv, 3, 1, 1, 3, true)
	relu := bridge.NewReLUBridge("relu", mid, mid2, drv)
	fc := bridge.NewFullyConnectedBridge("fc", mid2, out, drv, 3, true)
	return []bridge.Bridge{conv, relu, fc}
}

func TestWriteLoadRoundTripRecoversWeights(t *testing.T) {
	drv := driver.NewCPUDriver()
	bridges := buildTestBridges(drv)

	path := filepath.Join(t.TempDir(), "model.out")
	require.NoError(t, Write(path, bridges))

	loadInto := buildTestBridges(drv)
	require.NoError(t, Load(path, loadInto))

	for i, b := range bridges {
		lb := loadInto[i]
		if m := b.ModelCube(); m != nil {
			assert.Equal(t, m.Data, lb.ModelCube().Data, "bridge %s model mismatch", b.Name())
		}
		if bi := b.BiasCube(); bi != nil {
			assert.Equal(t, bi.Data, lb.BiasCube().Data, "bridge %s bias mismatch", b.Name())
		}
	}
}

func TestLoadRejectsTrailingBytes(t *testing.T) {
	drv := driver.NewCPUDriver()
	bridges := buildTestBridges(drv)

	path := filepath.Join(t.TempDir(), "model.out")
	require.NoError(t, Write(path, bridges))

	// Rewrite the file with a second network's parameters after the
	// first, so it holds more data than one architecture needs.
	require.NoError(t, Write(path, append(bridges, buildTestBridges(drv)...)))

	err := Load(path, buildTestBridges(drv))
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	drv := driver.NewCPUDriver()
	err := Load(filepath.Join(t.TempDir(), "does-not-exist.out"), buildTestBridges(drv))
	assert.Error(t, err)
}
