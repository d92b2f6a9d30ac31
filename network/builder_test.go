package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/netconfig"
)

func mustParse(t *testing.T, src string) *netconfig.NetConfig {
	t.Helper()
	cfg, err := netconfig.Parse([]byte(src))
	require.NoError(t, err)
	return cfg
}

const simpleNet = `
net:
  name: simple
  layer:
    - name: data
      type: DATA
      data_param:
        n_rows: 8
        n_cols: 8
        dim: 1
        batch_size: 4
        source: x.bin
    - name: conv1
      type: CONVOLUTION
      convolution_param:
        kernel_size: 3
        pad: 1
        stride: 1
        num_output: 4
        group: 1
    - name: relu1
      type: RELU
    - name: pool1
      type: POOLING
      pooling_param:
        kernel_size: 2
        stride: 2
    - name: drop1
      type: DROPOUT
      include:
        phase: TRAIN
      dropout_param:
        dropout_ratio: 0.5
    - name: ip1
      type: INNER_PRODUCT
      inner_product_param:
        num_output: 10
    - name: loss
      type: SOFTMAX_LOSS
solver:
  base_lr: 0.01
  max_iter: 10
`

func TestBuildSimpleNetworkTrainPhase(t *testing.T) {
	cfg := mustParse(t, simpleNet)
	drv := driver.NewCPUDriver()
	net, err := Build(cfg, drv, netconfig.PhaseTrain, 4)
	require.NoError(t, err)
	require.NotNil(t, net.Softmax)

	names := make([]string, 0, len(net.Bridges))
	for _, br := range net.Bridges {
		names = append(names, br.Name())
	}
	assert.Contains(t, names, "drop1_0")
}

func TestBuildSkipsTrainOnlyLayersInTestPhase(t *testing.T) {
	cfg := mustParse(t, simpleNet)
	drv := driver.NewCPUDriver()
	net, err := Build(cfg, drv, netconfig.PhaseTest, 4)
	require.NoError(t, err)

	for _, br := range net.Bridges {
		assert.NotEqual(t, "drop1_0", br.Name())
	}
}

const groupedNet = `
net:
  name: grouped
  layer:
    - name: data
      type: DATA
      data_param:
        n_rows: 8
        n_cols: 8
        dim: 2
        batch_size: 2
        source: x.bin
    - name: conv1
      type: CONVOLUTION
      convolution_param:
        kernel_size: 3
        pad: 1
        stride: 1
        num_output: 4
        group: 1
    - name: conv2
      type: CONVOLUTION
      convolution_param:
        kernel_size: 3
        pad: 1
        stride: 1
        num_output: 4
        group: 2
    - name: ip1
      type: INNER_PRODUCT
      inner_product_param:
        num_output: 10
    - name: loss
      type: SOFTMAX_LOSS
solver:
  base_lr: 0.01
  max_iter: 10
`

func TestBuildPromotesGroupAcrossLookahead(t *testing.T) {
	cfg := mustParse(t, groupedNet)
	drv := driver.NewCPUDriver()
	net, err := Build(cfg, drv, netconfig.PhaseTrain, 2)
	require.NoError(t, err)

	names := make([]string, 0, len(net.Bridges))
	for _, br := range net.Bridges {
		names = append(names, br.Name())
	}
	// conv1 is promoted to group 2 by conv2's lookahead, so it forks
	// into two group bridges (conv1_0/conv1_1) despite its own group: 1.
	assert.Contains(t, names, "conv1_0")
	assert.Contains(t, names, "conv1_1")
	assert.Contains(t, names, "conv2_0")
	assert.Contains(t, names, "conv2_1")
	// A funnel must appear before ip1 since conv2 leaves two groups.
	assert.Contains(t, names, "FUNNEL")
}

func TestBuildReturnsErrorOnUnsupportedLayerType(t *testing.T) {
	bad := `
net:
  name: bad
  layer:
    - name: data
      type: DATA
      data_param:
        n_rows: 4
        n_cols: 4
        dim: 1
        batch_size: 2
        source: x.bin
    - name: mystery
      type: SOME_UNKNOWN_LAYER
solver:
  base_lr: 0.01
  max_iter: 1
`
	cfg := mustParse(t, bad)
	drv := driver.NewCPUDriver()
	_, err := Build(cfg, drv, netconfig.PhaseTrain, 2)
	assert.Error(t, err)
}

func TestBuildConvertsConstructorPanicToError(t *testing.T) {
	// A pooling layer with no stride configured (zero value) triggers an
	// integer divide-by-zero panic inside outSpatial; Build must recover
	// it into a plain error rather than crashing the process.
	bad := `
net:
  name: bad
  layer:
    - name: data
      type: DATA
      data_param:
        n_rows: 4
        n_cols: 4
        dim: 1
        batch_size: 2
        source: x.bin
    - name: pool1
      type: POOLING
      pooling_param:
        kernel_size: 2
solver:
  base_lr: 0.01
  max_iter: 1
`
	cfg := mustParse(t, bad)
	drv := driver.NewCPUDriver()
	_, err := Build(cfg, drv, netconfig.PhaseTrain, 2)
	require.Error(t, err, "zero stride should panic inside outSpatial's integer division, which Build must recover into an error")
}
