package cmd

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/muchq/deepbridge/driver"
	"github.com/muchq/deepbridge/modelfile"
	"github.com/muchq/deepbridge/netconfig"
	"github.com/muchq/deepbridge/network"
	"github.com/muchq/deepbridge/solver"
)

var testCmd = &cobra.Command{
	Use:   "test <solver-config> <data-binary> <model-file>",
	Short: "Build a network in inference mode, load trained parameters, and report top-1 accuracy",
	Args:  cobra.ExactArgs(3),
	RunE:  runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	cfg, err := netconfig.Load(args[0])
	if err != nil {
		return err
	}
	if cfg.Net.Layers[0].Data == nil {
		return fmt.Errorf("test: %s's DATA layer is missing data_param", args[0])
	}
	dataPath, modelPath := args[1], args[2]

	// The ParallelizedBridge wrappers that network.Build creates set the
	// driver's intra-kernel thread count, per bridge type, on every
	// Forward/Backward (cfg.Solver.NumThreads
	// feeds only the fully-connected bridge's thread budget).
	drv := driver.NewCPUDriver()

	net, err := network.Build(cfg, drv, netconfig.PhaseTest, cfg.Net.Layers[0].Data.BatchSize)
	if err != nil {
		return fmt.Errorf("test: building network: %w", err)
	}
	if err := modelfile.Load(modelPath, net.Bridges); err != nil {
		return fmt.Errorf("test: loading model: %w", err)
	}

	s := solver.New(cfg.Solver, drv)
	acc, err := s.Evaluate(net, dataPath, 1)
	if err != nil {
		return fmt.Errorf("test: %w", err)
	}
	logrus.Infof("top-1 accuracy: %.4f", acc)
	fmt.Printf("%.6f\n", acc)
	return nil
}
