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

var trainCmd = &cobra.Command{
	Use:   "train <solver-config> [data-binary] [model-in] [model-out]",
	Short: "Train a network against a data binary and write the resulting model file",
	Args:  cobra.RangeArgs(1, 4),
	RunE:  runTrain,
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfg, err := netconfig.Load(args[0])
	if err != nil {
		return err
	}
	if cfg.Net.Layers[0].Data == nil {
		return fmt.Errorf("train: %s's DATA layer is missing data_param", args[0])
	}
	dataParam := cfg.Net.Layers[0].Data

	dataPath := dataParam.Source
	if len(args) > 1 {
		dataPath = args[1]
	}
	if dataPath == "" {
		return fmt.Errorf("train: no data binary given on the command line or in data_param.source")
	}
	modelOut := "model.out"
	if len(args) > 3 {
		modelOut = args[3]
	}

	// The ParallelizedBridge wrappers that network.Build creates set the
	// driver's intra-kernel thread count, per bridge type, on every
	// Forward/Backward (cfg.Solver.NumThreads
	// feeds only the fully-connected bridge's thread budget).
	drv := driver.NewCPUDriver()

	net, err := network.Build(cfg, drv, netconfig.PhaseTrain, dataParam.BatchSize)
	if err != nil {
		return fmt.Errorf("train: building network: %w", err)
	}

	if len(args) > 2 {
		if err := modelfile.Load(args[2], net.Bridges); err != nil {
			return fmt.Errorf("train: loading initial model: %w", err)
		}
		logrus.Infof("resumed from %s", args[2])
	}

	s := solver.New(cfg.Solver, drv)
	stats, err := s.Train(net, dataPath, func(r solver.BatchResult) {
		logrus.Infof("iter=%d loss=%.4f acc=%.4f", r.Iteration, r.Loss, float64(r.Correct)/float64(r.BatchSize))
	})
	if err != nil {
		return fmt.Errorf("train: %w", err)
	}
	logrus.Infof("training complete: %d iterations, final loss=%.4f, last-batch accuracy=%.4f",
		stats.Iterations, stats.FinalLoss, stats.LastAccuracy)

	if err := modelfile.Write(modelOut, net.Bridges); err != nil {
		return fmt.Errorf("train: writing model: %w", err)
	}
	logrus.Infof("model written to %s", modelOut)
	return nil
}
