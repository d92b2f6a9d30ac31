// Package cmd implements the two-verb (train/test) cobra command tree
// with logrus logging. Execute translates any returned error into a
// one-line diagnostic and a non-zero exit.
package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "deepbridge",
	Short: "CPU-first CNN training and inference engine",
}

// Execute runs the CLI, exiting non-zero on config parse failure,
// missing files, or unsupported layer types.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")
	cobra.OnInitialize(func() {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	})

	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(testCmd)
}
