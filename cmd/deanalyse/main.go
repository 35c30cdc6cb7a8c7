package main

import (
	"fmt"
	"os"

	"deanalyse/internal/config"
	"deanalyse/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	configFile string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "deanalyse",
		Short:         "Dataset profiling and grounded question answering",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newProfileCmd(opts),
		newSandboxCmd(),
	)
	return rootCmd
}

// load reads configuration and builds the logger
func (o *options) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
