// Package cmd defines and implements the CLI commands for the epirunner executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/epiworldlab/epirunner/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "epirunner",
		Short: "Runs epidemiological cost models as a service or from the command line.",
		Long: `epirunner evaluates epidemiological cost models: built-in outbreak
models and spreadsheet-backed models discovered from a workbook directory.
It can serve an HTTP API with a browser parameter form, or evaluate a
single model locally and print the resulting tables.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default uses built-in defaults plus EPIRUNNER_* env)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newModelsCmd())

	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
