// Package main implements the storeharness CLI for managing test services
// and previewing backend parametrization outside of `go test`.
package main

import (
	"fmt"
	"os"

	"github.com/fyrsmithlabs/storeharness/internal/config"
	"github.com/fyrsmithlabs/storeharness/internal/harness"
	"github.com/fyrsmithlabs/storeharness/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// configPath overrides STOREHARNESS_CONFIG
	configPath string
	// backends overrides run.backends
	backends string
	// version information
	version = "dev"

	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "storeharness",
	Short: "Manage document store test services and backend selection",
	Long: `storeharness manages the containers that document store integration
tests depend on and shows how a backend selector expands test cases.

Configuration is read from --config (or STOREHARNESS_CONFIG) and
STOREHARNESS_* environment variables.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: STOREHARNESS_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&backends, harness.BackendsFlag, "", `backend selector, e.g. "memory, sql" (default: run.backends)`)
}

// setup loads the configuration and builds the logger.
func setup(*cobra.Command, []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadWithFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg, err := logging.FromConfig(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err = logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	return nil
}

// selector resolves --backends against the loaded config.
func selector() (harness.Selector, error) {
	return (&harness.Flags{Backends: backends}).Selector(cfg)
}
