package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"uavnetsim/internal/config"
	"uavnetsim/internal/logging"
)

var (
	logLevel   string
	configPath string
	schemaPath string
)

var rootCmd = &cobra.Command{
	Use:   "uavnetsim",
	Short: "UAV ground station network emulation toolkit",
	Long: "uavnetsim runs a ground station whose telemetry, video and vehicle commands " +
		"pass through per-flow delay and loss reported by a network simulator.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to station configuration YAML (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to CUE schema file (embedded schema when empty)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(netsimCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// loadConfig reads --config, or returns the defaults with environment
// overrides when no file is given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath, schemaPath)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger on w. Logs go to stderr by default so
// they never interleave with JSON telemetry on stdout.
func newLogger(w io.Writer) (*slog.Logger, error) {
	lvl, err := logging.ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stderr
	}
	log := logging.NewWithWriter(w, lvl)
	slog.SetDefault(log)
	return log, nil
}
