package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
)

var version = "dev"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swebatch",
		Short: "swebatch - batch driver for SWE-agent task runs",
		Long: `swebatch runs an external coding agent over a directory of task
descriptions, one invocation per task, skipping tasks whose output already
exists, and reconstructs cost/usage statistics from each run's trajectory.`,
		Version:      version,
		SilenceUsage: true,
	}

	debugLogging := cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	logLevel := cmd.PersistentFlags().String("log-level", "info", "Logging level: debug, info, warn, error")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if *debugLogging {
			slog.SetLogLoggerLevel(slog.LevelDebug)
			return nil
		}
		level, err := parseLogLevel(*logLevel)
		if err != nil {
			return err
		}
		slog.SetLogLoggerLevel(level)
		return nil
	}

	cmd.AddCommand(newRunCommand())

	return cmd
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (supported: debug, info, warn, error)", s)
	}
}

func execute() error {
	rootCmd := newRootCommand()
	return rootCmd.Execute()
}
