// Command lipsync serves and runs the lip-sync viseme pipeline.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-service/internal/config"
	"github.com/skypro1111/lipsync-service/internal/server"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "lipsync",
		Short:        "Lip-sync viseme service built on Rhubarb Lip Sync",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringP("config", "c", defaultConfigPath,
		"path to configuration file (empty uses built-in defaults)")

	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the service version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", server.ServiceName, server.Version)
		},
	}
}

// loadConfig reads the file named by the --config flag
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, path, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
