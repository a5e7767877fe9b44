package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/skypro1111/lipsync-service/internal/metrics"
	"github.com/skypro1111/lipsync-service/internal/server"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", server.ServiceName),
		slog.String("version", server.Version),
		slog.String("config_path", configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("address", fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)),
		slog.Int("max_concurrent_requests", cfg.Server.MaxConcurrentRequests),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Float64("chunk_duration", cfg.Audio.ChunkDuration),
		slog.Float64("coalesce_epsilon", cfg.Audio.CoalesceEpsilon),
		slog.String("transcoder", cfg.Transcoder.Backend),
		slog.String("analyzer", cfg.Analyzer.Backend),
		slog.Int("analyzer_max_concurrent", cfg.Analyzer.MaxConcurrent),
		slog.Bool("skip_silence", cfg.Pipeline.SkipSilence),
		slog.Bool("cache_enabled", cfg.Cache.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics(prometheus.DefaultRegisterer)
	logger.Info("Prometheus metrics initialized")

	application, err := buildApp(cfg, logger, appMetrics)
	if err != nil {
		logger.Error("Failed to initialize pipeline", slog.String("error", err.Error()))
		return err
	}
	defer application.Close()

	httpServer := server.NewHTTPServer(cfg, logger, application.orchestrator,
		application.stats(), appMetrics, prometheus.DefaultGatherer)
	if application.detector != nil {
		httpServer.SetVADStats(application.detector)
	}
	if application.store != nil {
		httpServer.SetCache(application.store)
	}

	if err := httpServer.Start(); err != nil {
		logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
		return err
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...")

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case serveErr = <-httpServer.Err():
		logger.Error("HTTP server stopped unexpectedly", slog.String("error", serveErr.Error()))
	}
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
	}

	stats := httpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("requests", stats.Received),
		slog.Uint64("succeeded", stats.Succeeded),
		slog.Uint64("failed", stats.Failed),
		slog.Uint64("wake_ups", stats.WakeUps),
	)

	logger.Info("Service stopped")
	if serveErr != nil {
		return fmt.Errorf("http server failed: %w", serveErr)
	}
	return nil
}
