package main

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/cache"
	"github.com/skypro1111/lipsync-service/internal/config"
	"github.com/skypro1111/lipsync-service/internal/metrics"
	"github.com/skypro1111/lipsync-service/internal/pipeline"
	"github.com/skypro1111/lipsync-service/internal/transcode"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

// app holds the components shared by the serve and analyze commands
type app struct {
	orchestrator *pipeline.Orchestrator
	analyzer     analyzer.Analyzer
	detector     *vad.Processor // nil unless the energy backend or silence skipping uses it
	store        *cache.Store   // nil when caching is disabled
	closers      []io.Closer
}

// Close releases the cache and analyzer resources
func (a *app) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// stats returns the analyzer statistics provider, if the backend has one
func (a *app) stats() analyzer.StatsProvider {
	if sp, ok := a.analyzer.(analyzer.StatsProvider); ok {
		return sp
	}
	return nil
}

func buildTranscoder(cfg *config.Config, logger *slog.Logger) (transcode.Transcoder, error) {
	switch cfg.Transcoder.Backend {
	case "wav":
		return transcode.WAV{SampleRate: cfg.Audio.SampleRate}, nil
	case "ffmpeg":
		return transcode.NewFFmpeg(transcode.FFmpegConfig{
			BinaryPath: cfg.Transcoder.BinaryPath,
			SampleRate: cfg.Audio.SampleRate,
			Timeout:    cfg.Transcoder.GetTimeoutDuration(),
			WorkDir:    cfg.Pipeline.WorkDir,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown transcoder backend %q", cfg.Transcoder.Backend)
	}
}

func buildDetector(cfg *config.Config) (*vad.Processor, error) {
	return vad.NewProcessor(vad.Config{
		Window:    cfg.VAD.GetWindowDuration(),
		Threshold: cfg.VAD.Threshold,
		Smoothing: cfg.VAD.Smoothing,
	})
}

// cacheNamespace fingerprints the analyzer setup so that cached timelines are
// only reused by the configuration that produced them
func cacheNamespace(cfg *config.Config) string {
	parts := []string{
		cfg.Analyzer.Backend,
		strconv.Itoa(cfg.Audio.SampleRate),
	}

	switch cfg.Analyzer.Backend {
	case "rhubarb":
		parts = append(parts, cfg.Analyzer.Recognizer, strings.Join(cfg.Analyzer.ExtraArgs, " "))
	case "http":
		parts = append(parts, cfg.Analyzer.Recognizer, cfg.Analyzer.Endpoint)
	case "energy":
		parts = append(parts,
			cfg.VAD.GetWindowDuration().String(),
			strconv.FormatFloat(cfg.VAD.Threshold, 'g', -1, 64),
			strconv.FormatFloat(cfg.VAD.Smoothing, 'g', -1, 64))
	}

	return strings.Join(parts, "|")
}

// buildAnalyzer creates the configured backend; detector is required for "energy"
func buildAnalyzer(cfg *config.Config, detector *vad.Processor, logger *slog.Logger) (analyzer.Analyzer, error) {
	switch cfg.Analyzer.Backend {
	case "rhubarb":
		return analyzer.NewRhubarb(analyzer.RhubarbConfig{
			BinaryPath:   cfg.Analyzer.BinaryPath,
			Recognizer:   cfg.Analyzer.Recognizer,
			ExtraArgs:    cfg.Analyzer.ExtraArgs,
			WorkDir:      cfg.Pipeline.WorkDir,
			Timeout:      cfg.Analyzer.GetTimeoutDuration(),
			MaxRetries:   cfg.Analyzer.MaxRetries,
			RetryBackoff: cfg.Analyzer.GetRetryBackoffDuration(),
		}, logger)
	case "http":
		return analyzer.NewClient(analyzer.ClientConfig{
			Endpoint:      cfg.Analyzer.Endpoint,
			APIKey:        cfg.Analyzer.APIKey,
			Recognizer:    cfg.Analyzer.Recognizer,
			Timeout:       cfg.Analyzer.GetTimeoutDuration(),
			MaxRetries:    cfg.Analyzer.MaxRetries,
			RetryBackoff:  cfg.Analyzer.GetRetryBackoffDuration(),
			MaxConcurrent: cfg.Analyzer.MaxConcurrent,
		}, logger)
	case "energy":
		return analyzer.NewEnergy(detector, logger)
	default:
		return nil, fmt.Errorf("unknown analyzer backend %q", cfg.Analyzer.Backend)
	}
}

// buildApp wires transcoder, analyzer, cache and metrics into an orchestrator
func buildApp(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	transcoder, err := buildTranscoder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcoder: %w", err)
	}

	// One detector serves both the energy backend and silence skipping
	var detector *vad.Processor
	if cfg.Analyzer.Backend == "energy" || cfg.Pipeline.SkipSilence {
		detector, err = buildDetector(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create voice activity detector: %w", err)
		}
	}

	a, err := buildAnalyzer(cfg, detector, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	orch, err := pipeline.New(pipeline.Config{
		MaxChunkSeconds: cfg.Audio.ChunkDuration,
		MaxConcurrent:   cfg.Analyzer.MaxConcurrent,
		CoalesceEpsilon: cfg.Audio.CoalesceEpsilon,
		WorkDir:         cfg.Pipeline.WorkDir,
		CacheNamespace:  cacheNamespace(cfg),
	}, transcoder, a, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline: %w", err)
	}
	orch.SetMetrics(m)

	if cfg.Pipeline.SkipSilence {
		orch.SetSilenceDetector(detector)
	}

	result := &app{orchestrator: orch, analyzer: a, detector: detector}
	if c, ok := a.(io.Closer); ok {
		result.closers = append(result.closers, c)
	}

	if cfg.Cache.Enabled {
		store, err := cache.Open(cfg.Cache.Path, logger)
		if err != nil {
			result.Close()
			return nil, fmt.Errorf("failed to open cache: %w", err)
		}
		orch.SetCache(store)
		result.store = store
		result.closers = append(result.closers, store)
	}

	m.RegisterAnalyzerStats(result.stats())
	if detector != nil {
		m.RegisterVADStats(detector)
	}

	return result, nil
}
