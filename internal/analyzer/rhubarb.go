package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/timeline"
	"github.com/skypro1111/lipsync-service/internal/workspace"
)

const maxStderrDetail = 4096

// RhubarbConfig contains configuration for the Rhubarb process adapter
type RhubarbConfig struct {
	BinaryPath   string        // rhubarb executable, looked up in PATH when not absolute
	Recognizer   string        // "phonetic" or "pocketSphinx"
	ExtraArgs    []string      // appended after the fixed arguments
	WorkDir      string        // base directory for per-segment artifacts when the context carries none
	Timeout      time.Duration // per attempt
	MaxRetries   int
	RetryBackoff time.Duration
}

// Rhubarb runs the Rhubarb Lip Sync binary once per segment
type Rhubarb struct {
	config RhubarbConfig
	retry  RetryPolicy
	logger *slog.Logger
	stats  *statsCollector
}

var (
	_ Analyzer      = (*Rhubarb)(nil)
	_ StatsProvider = (*Rhubarb)(nil)
)

// NewRhubarb creates a new Rhubarb adapter
func NewRhubarb(config RhubarbConfig, logger *slog.Logger) (*Rhubarb, error) {
	if config.BinaryPath == "" {
		return nil, fmt.Errorf("rhubarb binary path cannot be empty")
	}

	if config.Recognizer == "" {
		config.Recognizer = "phonetic"
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Rhubarb{
		config: config,
		retry:  RetryPolicy{MaxRetries: config.MaxRetries, Backoff: config.RetryBackoff},
		logger: logger.With(slog.String("component", "rhubarb")),
		stats:  newStatsCollector("rhubarb"),
	}, nil
}

// Analyze runs Rhubarb on one segment
func (r *Rhubarb) Analyze(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error) {
	started := r.stats.begin()

	cues, err := r.retry.run(ctx, r.stats, func(ctx context.Context) ([]timeline.MouthCue, error) {
		return r.analyzeOnce(ctx, seg)
	})
	r.stats.finish(started, err)

	if err != nil {
		return nil, &AnalysisError{SegmentIndex: seg.Index, Err: err}
	}

	r.logger.Debug("Segment analyzed",
		slog.Int("segment", seg.Index),
		slog.Float64("duration", seg.Duration()),
		slog.Int("cues", len(cues)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return cues, nil
}

// analyzeOnce performs a single Rhubarb invocation. The segment directory is
// removed on every return path.
func (r *Rhubarb) analyzeOnce(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	pattern := fmt.Sprintf("segment-%d-*", seg.Index)

	var dir string
	var err error
	if ws, ok := workspace.FromContext(ctx); ok {
		dir, err = ws.MkdirTemp(pattern)
	} else {
		dir, err = os.MkdirTemp(r.config.WorkDir, pattern)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create segment directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			r.logger.Warn("Failed to remove segment directory",
				slog.String("dir", dir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	wavData, err := audio.EncodeWAV(seg.Audio)
	if err != nil {
		return nil, fmt.Errorf("failed to encode segment: %w", err)
	}

	inputPath := filepath.Join(dir, "input.wav")
	outputPath := filepath.Join(dir, "output.json")

	if err := os.WriteFile(inputPath, wavData, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write segment audio: %w", err)
	}

	args := []string{
		inputPath,
		"-o", outputPath,
		"--exportFormat", "json",
		"--recognizer", r.config.Recognizer,
		"--machineReadable",
		"--quiet",
	}
	args = append(args, r.config.ExtraArgs...)

	cmd := exec.CommandContext(ctx, r.config.BinaryPath, args...)
	cmd.Dir = dir
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if runErr := cmd.Run(); runErr != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.config.Timeout)
		}

		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &EngineError{ExitCode: exitErr.ExitCode(), Detail: trimDetail(stderr.String())}
		}
		return nil, fmt.Errorf("failed to run rhubarb: %w", runErr)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading rhubarb output: %v", ErrMalformedOutput, err)
	}

	return ParseCues(data, seg.Duration())
}

// GetStats returns current analyzer statistics
func (r *Rhubarb) GetStats() Stats {
	return r.stats.snapshot()
}

func trimDetail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxStderrDetail {
		s = s[:maxStderrDetail]
	}
	return s
}
