package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/workspace"
)

// DefaultSampleRate is the normalized sample rate fed to the recognizer
const DefaultSampleRate = 44100

// ErrConversion is returned when input audio cannot be normalized
var ErrConversion = errors.New("audio conversion failed")

// Transcoder turns raw encoded audio into a normalized PCM buffer
type Transcoder interface {
	Transcode(ctx context.Context, raw []byte) (audio.Buffer, error)
}

// FFmpegConfig contains configuration for the ffmpeg transcoder
type FFmpegConfig struct {
	BinaryPath string
	SampleRate int
	Timeout    time.Duration
	WorkDir    string // used when the context carries no workspace
}

// FFmpeg normalizes audio with an ffmpeg subprocess
type FFmpeg struct {
	config FFmpegConfig
	logger *slog.Logger
}

var _ Transcoder = (*FFmpeg)(nil)

// NewFFmpeg creates a new ffmpeg transcoder
func NewFFmpeg(config FFmpegConfig, logger *slog.Logger) (*FFmpeg, error) {
	if config.BinaryPath == "" {
		return nil, fmt.Errorf("ffmpeg binary path cannot be empty")
	}

	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}

	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Minute
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &FFmpeg{config: config, logger: logger.With(slog.String("component", "ffmpeg"))}, nil
}

// Transcode writes raw to a scoped temporary directory, converts it to
// pcm_s16le mono at the configured rate, and decodes the result. Both files
// are removed before returning.
func (f *FFmpeg) Transcode(ctx context.Context, raw []byte) (audio.Buffer, error) {
	if len(raw) == 0 {
		return audio.Buffer{}, fmt.Errorf("%w: empty input", ErrConversion)
	}

	ctx, cancel := context.WithTimeout(ctx, f.config.Timeout)
	defer cancel()

	var dir string
	var err error
	if ws, ok := workspace.FromContext(ctx); ok {
		dir, err = ws.MkdirTemp("transcode-*")
	} else {
		dir, err = os.MkdirTemp(f.config.WorkDir, "transcode-*")
	}
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to create transcode directory: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			f.logger.Warn("Failed to remove transcode directory",
				slog.String("dir", dir),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	inputPath := filepath.Join(dir, "input")
	outputPath := filepath.Join(dir, "normalized.wav")

	if err := os.WriteFile(inputPath, raw, 0o600); err != nil {
		return audio.Buffer{}, fmt.Errorf("failed to write input audio: %w", err)
	}

	cmd := exec.CommandContext(ctx, f.config.BinaryPath,
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(f.config.SampleRate),
		"-ac", "1",
		"-f", "wav",
		"-y",
		outputPath,
	)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	started := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return audio.Buffer{}, fmt.Errorf("%w: ffmpeg timed out after %s", ErrConversion, f.config.Timeout)
		}
		if ctx.Err() != nil {
			return audio.Buffer{}, ctx.Err()
		}
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = err.Error()
		}
		return audio.Buffer{}, fmt.Errorf("%w: FFmpeg conversion failed: %s", ErrConversion, detail)
	}

	data, err := os.ReadFile(outputPath)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: reading ffmpeg output: %v", ErrConversion, err)
	}

	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}

	f.logger.Debug("Audio normalized",
		slog.Int("input_bytes", len(raw)),
		slog.Int("sample_rate", buf.SampleRate()),
		slog.Float64("duration", buf.Duration()),
		slog.Duration("elapsed", time.Since(started)),
	)

	return buf, nil
}

// WAV accepts input that is already mono 16-bit PCM WAV and skips ffmpeg.
// It is meant for deployments where callers normalize audio themselves.
type WAV struct {
	SampleRate int // when non-zero, input must match this rate
}

var _ Transcoder = WAV{}

// Transcode decodes raw as a WAV file
func (w WAV) Transcode(_ context.Context, raw []byte) (audio.Buffer, error) {
	buf, err := audio.DecodeWAV(raw)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %v", ErrConversion, err)
	}

	if w.SampleRate != 0 && buf.SampleRate() != w.SampleRate {
		return audio.Buffer{}, fmt.Errorf("%w: expected %d Hz input, got %d Hz",
			ErrConversion, w.SampleRate, buf.SampleRate())
	}

	return buf, nil
}
