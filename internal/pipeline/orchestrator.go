package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/cache"
	"github.com/skypro1111/lipsync-service/internal/metrics"
	"github.com/skypro1111/lipsync-service/internal/timeline"
	"github.com/skypro1111/lipsync-service/internal/transcode"
	"github.com/skypro1111/lipsync-service/internal/workspace"
)

// DefaultMaxConcurrent is the analyzer pool size used when none is configured
const DefaultMaxConcurrent = 4

// Config holds orchestrator settings
type Config struct {
	MaxChunkSeconds float64 // segment length bound, audio.DefaultMaxChunkDuration when zero
	MaxConcurrent   int     // segments analyzed in parallel, DefaultMaxConcurrent when zero
	CoalesceEpsilon float64 // boundary coalescing gap, zero disables
	WorkDir         string  // parent of request workspaces, os.TempDir() when empty
	CacheNamespace  string  // identifies the analyzer setup in cache keys
}

// Cache stores merged timelines between requests
type Cache interface {
	Get(ctx context.Context, key string) (timeline.Timeline, bool, error)
	Put(ctx context.Context, key, audioHash string, tl timeline.Timeline) error
}

// SilenceDetector decides whether a segment can skip analysis
type SilenceDetector interface {
	IsSilent(buf audio.Buffer) bool
}

// Orchestrator runs the transcode, segment, analyze and merge sequence
type Orchestrator struct {
	config     Config
	transcoder transcode.Transcoder
	analyzer   analyzer.Analyzer
	silence    SilenceDetector
	cache      Cache
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an orchestrator
func New(config Config, transcoder transcode.Transcoder, a analyzer.Analyzer, logger *slog.Logger) (*Orchestrator, error) {
	if transcoder == nil {
		return nil, fmt.Errorf("transcoder cannot be nil")
	}

	if a == nil {
		return nil, fmt.Errorf("analyzer cannot be nil")
	}

	if config.MaxChunkSeconds == 0 {
		config.MaxChunkSeconds = audio.DefaultMaxChunkDuration
	}

	if !validChunkDuration(config.MaxChunkSeconds) {
		return nil, fmt.Errorf("%w, got %v", audio.ErrInvalidChunkDuration, config.MaxChunkSeconds)
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}

	if config.CoalesceEpsilon < 0 {
		return nil, fmt.Errorf("coalesce epsilon cannot be negative, got %v", config.CoalesceEpsilon)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		config:     config,
		transcoder: transcoder,
		analyzer:   a,
		logger:     logger,
	}, nil
}

// SetCache enables timeline caching
func (o *Orchestrator) SetCache(c Cache) {
	o.cache = c
}

// SetSilenceDetector enables the silence shortcut: silent segments get a
// single X cue instead of an analyzer call
func (o *Orchestrator) SetSilenceDetector(d SilenceDetector) {
	o.silence = d
}

// SetMetrics enables metric recording
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config {
	return o.config
}

// Process runs the pipeline with the configured chunk duration
func (o *Orchestrator) Process(ctx context.Context, raw []byte) (timeline.Timeline, error) {
	return o.ProcessWithChunk(ctx, raw, o.config.MaxChunkSeconds)
}

// ProcessWithChunk runs the pipeline over raw audio, splitting it into segments
// of at most maxChunkSeconds. The returned timeline is non-nil on success and
// empty when the audio holds no samples. Errors are always *Error.
func (o *Orchestrator) ProcessWithChunk(ctx context.Context, raw []byte, maxChunkSeconds float64) (result timeline.Timeline, err error) {
	started := time.Now()
	o.metrics.RecordPipelineStarted()
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		o.metrics.RecordPipelineFinished(outcome, time.Since(started).Seconds())
	}()

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, newError(KindInput, ErrNoAudio)
	}

	if !validChunkDuration(maxChunkSeconds) {
		return nil, newError(KindSegmentation,
			fmt.Errorf("%w, got %v", audio.ErrInvalidChunkDuration, maxChunkSeconds))
	}

	cacheKey := ""
	if o.cache != nil {
		cacheKey = cache.Key(raw, cache.KeyParams{
			MaxChunkSeconds: maxChunkSeconds,
			CoalesceEpsilon: o.config.CoalesceEpsilon,
			SkipSilence:     o.silence != nil,
			Namespace:       o.config.CacheNamespace,
		})
		cached, ok, err := o.cache.Get(ctx, cacheKey)
		if err != nil {
			o.logger.Warn("Timeline cache lookup failed", "error", err)
		}
		o.metrics.RecordCacheLookup(ok)
		if ok {
			o.logger.Debug("Timeline served from cache", "key", cacheKey, "cues", len(cached))
			return cached, nil
		}
	}

	ws, err := workspace.New(o.config.WorkDir)
	if err != nil {
		return nil, newError(KindInternal, err)
	}

	logger := o.logger.With("request_id", ws.ID)
	defer func() {
		if rmErr := ws.Remove(); rmErr != nil {
			logger.Error("Failed to clean up workspace", "dir", ws.Dir, "error", rmErr)
			if err == nil {
				result = nil
				err = newError(KindInternal, rmErr)
			}
		}
	}()

	ctx = workspace.NewContext(ctx, ws)

	buf, err := o.transcoder.Transcode(ctx, raw)
	if err != nil {
		logger.Error("Audio conversion failed", "input_bytes", len(raw), "error", err)
		return nil, newError(KindConversion, err)
	}
	o.metrics.RecordInputDuration(buf.Duration())

	segments, err := audio.Split(buf, maxChunkSeconds)
	if err != nil {
		return nil, newError(KindSegmentation, err)
	}

	logger.Info("Processing audio",
		"audio", buf.GetStats(),
		"segments", len(segments),
		"max_chunk_seconds", maxChunkSeconds)

	if len(segments) == 0 {
		return timeline.Timeline{}, nil
	}

	results, err := o.analyzeSegments(ctx, logger, segments)
	if err != nil {
		return nil, err
	}

	merged, stats := timeline.MergeWithStats(results, timeline.MergeOptions{
		CoalesceEpsilon: o.config.CoalesceEpsilon,
	})
	if err := merged.Validate(); err != nil {
		logger.Error("Merged timeline is invalid", "error", err)
		return nil, newError(KindInternal, fmt.Errorf("merged timeline is invalid: %w", err))
	}
	o.metrics.RecordMerge(stats.CuesOut, stats.Coalesced, stats.Dropped)

	logger.Info("Pipeline completed",
		"segments", stats.Segments,
		"cues_in", stats.CuesIn,
		"cues_out", stats.CuesOut,
		"clamped", stats.Clamped,
		"dropped", stats.Dropped,
		"elapsed", time.Since(started))

	if o.cache != nil {
		if err := o.cache.Put(ctx, cacheKey, cache.AudioHash(raw), merged); err != nil {
			logger.Warn("Failed to store timeline in cache", "error", err)
		}
	}

	return merged, nil
}

// analyzeSegments runs the analyzer over every segment with bounded parallelism.
// Results are indexed by segment, so merge order never depends on completion order.
func (o *Orchestrator) analyzeSegments(ctx context.Context, logger *slog.Logger, segments []audio.Segment) ([]timeline.SegmentCues, error) {
	results := make([]timeline.SegmentCues, len(segments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrent)

	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			// Skip segments queued behind a failure
			if err := gctx.Err(); err != nil {
				return err
			}

			if o.silence != nil && o.silence.IsSilent(seg.Audio) {
				o.metrics.RecordSilentSegment()
				logger.Debug("Segment is silent, skipping analysis", "segment", seg.Index)
				results[i] = silentSegment(seg)
				return nil
			}

			segStart := time.Now()
			cues, err := o.analyzer.Analyze(gctx, seg)
			o.metrics.RecordSegment(err == nil, time.Since(segStart).Seconds())
			if err != nil {
				var ae *analyzer.AnalysisError
				if !errors.As(err, &ae) {
					err = &analyzer.AnalysisError{SegmentIndex: seg.Index, Err: err}
				}
				if gctx.Err() == nil {
					logger.Error("Segment analysis failed", "segment", seg.Index, "error", err)
				}
				return err
			}

			logger.Debug("Segment analyzed",
				"segment", seg.Index,
				"start_offset", seg.StartOffset,
				"duration", seg.Duration(),
				"cues", len(cues),
				"elapsed", time.Since(segStart))

			results[i] = timeline.SegmentCues{
				Index:       seg.Index,
				StartOffset: seg.StartOffset,
				Cues:        cues,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(KindInternal, fmt.Errorf("processing canceled: %w", ctxErr))
		}
		return nil, analysisError(err)
	}

	return results, nil
}

// silentSegment covers the whole segment with the rest shape
func silentSegment(seg audio.Segment) timeline.SegmentCues {
	return timeline.SegmentCues{
		Index:       seg.Index,
		StartOffset: seg.StartOffset,
		Cues: []timeline.MouthCue{
			{Start: 0, End: seg.Duration(), Value: timeline.ShapeX},
		},
	}
}

func validChunkDuration(seconds float64) bool {
	return seconds > 0 && !math.IsNaN(seconds) && !math.IsInf(seconds, 0)
}
