package analyzer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/timeline"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

// Energy maps voice activity levels to a coarse set of mouth shapes.
// It needs no external recognizer and is used for development and tests.
type Energy struct {
	detector *vad.Processor
	logger   *slog.Logger
	stats    *statsCollector
}

var (
	_ Analyzer      = (*Energy)(nil)
	_ StatsProvider = (*Energy)(nil)
)

// NewEnergy creates an energy analyzer on top of detector
func NewEnergy(detector *vad.Processor, logger *slog.Logger) (*Energy, error) {
	if detector == nil {
		return nil, fmt.Errorf("voice activity detector cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Energy{
		detector: detector,
		logger:   logger.With(slog.String("component", "energy")),
		stats:    newStatsCollector("energy"),
	}, nil
}

// Analyze produces a gap-free local timeline covering the segment
func (e *Energy) Analyze(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error) {
	started := e.stats.begin()

	if err := ctx.Err(); err != nil {
		e.stats.finish(started, err)
		return nil, &AnalysisError{SegmentIndex: seg.Index, Err: err}
	}

	frames := e.detector.Frames(seg.Audio)
	threshold := e.detector.Threshold()

	cues := make([]timeline.MouthCue, 0, len(frames))
	for _, f := range frames {
		shape := shapeForLevel(f, threshold)
		if n := len(cues); n > 0 && cues[n-1].Value == shape {
			cues[n-1].End = f.End
			continue
		}
		cues = append(cues, timeline.MouthCue{Start: f.Start, End: f.End, Value: shape})
	}

	e.stats.finish(started, nil)

	e.logger.Debug("Segment analyzed",
		slog.Int("segment", seg.Index),
		slog.Float64("duration", seg.Duration()),
		slog.Int("frames", len(frames)),
		slog.Int("cues", len(cues)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return cues, nil
}

// GetStats returns current analyzer statistics
func (e *Energy) GetStats() Stats {
	return e.stats.snapshot()
}

func shapeForLevel(f vad.Frame, threshold float64) timeline.Shape {
	switch {
	case !f.HasVoice:
		return timeline.ShapeX
	case f.Level < 2*threshold:
		return timeline.ShapeB
	case f.Level < 4*threshold:
		return timeline.ShapeC
	default:
		return timeline.ShapeD
	}
}
