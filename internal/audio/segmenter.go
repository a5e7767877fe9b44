package audio

import (
	"errors"
	"fmt"
	"math"
)

// DefaultMaxChunkDuration is the segment length used when none is configured (seconds)
const DefaultMaxChunkDuration = 30.0

// ErrInvalidChunkDuration is returned when the maximum chunk duration is not positive
var ErrInvalidChunkDuration = errors.New("max chunk duration must be positive")

// Segment is a bounded slice of a Buffer positioned on the source timeline
type Segment struct {
	Index       int     `json:"index"`
	StartOffset float64 `json:"start_offset"` // seconds from the start of the source buffer
	Audio       Buffer  `json:"-"`
}

// Duration returns the segment length in seconds
func (s Segment) Duration() float64 {
	return s.Audio.Duration()
}

// End returns the segment end on the source timeline in seconds
func (s Segment) End() float64 {
	return s.StartOffset + s.Duration()
}

// String returns a human-readable representation for logging
func (s Segment) String() string {
	return fmt.Sprintf("segment %d: %.3fs-%.3fs", s.Index, s.StartOffset, s.End())
}

// Split cuts buf into contiguous, non-overlapping segments of at most
// maxChunkSeconds each. Boundaries fall on whole samples, so the segments tile
// the source exactly; only the last segment may be shorter. Empty audio yields
// no segments. Segments are views and share the source's memory.
func Split(buf Buffer, maxChunkSeconds float64) ([]Segment, error) {
	if maxChunkSeconds <= 0 || math.IsNaN(maxChunkSeconds) || math.IsInf(maxChunkSeconds, 0) {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidChunkDuration, maxChunkSeconds)
	}

	total := buf.SampleCount()
	if total == 0 {
		return nil, nil
	}

	samplesPerChunk := int(math.Round(maxChunkSeconds * float64(buf.SampleRate())))
	if samplesPerChunk < 1 {
		samplesPerChunk = 1
	}

	count := (total + samplesPerChunk - 1) / samplesPerChunk
	segments := make([]Segment, 0, count)

	for i := 0; i < count; i++ {
		start := i * samplesPerChunk
		end := start + samplesPerChunk
		if end > total {
			end = total
		}

		view, err := buf.Slice(start, end)
		if err != nil {
			return nil, fmt.Errorf("slicing segment %d: %w", i, err)
		}

		segments = append(segments, Segment{
			Index:       i,
			StartOffset: float64(start) / float64(buf.SampleRate()),
			Audio:       view,
		})
	}

	return segments, nil
}
