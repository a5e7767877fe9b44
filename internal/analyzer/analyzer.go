package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/timeline"
)

// CueTolerance is how far (seconds) a cue may extend past the end of its segment
const CueTolerance = 0.05

var (
	// ErrMalformedOutput is returned when recognizer output cannot be parsed or violates cue invariants
	ErrMalformedOutput = errors.New("malformed analyzer output")
	// ErrTimeout is returned when a single analysis attempt exceeds its deadline
	ErrTimeout = errors.New("analysis timed out")
)

// Analyzer turns one segment into mouth cues whose times are relative to the
// segment start. Implementations must be safe for concurrent use.
type Analyzer interface {
	Analyze(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error)
}

// AnalysisError reports a failed analysis for a specific segment
type AnalysisError struct {
	SegmentIndex int
	Err          error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("segment %d analysis failed: %v", e.SegmentIndex, e.Err)
}

func (e *AnalysisError) Unwrap() error {
	return e.Err
}

// EngineError is a non-success result from the external recognizer
type EngineError struct {
	ExitCode int    // process exit code, or HTTP status for remote analyzers
	Detail   string // trimmed stderr or response body
}

func (e *EngineError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("recognizer exited with status %d", e.ExitCode)
	}
	return fmt.Sprintf("recognizer exited with status %d: %s", e.ExitCode, e.Detail)
}

// output mirrors Rhubarb's JSON export format
type output struct {
	Metadata *struct {
		SoundFile string  `json:"soundFile"`
		Duration  float64 `json:"duration"`
	} `json:"metadata,omitempty"`
	MouthCues *[]struct {
		Start *float64 `json:"start"`
		End   *float64 `json:"end"`
		Value string   `json:"value"`
	} `json:"mouthCues"`
}

// ParseCues decodes Rhubarb-style JSON output and validates it against the
// segment duration: known shapes, start < end, non-overlapping, and no cue
// ending more than CueTolerance past the segment end.
func ParseCues(data []byte, segmentDuration float64) ([]timeline.MouthCue, error) {
	var out output
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	if out.MouthCues == nil {
		return nil, fmt.Errorf("%w: missing mouthCues", ErrMalformedOutput)
	}

	raw := *out.MouthCues
	cues := make([]timeline.MouthCue, 0, len(raw))
	for i, r := range raw {
		if r.Start == nil || r.End == nil {
			return nil, fmt.Errorf("%w: cue %d is missing start or end", ErrMalformedOutput, i)
		}

		shape, err := timeline.ParseShape(r.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: cue %d: %v", ErrMalformedOutput, i, err)
		}

		cue := timeline.MouthCue{Start: *r.Start, End: *r.End, Value: shape}
		if err := cue.Validate(); err != nil {
			return nil, fmt.Errorf("%w: cue %d: %v", ErrMalformedOutput, i, err)
		}

		if cue.End > segmentDuration+CueTolerance {
			return nil, fmt.Errorf("%w: cue %d ends at %.3fs, past segment end %.3fs",
				ErrMalformedOutput, i, cue.End, segmentDuration)
		}

		if n := len(cues); n > 0 && cues[n-1].End > cue.Start {
			return nil, fmt.Errorf("%w: cue %d %s overlaps cue %s", ErrMalformedOutput, i, cue, cues[n-1])
		}

		cues = append(cues, cue)
	}

	return cues, nil
}
