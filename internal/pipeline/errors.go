package pipeline

import (
	"errors"
	"fmt"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
)

// Kind classifies pipeline failures
type Kind string

const (
	KindInput        Kind = "input"        // missing or undecodable request payload
	KindConversion   Kind = "conversion"   // transcoder could not normalize the audio
	KindSegmentation Kind = "segmentation" // invalid segmentation parameters
	KindAnalysis     Kind = "analysis"     // a segment failed to analyze
	KindInternal     Kind = "internal"     // workspace, merge or cleanup failure
)

// ErrNoAudio is returned when the request carries no audio bytes
var ErrNoAudio = errors.New("no audio data provided")

// Error is the error type returned by Orchestrator.Process
type Error struct {
	Kind         Kind
	SegmentIndex int // failing segment for KindAnalysis, otherwise -1
	Err          error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, SegmentIndex: -1, Err: err}
}

// analysisError converts a worker failure into a pipeline error, keeping the segment index
func analysisError(err error) *Error {
	var ae *analyzer.AnalysisError
	if errors.As(err, &ae) {
		return &Error{Kind: KindAnalysis, SegmentIndex: ae.SegmentIndex, Err: err}
	}
	return newError(KindInternal, err)
}

// KindOf returns the kind of a pipeline error, or KindInternal for any other error
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}
