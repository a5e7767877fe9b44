package timeline

import (
	"fmt"
	"strings"
)

// Shape is one of the nine mouth shapes emitted by the recognizer
type Shape string

const (
	ShapeA Shape = "A" // closed mouth for P, B, M
	ShapeB Shape = "B" // slightly open, clenched teeth
	ShapeC Shape = "C" // open mouth
	ShapeD Shape = "D" // wide open mouth
	ShapeE Shape = "E" // slightly rounded
	ShapeF Shape = "F" // puckered lips
	ShapeG Shape = "G" // F, V
	ShapeH Shape = "H" // L
	ShapeX Shape = "X" // idle / rest
)

var validShapes = map[Shape]bool{
	ShapeA: true, ShapeB: true, ShapeC: true, ShapeD: true, ShapeE: true,
	ShapeF: true, ShapeG: true, ShapeH: true, ShapeX: true,
}

// ParseShape converts a recognizer label into a Shape
func ParseShape(s string) (Shape, error) {
	shape := Shape(strings.TrimSpace(s))
	if !validShapes[shape] {
		return "", fmt.Errorf("unknown mouth shape %q", s)
	}
	return shape, nil
}

// Valid reports whether the shape belongs to the alphabet
func (s Shape) Valid() bool {
	return validShapes[s]
}

// MouthCue is a timed mouth shape. Times are in seconds.
type MouthCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value Shape   `json:"value"`
}

// Duration returns the cue length in seconds
func (c MouthCue) Duration() float64 {
	return c.End - c.Start
}

// Validate checks start < end and that the shape is known
func (c MouthCue) Validate() error {
	if !c.Value.Valid() {
		return fmt.Errorf("unknown mouth shape %q", c.Value)
	}
	if !(c.Start < c.End) {
		return fmt.Errorf("cue start %.3f must be before end %.3f", c.Start, c.End)
	}
	if c.Start < 0 {
		return fmt.Errorf("cue start %.3f must not be negative", c.Start)
	}
	return nil
}

func (c MouthCue) String() string {
	return fmt.Sprintf("%s[%.3f-%.3f]", c.Value, c.Start, c.End)
}

// Timeline is an ordered sequence of non-overlapping mouth cues
type Timeline []MouthCue

// Validate checks every cue and that c[i].End <= c[i+1].Start
func (t Timeline) Validate() error {
	for i, c := range t {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("cue %d: %w", i, err)
		}
		if i > 0 && t[i-1].End > c.Start {
			return fmt.Errorf("cue %d %s overlaps previous cue %s", i, c, t[i-1])
		}
	}
	return nil
}

// End returns the end time of the last cue, or 0 for an empty timeline
func (t Timeline) End() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End
}
