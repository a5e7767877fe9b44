// Package timeline defines mouth cues and merges per-segment cue lists into one
// globally ordered, non-overlapping timeline.
package timeline
