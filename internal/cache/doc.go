// Package cache persists merged mouth-cue timelines in SQLite, keyed by the
// BLAKE3 digest of the submitted audio and the segmentation parameters.
// Repeated submissions of the same audio skip conversion and analysis.
package cache
