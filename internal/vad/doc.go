// Package vad measures voice activity in PCM audio with a windowed RMS energy
// detector. The lip-sync pipeline uses it to recognize silent segments, and the
// energy analyzer maps its per-window levels to mouth openings.
package vad
