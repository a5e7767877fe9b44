// Package audio holds the normalized PCM audio model used by the lip-sync pipeline.
// It provides an immutable mono PCM-16 buffer, WAV encoding/decoding, and the
// segmenter that tiles a buffer into duration-bounded segments for analysis.
package audio
