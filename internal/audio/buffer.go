package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	// Channels is fixed to mono for the lip-sync pipeline
	Channels = 1
	// BitDepth is fixed to signed 16-bit little-endian PCM
	BitDepth = 16

	bytesPerSample = BitDepth / 8
)

// Buffer is an immutable mono PCM-16 audio buffer.
// Slices taken from a Buffer share its backing array and never write to it.
type Buffer struct {
	sampleRate int
	data       []byte // little-endian int16 samples
}

// BufferStats represents buffer metadata for logging and monitoring
type BufferStats struct {
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	BitDepth    int     `json:"bit_depth"`
	SampleCount int     `json:"sample_count"`
	SizeBytes   int     `json:"size_bytes"`
	Duration    float64 `json:"duration_seconds"`
}

// NewBuffer wraps raw little-endian PCM-16 mono bytes.
// The slice is owned by the buffer afterwards and must not be modified by the caller.
func NewBuffer(sampleRate int, raw []byte) (Buffer, error) {
	if sampleRate <= 0 {
		return Buffer{}, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if len(raw)%bytesPerSample != 0 {
		return Buffer{}, fmt.Errorf("audio data length must be even (got %d bytes)", len(raw))
	}

	return Buffer{sampleRate: sampleRate, data: raw[:len(raw):len(raw)]}, nil
}

// NewBufferFromSamples encodes int16 samples into a new buffer
func NewBufferFromSamples(sampleRate int, samples []int16) (Buffer, error) {
	raw := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(raw[i*bytesPerSample:], uint16(s))
	}
	return NewBuffer(sampleRate, raw)
}

// SampleRate returns the sample rate in Hz
func (b Buffer) SampleRate() int {
	return b.sampleRate
}

// Channels always returns 1
func (b Buffer) Channels() int {
	return Channels
}

// BitDepth always returns 16
func (b Buffer) BitDepth() int {
	return BitDepth
}

// SampleCount returns the number of samples in the buffer
func (b Buffer) SampleCount() int {
	return len(b.data) / bytesPerSample
}

// Duration returns the buffer duration in seconds (sample_count / sample_rate)
func (b Buffer) Duration() float64 {
	if b.sampleRate == 0 {
		return 0
	}
	return float64(b.SampleCount()) / float64(b.sampleRate)
}

// IsEmpty reports whether the buffer holds no samples
func (b Buffer) IsEmpty() bool {
	return len(b.data) == 0
}

// Len returns the size of the PCM payload in bytes
func (b Buffer) Len() int {
	return len(b.data)
}

// Bytes returns a copy of the raw PCM payload
func (b Buffer) Bytes() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

// Samples decodes the payload into int16 samples
func (b Buffer) Samples() []int16 {
	samples := make([]int16, b.SampleCount())
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b.data[i*bytesPerSample:]))
	}
	return samples
}

// Slice returns a zero-copy view over samples [start, end)
func (b Buffer) Slice(start, end int) (Buffer, error) {
	if start < 0 || end > b.SampleCount() || start > end {
		return Buffer{}, fmt.Errorf("invalid sample range [%d, %d) for buffer of %d samples",
			start, end, b.SampleCount())
	}

	lo := start * bytesPerSample
	hi := end * bytesPerSample
	return Buffer{sampleRate: b.sampleRate, data: b.data[lo:hi:hi]}, nil
}

// GetStats returns buffer metadata
func (b Buffer) GetStats() BufferStats {
	return BufferStats{
		SampleRate:  b.sampleRate,
		Channels:    Channels,
		BitDepth:    BitDepth,
		SampleCount: b.SampleCount(),
		SizeBytes:   len(b.data),
		Duration:    b.Duration(),
	}
}
