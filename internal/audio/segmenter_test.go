package audio

import (
	"errors"
	"math"
	"testing"
)

func silentBuffer(t *testing.T, sampleRate int, samples int) Buffer {
	t.Helper()
	buf, err := NewBuffer(sampleRate, make([]byte, samples*2))
	if err != nil {
		t.Fatalf("NewBuffer failed: %v", err)
	}
	return buf
}

func TestSplitSeventyFiveSeconds(t *testing.T) {
	// 75 seconds at 100 Hz keeps the test buffer small
	buf := silentBuffer(t, 100, 7500)

	segments, err := Split(buf, 30)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(segments))
	}

	expected := []struct{ start, end float64 }{
		{0, 30},
		{30, 60},
		{60, 75},
	}

	for i, seg := range segments {
		if seg.Index != i {
			t.Errorf("Segment %d: expected index %d, got %d", i, i, seg.Index)
		}
		if math.Abs(seg.StartOffset-expected[i].start) > 1e-9 {
			t.Errorf("Segment %d: expected start %.1f, got %f", i, expected[i].start, seg.StartOffset)
		}
		if math.Abs(seg.End()-expected[i].end) > 1e-9 {
			t.Errorf("Segment %d: expected end %.1f, got %f", i, expected[i].end, seg.End())
		}
	}
}

func TestSplitCoverage(t *testing.T) {
	sampleRate := 1000
	tests := []struct {
		name     string
		samples  int
		maxChunk float64
	}{
		{"shorter than chunk", 500, 30},
		{"exact multiple", 90000, 30},
		{"one sample over", 30001, 30},
		{"fractional chunk", 10000, 0.7},
		{"single sample", 1, 30},
		{"tiny chunks", 25, 0.004},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := silentBuffer(t, sampleRate, tt.samples)

			segments, err := Split(buf, tt.maxChunk)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}

			wantCount := int(math.Ceil(buf.Duration() / tt.maxChunk))
			if len(segments) != wantCount {
				t.Fatalf("Expected %d segments, got %d", wantCount, len(segments))
			}

			cursor := 0.0
			total := 0
			for i, seg := range segments {
				if seg.Index != i {
					t.Errorf("Segment %d has index %d", i, seg.Index)
				}
				if math.Abs(seg.StartOffset-cursor) > 1e-9 {
					t.Errorf("Segment %d starts at %f, expected %f (gap or overlap)", i, seg.StartOffset, cursor)
				}
				if seg.Duration() > tt.maxChunk+1e-9 {
					t.Errorf("Segment %d lasts %f, longer than %f", i, seg.Duration(), tt.maxChunk)
				}
				if i < len(segments)-1 && math.Abs(seg.Duration()-tt.maxChunk) > 1e-9 {
					t.Errorf("Non-final segment %d lasts %f, expected %f", i, seg.Duration(), tt.maxChunk)
				}
				cursor = seg.End()
				total += seg.Audio.SampleCount()
			}

			if total != tt.samples {
				t.Errorf("Segments cover %d samples, expected %d", total, tt.samples)
			}
			if math.Abs(cursor-buf.Duration()) > 1e-9 {
				t.Errorf("Segments end at %f, expected %f", cursor, buf.Duration())
			}
		})
	}
}

func TestSplitEmptyAudio(t *testing.T) {
	buf := silentBuffer(t, 44100, 0)

	segments, err := Split(buf, 30)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if len(segments) != 0 {
		t.Errorf("Expected no segments for empty audio, got %d", len(segments))
	}
}

func TestSplitInvalidChunkDuration(t *testing.T) {
	buf := silentBuffer(t, 100, 100)

	for _, d := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if _, err := Split(buf, d); !errors.Is(err, ErrInvalidChunkDuration) {
			t.Errorf("Split(%v): expected ErrInvalidChunkDuration, got %v", d, err)
		}
	}
}

func TestSplitDoesNotMutateSource(t *testing.T) {
	samples := make([]int16, 250)
	for i := range samples {
		samples[i] = int16(i)
	}
	buf, _ := NewBufferFromSamples(100, samples)
	before := buf.Bytes()

	segments, err := Split(buf, 1)
	if err != nil {
		t.Fatalf("Split failed: %v", err)
	}

	if got := segments[1].Audio.Samples()[0]; got != 100 {
		t.Errorf("Expected segment 1 to start at sample value 100, got %d", got)
	}

	after := buf.Bytes()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("Source buffer changed at byte %d", i)
		}
	}
}
