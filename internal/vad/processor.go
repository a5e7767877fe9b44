package vad

import (
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
)

const (
	// DefaultWindow is the analysis window length
	DefaultWindow = 20 * time.Millisecond
	// DefaultThreshold is the normalized RMS level above which a window counts as voice
	DefaultThreshold = 0.02
	// DefaultSmoothing weights the newest window; 1 disables smoothing
	DefaultSmoothing = 0.6

	fullScale = 32768.0
)

// Config contains detector parameters
type Config struct {
	Window    time.Duration
	Threshold float64 // in (0, 1)
	Smoothing float64 // in (0, 1]
}

// Processor computes windowed voice activity. It is safe for concurrent use;
// smoothing state is local to each call.
type Processor struct {
	config        Config
	totalWindows  atomic.Uint64
	voiceWindows  atomic.Uint64
	lastProcessed atomic.Int64 // unix nanoseconds
}

// Frame is the detector result for one window. Times are seconds from the buffer start.
type Frame struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Level    float64 `json:"level"` // smoothed normalized RMS, 0-1
	HasVoice bool    `json:"has_voice"`
}

// ProcessorStats represents detector statistics
type ProcessorStats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastProcessed   time.Time `json:"last_processed"`
	Threshold       float64   `json:"threshold"`
	Window          string    `json:"window"`
}

// StatsProvider is implemented by detectors that report window counters
type StatsProvider interface {
	GetStats() ProcessorStats
}

// NewProcessor creates a new detector; zero fields take defaults
func NewProcessor(config Config) (*Processor, error) {
	if config.Window == 0 {
		config.Window = DefaultWindow
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Smoothing == 0 {
		config.Smoothing = DefaultSmoothing
	}

	if config.Window < time.Millisecond {
		return nil, fmt.Errorf("window must be at least 1ms, got %v", config.Window)
	}

	if config.Threshold < 0 || config.Threshold >= 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}

	if config.Smoothing < 0 || config.Smoothing > 1 {
		return nil, fmt.Errorf("smoothing must be between 0 and 1, got %f", config.Smoothing)
	}

	return &Processor{config: config}, nil
}

// Threshold returns the voice threshold
func (p *Processor) Threshold() float64 {
	return p.config.Threshold
}

// windowSamples returns the window length in samples at rate
func (p *Processor) windowSamples(rate int) int {
	n := int(math.Round(p.config.Window.Seconds() * float64(rate)))
	if n < 1 {
		n = 1
	}
	return n
}

// Frames splits buf into consecutive windows and reports each window's level.
// The last window may be shorter; the frames tile the buffer exactly.
func (p *Processor) Frames(buf audio.Buffer) []Frame {
	samples := buf.Samples()
	if len(samples) == 0 {
		return nil
	}

	rate := float64(buf.SampleRate())
	size := p.windowSamples(buf.SampleRate())
	frames := make([]Frame, 0, (len(samples)+size-1)/size)

	var smoothed float64
	var voiced uint64
	for start := 0; start < len(samples); start += size {
		end := start + size
		if end > len(samples) {
			end = len(samples)
		}

		level := rms(samples[start:end])
		if len(frames) == 0 {
			smoothed = level
		} else {
			smoothed = p.config.Smoothing*level + (1-p.config.Smoothing)*smoothed
		}

		hasVoice := smoothed >= p.config.Threshold
		if hasVoice {
			voiced++
		}

		frames = append(frames, Frame{
			Start:    float64(start) / rate,
			End:      float64(end) / rate,
			Level:    smoothed,
			HasVoice: hasVoice,
		})
	}

	p.totalWindows.Add(uint64(len(frames)))
	p.voiceWindows.Add(voiced)
	p.lastProcessed.Store(time.Now().UnixNano())

	return frames
}

// IsSilent reports whether no window of buf reaches the voice threshold
func (p *Processor) IsSilent(buf audio.Buffer) bool {
	for _, f := range p.Frames(buf) {
		if f.HasVoice {
			return false
		}
	}
	return true
}

// GetStats returns current detector statistics
func (p *Processor) GetStats() ProcessorStats {
	total := p.totalWindows.Load()
	voice := p.voiceWindows.Load()

	voicePercentage := float64(0)
	if total > 0 {
		voicePercentage = float64(voice) / float64(total) * 100
	}

	var last time.Time
	if ns := p.lastProcessed.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}

	return ProcessorStats{
		TotalWindows:    total,
		VoiceWindows:    voice,
		VoicePercentage: voicePercentage,
		LastProcessed:   last,
		Threshold:       p.config.Threshold,
		Window:          p.config.Window.String(),
	}
}

// rms returns the root mean square of samples normalized to full scale
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, s := range samples {
		v := float64(s)
		energy += v * v
	}

	level := math.Sqrt(energy/float64(len(samples))) / fullScale
	if level > 1 {
		level = 1
	}
	return level
}
