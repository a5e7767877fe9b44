package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variables that override file settings,
// e.g. LIPSYNC_AUDIO_CHUNK_DURATION=20
const EnvPrefix = "LIPSYNC"

// Config represents the complete service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server"`
	Audio      AudioConfig      `yaml:"audio" json:"audio"`
	Transcoder TranscoderConfig `yaml:"transcoder" json:"transcoder"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer" json:"analyzer"`
	Pipeline   PipelineConfig   `yaml:"pipeline" json:"pipeline"`
	VAD        VADConfig        `yaml:"vad" json:"vad"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Address               string `yaml:"address" json:"address"`
	Port                  int    `yaml:"port" json:"port"`
	MaxRequestBytes       int64  `yaml:"max_request_bytes" json:"max_request_bytes"`
	MaxConcurrentRequests int    `yaml:"max_concurrent_requests" json:"max_concurrent_requests"`
	ShutdownTimeout       int    `yaml:"shutdown_timeout" json:"shutdown_timeout"` // seconds
}

// AudioConfig contains normalization and segmentation parameters
type AudioConfig struct {
	SampleRate      int     `yaml:"sample_rate" json:"sample_rate"`
	Channels        int     `yaml:"channels" json:"channels"`
	BitDepth        int     `yaml:"bit_depth" json:"bit_depth"`
	ChunkDuration   float64 `yaml:"chunk_duration" json:"chunk_duration"`     // seconds
	CoalesceEpsilon float64 `yaml:"coalesce_epsilon" json:"coalesce_epsilon"` // seconds, 0 disables
}

// TranscoderConfig selects and configures the audio normalizer
type TranscoderConfig struct {
	Backend    string `yaml:"backend" json:"backend"` // "ffmpeg" or "wav"
	BinaryPath string `yaml:"binary_path" json:"binary_path"`
	Timeout    int    `yaml:"timeout" json:"timeout"` // seconds
}

// AnalyzerConfig selects and configures the mouth-cue recognizer
type AnalyzerConfig struct {
	Backend       string   `yaml:"backend" json:"backend"` // "rhubarb", "http" or "energy"
	BinaryPath    string   `yaml:"binary_path" json:"binary_path"`
	Recognizer    string   `yaml:"recognizer" json:"recognizer"`
	ExtraArgs     []string `yaml:"extra_args" json:"extra_args"`
	Endpoint      string   `yaml:"endpoint" json:"endpoint"`
	APIKey        string   `yaml:"api_key" json:"api_key"`
	Timeout       int      `yaml:"timeout" json:"timeout"`             // seconds, per segment attempt
	MaxRetries    int      `yaml:"max_retries" json:"max_retries"`     // per segment
	RetryBackoff  float64  `yaml:"retry_backoff" json:"retry_backoff"` // seconds
	MaxConcurrent int      `yaml:"max_concurrent" json:"max_concurrent"`
}

// PipelineConfig contains orchestrator settings
type PipelineConfig struct {
	WorkDir     string `yaml:"work_dir" json:"work_dir"` // empty means the system temp dir
	SkipSilence bool   `yaml:"skip_silence" json:"skip_silence"`
}

// VADConfig contains voice activity detection parameters, used by the
// silence shortcut and the energy analyzer
type VADConfig struct {
	WindowMs  int     `yaml:"window_ms" json:"window_ms"`
	Threshold float64 `yaml:"threshold" json:"threshold"` // normalized RMS
	Smoothing float64 `yaml:"smoothing" json:"smoothing"`
}

// CacheConfig contains result cache settings
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
	Output string `yaml:"output" json:"output"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address:               "0.0.0.0",
			Port:                  8080,
			MaxRequestBytes:       100 << 20,
			MaxConcurrentRequests: 8,
			ShutdownTimeout:       30,
		},
		Audio: AudioConfig{
			SampleRate:      44100,
			Channels:        1,
			BitDepth:        16,
			ChunkDuration:   30,
			CoalesceEpsilon: 0,
		},
		Transcoder: TranscoderConfig{
			Backend:    "ffmpeg",
			BinaryPath: "ffmpeg",
			Timeout:    120,
		},
		Analyzer: AnalyzerConfig{
			Backend:       "rhubarb",
			BinaryPath:    "rhubarb",
			Recognizer:    "phonetic",
			Timeout:       60,
			MaxRetries:    0,
			RetryBackoff:  1,
			MaxConcurrent: 4,
		},
		VAD: VADConfig{
			WindowMs:  20,
			Threshold: 0.02,
			Smoothing: 0.6,
		},
		Cache: CacheConfig{
			Enabled: false,
			Path:    "./lipsync-cache.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides settings from LIPSYNC_* environment variables.
// Keys mirror the YAML layout with dots replaced by underscores.
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, b := range c.envBindings() {
		if v.IsSet(b.key) {
			b.apply(v, b.key)
		}
	}
}

type envBinding struct {
	key   string
	apply func(v *viper.Viper, key string)
}

func (c *Config) envBindings() []envBinding {
	return []envBinding{
		{"server.address", func(v *viper.Viper, k string) { c.Server.Address = v.GetString(k) }},
		{"server.port", func(v *viper.Viper, k string) { c.Server.Port = v.GetInt(k) }},
		{"server.max_request_bytes", func(v *viper.Viper, k string) { c.Server.MaxRequestBytes = v.GetInt64(k) }},
		{"server.max_concurrent_requests", func(v *viper.Viper, k string) { c.Server.MaxConcurrentRequests = v.GetInt(k) }},
		{"server.shutdown_timeout", func(v *viper.Viper, k string) { c.Server.ShutdownTimeout = v.GetInt(k) }},

		{"audio.sample_rate", func(v *viper.Viper, k string) { c.Audio.SampleRate = v.GetInt(k) }},
		{"audio.chunk_duration", func(v *viper.Viper, k string) { c.Audio.ChunkDuration = v.GetFloat64(k) }},
		{"audio.coalesce_epsilon", func(v *viper.Viper, k string) { c.Audio.CoalesceEpsilon = v.GetFloat64(k) }},

		{"transcoder.backend", func(v *viper.Viper, k string) { c.Transcoder.Backend = v.GetString(k) }},
		{"transcoder.binary_path", func(v *viper.Viper, k string) { c.Transcoder.BinaryPath = v.GetString(k) }},
		{"transcoder.timeout", func(v *viper.Viper, k string) { c.Transcoder.Timeout = v.GetInt(k) }},

		{"analyzer.backend", func(v *viper.Viper, k string) { c.Analyzer.Backend = v.GetString(k) }},
		{"analyzer.binary_path", func(v *viper.Viper, k string) { c.Analyzer.BinaryPath = v.GetString(k) }},
		{"analyzer.recognizer", func(v *viper.Viper, k string) { c.Analyzer.Recognizer = v.GetString(k) }},
		{"analyzer.endpoint", func(v *viper.Viper, k string) { c.Analyzer.Endpoint = v.GetString(k) }},
		{"analyzer.api_key", func(v *viper.Viper, k string) { c.Analyzer.APIKey = v.GetString(k) }},
		{"analyzer.timeout", func(v *viper.Viper, k string) { c.Analyzer.Timeout = v.GetInt(k) }},
		{"analyzer.max_retries", func(v *viper.Viper, k string) { c.Analyzer.MaxRetries = v.GetInt(k) }},
		{"analyzer.retry_backoff", func(v *viper.Viper, k string) { c.Analyzer.RetryBackoff = v.GetFloat64(k) }},
		{"analyzer.max_concurrent", func(v *viper.Viper, k string) { c.Analyzer.MaxConcurrent = v.GetInt(k) }},

		{"pipeline.work_dir", func(v *viper.Viper, k string) { c.Pipeline.WorkDir = v.GetString(k) }},
		{"pipeline.skip_silence", func(v *viper.Viper, k string) { c.Pipeline.SkipSilence = v.GetBool(k) }},

		{"vad.window_ms", func(v *viper.Viper, k string) { c.VAD.WindowMs = v.GetInt(k) }},
		{"vad.threshold", func(v *viper.Viper, k string) { c.VAD.Threshold = v.GetFloat64(k) }},
		{"vad.smoothing", func(v *viper.Viper, k string) { c.VAD.Smoothing = v.GetFloat64(k) }},

		{"cache.enabled", func(v *viper.Viper, k string) { c.Cache.Enabled = v.GetBool(k) }},
		{"cache.path", func(v *viper.Viper, k string) { c.Cache.Path = v.GetString(k) }},

		{"logging.level", func(v *viper.Viper, k string) { c.Logging.Level = v.GetString(k) }},
		{"logging.format", func(v *viper.Viper, k string) { c.Logging.Format = v.GetString(k) }},
		{"logging.output", func(v *viper.Viper, k string) { c.Logging.Output = v.GetString(k) }},
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Transcoder.Validate(); err != nil {
		return fmt.Errorf("transcoder config: %w", err)
	}

	if err := c.Analyzer.Validate(); err != nil {
		return fmt.Errorf("analyzer config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxRequestBytes < 1024 {
		return fmt.Errorf("max_request_bytes must be at least 1024, got %d", s.MaxRequestBytes)
	}

	if s.MaxConcurrentRequests < 1 {
		return fmt.Errorf("max_concurrent_requests must be at least 1, got %d", s.MaxConcurrentRequests)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.CoalesceEpsilon < 0 {
		return fmt.Errorf("coalesce_epsilon cannot be negative, got %f", a.CoalesceEpsilon)
	}

	return nil
}

// Validate validates transcoder configuration
func (t *TranscoderConfig) Validate() error {
	switch t.Backend {
	case "ffmpeg":
		if t.BinaryPath == "" {
			return fmt.Errorf("binary_path cannot be empty for the ffmpeg backend")
		}
	case "wav":
	default:
		return fmt.Errorf("backend must be 'ffmpeg' or 'wav', got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates analyzer configuration
func (a *AnalyzerConfig) Validate() error {
	switch a.Backend {
	case "rhubarb":
		if a.BinaryPath == "" {
			return fmt.Errorf("binary_path cannot be empty for the rhubarb backend")
		}
	case "http":
		if a.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "energy":
	default:
		return fmt.Errorf("backend must be 'rhubarb', 'http' or 'energy', got '%s'", a.Backend)
	}

	validRecognizers := map[string]bool{"phonetic": true, "pocketSphinx": true}
	if !validRecognizers[a.Recognizer] {
		return fmt.Errorf("recognizer must be 'phonetic' or 'pocketSphinx', got '%s'", a.Recognizer)
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff cannot be negative, got %f", a.RetryBackoff)
	}

	if a.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
	}

	return nil
}

// Validate validates voice activity detection configuration
func (v *VADConfig) Validate() error {
	if v.WindowMs < 1 || v.WindowMs > 1000 {
		return fmt.Errorf("window_ms must be between 1 and 1000, got %d", v.WindowMs)
	}

	if v.Threshold <= 0 || v.Threshold >= 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.Smoothing <= 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be in (0, 1], got %f", v.Smoothing)
	}

	return nil
}

// Validate validates cache configuration
func (c *CacheConfig) Validate() error {
	if c.Enabled && c.Path == "" {
		return fmt.Errorf("path cannot be empty when the cache is enabled")
	}
	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// Sanitized returns a copy safe to expose over the API
func (c *Config) Sanitized() Config {
	out := *c
	out.Analyzer.ExtraArgs = append([]string(nil), c.Analyzer.ExtraArgs...)
	if out.Analyzer.APIKey != "" {
		out.Analyzer.APIKey = "***"
	}
	return out
}

// GetWindowDuration returns the detector window as a time.Duration
func (v *VADConfig) GetWindowDuration() time.Duration {
	return time.Duration(v.WindowMs) * time.Millisecond
}

// GetShutdownTimeoutDuration returns the graceful shutdown timeout as a time.Duration
func (s *ServerConfig) GetShutdownTimeoutDuration() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// GetTimeoutDuration returns the transcoder timeout as a time.Duration
func (t *TranscoderConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the per-segment analyzer timeout as a time.Duration
func (a *AnalyzerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetRetryBackoffDuration returns the base retry backoff as a time.Duration
func (a *AnalyzerConfig) GetRetryBackoffDuration() time.Duration {
	return time.Duration(a.RetryBackoff * float64(time.Second))
}
