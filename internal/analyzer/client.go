package analyzer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/skypro1111/lipsync-service/internal/audio"
	"github.com/skypro1111/lipsync-service/internal/timeline"
)

const maxResponseBytes = 8 << 20

// ClientConfig contains configuration for the remote analyzer client
type ClientConfig struct {
	Endpoint      string
	APIKey        string
	Recognizer    string
	Timeout       time.Duration // per attempt
	MaxRetries    int
	RetryBackoff  time.Duration
	MaxConcurrent int
}

// Client posts segments to a remote analyzer that answers in Rhubarb's JSON format
type Client struct {
	config     ClientConfig
	retry      RetryPolicy
	httpClient *http.Client
	semaphore  chan struct{} // Rate limiting semaphore
	logger     *slog.Logger
	stats      *statsCollector
}

var (
	_ Analyzer      = (*Client)(nil)
	_ StatsProvider = (*Client)(nil)
)

// NewClient creates a new remote analyzer client
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Recognizer == "" {
		config.Recognizer = "phonetic"
	}

	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}

	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}

	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 10
	}

	if logger == nil {
		logger = slog.Default()
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Client{
		config:     config,
		retry:      RetryPolicy{MaxRetries: config.MaxRetries, Backoff: config.RetryBackoff},
		httpClient: httpClient,
		semaphore:  make(chan struct{}, config.MaxConcurrent),
		logger:     logger.With(slog.String("component", "analyzer_client")),
		stats:      newStatsCollector("http"),
	}, nil
}

// Analyze sends one segment to the remote analyzer
func (c *Client) Analyze(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error) {
	// Acquire semaphore for rate limiting
	select {
	case c.semaphore <- struct{}{}:
		defer func() { <-c.semaphore }()
	case <-ctx.Done():
		return nil, &AnalysisError{SegmentIndex: seg.Index, Err: ctx.Err()}
	}

	started := c.stats.begin()

	cues, err := c.retry.run(ctx, c.stats, func(ctx context.Context) ([]timeline.MouthCue, error) {
		return c.doRequest(ctx, seg)
	})
	c.stats.finish(started, err)

	if err != nil {
		return nil, &AnalysisError{SegmentIndex: seg.Index, Err: err}
	}

	c.logger.Debug("Segment analyzed",
		slog.Int("segment", seg.Index),
		slog.Int("cues", len(cues)),
		slog.Duration("elapsed", time.Since(started)),
	)

	return cues, nil
}

// doRequest performs a single HTTP request to the analyzer endpoint
func (c *Client) doRequest(ctx context.Context, seg audio.Segment) ([]timeline.MouthCue, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, contentType, err := c.createMultipartRequest(seg)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "Lipsync-Service/1.0")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if parent.Err() != nil {
			return nil, parent.Err()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.config.Timeout)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, c.config.Timeout)
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &EngineError{ExitCode: resp.StatusCode, Detail: trimDetail(string(respBody))}
	}

	return ParseCues(respBody, seg.Duration())
}

// createMultipartRequest creates a multipart/form-data request body
func (c *Client) createMultipartRequest(seg audio.Segment) (io.Reader, string, error) {
	wavData, err := audio.EncodeWAV(seg.Audio)
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode segment: %w", err)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", fmt.Sprintf("segment-%d.wav", seg.Index))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"segment_index", strconv.Itoa(seg.Index)},
		{"start_offset", strconv.FormatFloat(seg.StartOffset, 'f', 3, 64)},
		{"duration", strconv.FormatFloat(seg.Duration(), 'f', 3, 64)},
		{"sample_rate", strconv.Itoa(seg.Audio.SampleRate())},
		{"recognizer", c.config.Recognizer},
		{"export_format", "json"},
	}

	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

// GetStats returns current client statistics
func (c *Client) GetStats() Stats {
	return c.stats.snapshot()
}

// Close waits for in-flight requests to finish
func (c *Client) Close() error {
	for i := 0; i < c.config.MaxConcurrent; i++ {
		c.semaphore <- struct{}{}
	}
	c.httpClient.CloseIdleConnections()
	return nil
}
