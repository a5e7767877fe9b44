package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/config"
	"github.com/skypro1111/lipsync-service/internal/metrics"
	"github.com/skypro1111/lipsync-service/internal/pipeline"
	"github.com/skypro1111/lipsync-service/internal/timeline"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

const (
	// ServiceName is reported by the health and root endpoints
	ServiceName = "lipsync-service"

	readyMessage   = "Rhubarb model is ready"
	noAudioMessage = "No audio data provided"
)

// Version is overridden at build time with -ldflags "-X ...server.Version=..."
var Version = "1.0.0"

// Pipeline turns raw audio into a mouth-cue timeline
type Pipeline interface {
	Process(ctx context.Context, raw []byte) (timeline.Timeline, error)
}

// CacheCounter reports the number of stored timelines
type CacheCounter interface {
	Count(ctx context.Context) (int, error)
}

// HTTPServer provides the predict endpoint plus monitoring and management endpoints
type HTTPServer struct {
	server    *http.Server
	handler   http.Handler
	logger    *slog.Logger
	config    *config.Config
	pipeline  Pipeline
	analyzer  analyzer.StatsProvider
	vad       vad.StatsProvider
	cache     CacheCounter
	metrics   *metrics.Metrics
	gatherer  prometheus.Gatherer
	semaphore chan struct{} // bounds concurrent pipeline runs
	errChan   chan error    // receives a fatal listener error

	// Server state
	startTime time.Time
	stats     requestStats
}

// requestStats holds basic predict counters
type requestStats struct {
	received  atomic.Uint64
	wakeUps   atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64
	inFlight  atomic.Int64
}

// RequestStatistics is a snapshot of predict counters
type RequestStatistics struct {
	Received  uint64 `json:"received"`
	WakeUps   uint64 `json:"wake_ups"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
	InFlight  int64  `json:"in_flight"`
}

// predictRequest is the body of POST /predict
type predictRequest struct {
	AudioData string `json:"audio_data"`
	WakeUp    bool   `json:"wake_up"`
}

// predictResponse always carries mouthCues, empty on errors and wake-ups
type predictResponse struct {
	Status    string            `json:"status,omitempty"`
	Message   string            `json:"message,omitempty"`
	Error     string            `json:"error,omitempty"`
	MouthCues timeline.Timeline `json:"mouthCues"`
}

// NewHTTPServer creates a new HTTP API server. stats may be nil; gatherer
// defaults to prometheus.DefaultGatherer.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, p Pipeline,
	stats analyzer.StatsProvider, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	maxConcurrent := appConfig.Server.MaxConcurrentRequests
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  p,
		analyzer:  stats,
		metrics:   m,
		gatherer:  gatherer,
		semaphore: make(chan struct{}, maxConcurrent),
		errChan:   make(chan error, 1),
		startTime: time.Now(),
	}

	// Create HTTP server with routes
	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", appConfig.Server.Address, appConfig.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No write timeout: long clips take minutes to analyze
	}

	return h
}

// SetVADStats reports voice activity detector counters on /stats
func (h *HTTPServer) SetVADStats(provider vad.StatsProvider) {
	h.vad = provider
}

// SetCache reports the timeline cache on /health
func (h *HTTPServer) SetCache(c CacheCounter) {
	h.cache = c
}

// Handler returns the routed handler, mainly for tests
func (h *HTTPServer) Handler() http.Handler {
	return h.handler
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Lip-sync prediction
	mux.HandleFunc("/predict", h.withMetrics("/predict", h.handlePredict))

	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
			h.errChan <- err
		}
	}()

	return nil
}

// Err delivers the error that stopped the listener, if any
func (h *HTTPServer) Err() <-chan error {
	return h.errChan
}

// Stop gracefully stops the HTTP server, waiting for in-flight predictions
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// GetStatistics returns predict counters
func (h *HTTPServer) GetStatistics() RequestStatistics {
	return RequestStatistics{
		Received:  h.stats.received.Load(),
		WakeUps:   h.stats.wakeUps.Load(),
		Succeeded: h.stats.succeeded.Load(),
		Failed:    h.stats.failed.Load(),
		InFlight:  h.stats.inFlight.Load(),
	}
}

// handlePredict implements POST /predict
func (h *HTTPServer) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed, use POST")
		return
	}

	h.stats.received.Add(1)

	r.Body = http.MaxBytesReader(w, r.Body, h.config.Server.MaxRequestBytes)

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if req.WakeUp {
		h.stats.wakeUps.Add(1)
		h.metrics.RecordWakeUp()
		h.logger.Info("Wake-up request received")
		writeJSON(w, http.StatusOK, predictResponse{
			Status:    "OK",
			Message:   readyMessage,
			MouthCues: timeline.Timeline{},
		})
		return
	}

	if strings.TrimSpace(req.AudioData) == "" {
		h.writeError(w, http.StatusBadRequest, noAudioMessage)
		return
	}

	// Hold a worker slot before allocating the decoded audio
	select {
	case h.semaphore <- struct{}{}:
		defer func() { <-h.semaphore }()
	case <-r.Context().Done():
		h.writeError(w, http.StatusServiceUnavailable, "request canceled while waiting for a worker")
		return
	}

	raw, err := decodeAudio(req.AudioData)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid audio_data: %v", err))
		return
	}

	h.stats.inFlight.Add(1)
	defer h.stats.inFlight.Add(-1)

	started := time.Now()
	cues, err := h.pipeline.Process(r.Context(), raw)
	if err != nil {
		status := statusForError(err)
		h.logger.Error("Lip-sync processing failed",
			slog.String("kind", string(pipeline.KindOf(err))),
			slog.Int("status", status),
			slog.Int("audio_bytes", len(raw)),
			slog.String("error", err.Error()),
		)
		h.writeError(w, status, errorMessage(err))
		return
	}

	if cues == nil {
		cues = timeline.Timeline{}
	}

	h.stats.succeeded.Add(1)
	h.logger.Info("Lip-sync processing completed",
		slog.Int("audio_bytes", len(raw)),
		slog.Int("cues", len(cues)),
		slog.Duration("elapsed", time.Since(started)),
	)

	writeJSON(w, http.StatusOK, predictResponse{MouthCues: cues})
}

// writeError writes the error shape used by /predict
func (h *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	h.stats.failed.Add(1)
	writeJSON(w, status, predictResponse{Error: message, MouthCues: timeline.Timeline{}})
}

// statusForError maps pipeline error kinds to HTTP status codes
func statusForError(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindInput:
		return http.StatusBadRequest
	case pipeline.KindConversion:
		return http.StatusUnprocessableEntity
	case pipeline.KindAnalysis:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorMessage(err error) string {
	if errors.Is(err, pipeline.ErrNoAudio) {
		return noAudioMessage
	}
	return err.Error()
}

// decodeAudio accepts standard base64, with or without padding, optionally
// wrapped in a data URL. Embedded whitespace is ignored.
func decodeAudio(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\n', '\r', '\t':
			return -1
		}
		return r
	}, s)

	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	requestStats := h.GetStatistics()

	components := map[string]interface{}{
		"pipeline": map[string]interface{}{
			"status":         "running",
			"requests":       requestStats.Received,
			"in_flight":      requestStats.InFlight,
			"max_concurrent": cap(h.semaphore),
			"chunk_duration": h.config.Audio.ChunkDuration,
			"transcoder":     h.config.Transcoder.Backend,
			"skip_silence":   h.config.Pipeline.SkipSilence,
		},
	}

	if h.analyzer != nil {
		analyzerStats := h.analyzer.GetStats()
		components["analyzer"] = map[string]interface{}{
			"status":          "running",
			"backend":         analyzerStats.Backend,
			"total_requests":  analyzerStats.TotalRequests,
			"success_rate":    analyzerStats.SuccessRate,
			"active_requests": analyzerStats.ActiveRequests,
		}
	}

	if h.cache != nil {
		cacheHealth := map[string]interface{}{"status": "running"}
		if entries, err := h.cache.Count(r.Context()); err != nil {
			cacheHealth["status"] = "error"
			cacheHealth["error"] = err.Error()
		} else {
			cacheHealth["entries"] = entries
		}
		components["cache"] = cacheHealth
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    ServiceName,
			"version": Version,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// API key is masked
	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"requests":  h.GetStatistics(),
	}

	if h.analyzer != nil {
		stats["analyzer"] = h.analyzer.GetStats()
	}

	if h.vad != nil {
		stats["vad"] = h.vad.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Lip-Sync Viseme Service",
		"version": Version,
		"endpoints": map[string]interface{}{
			"GET /":         "API documentation",
			"POST /predict": "Mouth cues for base64 audio ({\"audio_data\": ..., \"wake_up\": false})",
			"GET /health":   "Service health check",
			"GET /config":   "Get service configuration",
			"GET /stats":    "Get service statistics",
			"GET /metrics":  "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
