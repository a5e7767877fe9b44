package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

// Metrics contains all Prometheus metrics for the lip-sync service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Pipeline metrics
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration prometheus.Histogram
	InputDuration    prometheus.Histogram
	ActivePipelines  prometheus.Gauge
	WakeUps          prometheus.Counter

	// Segment metrics
	SegmentsAnalyzed prometheus.Counter
	SegmentFailures  prometheus.Counter
	SegmentsSilent   prometheus.Counter
	SegmentDuration  prometheus.Histogram

	// Timeline metrics
	CuesEmitted   prometheus.Counter
	CuesCoalesced prometheus.Counter
	CuesDropped   prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec

	registerer prometheus.Registerer
}

// NewMetrics creates all metrics and registers them with reg
// (prometheus.DefaultRegisterer when nil)
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		registerer: reg,

		// Pipeline metrics
		PipelineRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_pipeline_runs_total",
			Help: "Total number of pipeline runs by outcome",
		}, []string{"outcome"}),
		PipelineDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_pipeline_duration_seconds",
			Help:    "Wall time of complete pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~7 minutes
		}),
		InputDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_input_audio_duration_seconds",
			Help:    "Duration of normalized input audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
		ActivePipelines: factory.NewGauge(prometheus.GaugeOpts{
			Name: "lipsync_active_pipelines",
			Help: "Current number of running pipelines",
		}),
		WakeUps: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_wakeup_requests_total",
			Help: "Total number of wake-up (liveness) requests",
		}),

		// Segment metrics
		SegmentsAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_segments_analyzed_total",
			Help: "Total number of segments analyzed successfully",
		}),
		SegmentFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_segment_failures_total",
			Help: "Total number of segment analyses that failed",
		}),
		SegmentsSilent: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_segments_silent_total",
			Help: "Total number of silent segments that skipped analysis",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lipsync_segment_analysis_duration_seconds",
			Help:    "Time spent analyzing a single segment",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),

		// Timeline metrics
		CuesEmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_cues_emitted_total",
			Help: "Total number of mouth cues returned to callers",
		}),
		CuesCoalesced: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_cues_coalesced_total",
			Help: "Total number of cues merged across segment boundaries",
		}),
		CuesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_cues_dropped_total",
			Help: "Total number of cues dropped as degenerate after rebasing",
		}),

		// Cache metrics
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_cache_hits_total",
			Help: "Total number of timeline cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "lipsync_cache_misses_total",
			Help: "Total number of timeline cache misses",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lipsync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lipsync_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RegisterAnalyzerStats exposes analyzer statistics as function-backed metrics
func (m *Metrics) RegisterAnalyzerStats(provider analyzer.StatsProvider) {
	if m == nil || provider == nil {
		return
	}
	factory := promauto.With(m.registerer)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "lipsync_analyzer_requests_total",
		Help: "Total number of analyzer invocations",
	}, func() float64 { return float64(provider.GetStats().TotalRequests) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "lipsync_analyzer_retries_total",
		Help: "Total number of analyzer retries",
	}, func() float64 { return float64(provider.GetStats().TotalRetries) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lipsync_analyzer_active_requests",
		Help: "Current number of in-flight analyzer invocations",
	}, func() float64 { return float64(provider.GetStats().ActiveRequests) })
}

// RegisterVADStats exposes voice activity detector counters as function-backed metrics
func (m *Metrics) RegisterVADStats(provider vad.StatsProvider) {
	if m == nil || provider == nil {
		return
	}
	factory := promauto.With(m.registerer)

	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "lipsync_vad_windows_total",
		Help: "Total number of audio windows scored by the voice activity detector",
	}, func() float64 { return float64(provider.GetStats().TotalWindows) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Name: "lipsync_vad_voice_windows_total",
		Help: "Total number of windows at or above the voice threshold",
	}, func() float64 { return float64(provider.GetStats().VoiceWindows) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "lipsync_vad_voice_percentage",
		Help: "Share of scored windows that contained voice",
	}, func() float64 { return provider.GetStats().VoicePercentage })
}

// RecordPipelineStarted increments the active pipelines gauge
func (m *Metrics) RecordPipelineStarted() {
	if m == nil {
		return
	}
	m.ActivePipelines.Inc()
}

// RecordPipelineFinished records a finished run; outcome is "success" or an error kind
func (m *Metrics) RecordPipelineFinished(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActivePipelines.Dec()
	m.PipelineRuns.WithLabelValues(outcome).Inc()
	m.PipelineDuration.Observe(durationSeconds)
}

// RecordInputDuration observes the normalized audio length
func (m *Metrics) RecordInputDuration(seconds float64) {
	if m == nil {
		return
	}
	m.InputDuration.Observe(seconds)
}

// RecordWakeUp increments the wake-up counter
func (m *Metrics) RecordWakeUp() {
	if m == nil {
		return
	}
	m.WakeUps.Inc()
}

// RecordSegment records one segment analysis
func (m *Metrics) RecordSegment(success bool, durationSeconds float64) {
	if m == nil {
		return
	}
	if success {
		m.SegmentsAnalyzed.Inc()
	} else {
		m.SegmentFailures.Inc()
	}
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordSilentSegment counts a segment answered without the analyzer
func (m *Metrics) RecordSilentSegment() {
	if m == nil {
		return
	}
	m.SegmentsSilent.Inc()
}

// RecordMerge records timeline merge results
func (m *Metrics) RecordMerge(emitted, coalesced, dropped int) {
	if m == nil {
		return
	}
	m.CuesEmitted.Add(float64(emitted))
	m.CuesCoalesced.Add(float64(coalesced))
	m.CuesDropped.Add(float64(dropped))
}

// RecordCacheLookup records a cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
	} else {
		m.CacheMisses.Inc()
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
