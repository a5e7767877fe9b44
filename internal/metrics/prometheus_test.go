package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/lipsync-service/internal/analyzer"
	"github.com/skypro1111/lipsync-service/internal/vad"
)

type fakeStats struct{ stats analyzer.Stats }

func (f fakeStats) GetStats() analyzer.Stats { return f.stats }

type fakeVADStats struct{ stats vad.ProcessorStats }

func (f fakeVADStats) GetStats() vad.ProcessorStats { return f.stats }

// gatherValues collects counter and gauge values by metric family name
func gatherValues(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}

	found := map[string]float64{}
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				found[f.GetName()] = c.GetValue()
			}
			if g := metric.GetGauge(); g != nil {
				found[f.GetName()] = g.GetValue()
			}
		}
	}
	return found
}

func TestMetricsRecording(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPipelineStarted()
	m.RecordPipelineFinished("success", 1.5)
	m.RecordSegment(true, 0.2)
	m.RecordSegment(true, 0.3)
	m.RecordSegment(false, 0.1)
	m.RecordSilentSegment()
	m.RecordMerge(10, 1, 2)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordWakeUp()

	if got := testutil.ToFloat64(m.PipelineRuns.WithLabelValues("success")); got != 1 {
		t.Errorf("Expected 1 successful run, got %v", got)
	}
	if got := testutil.ToFloat64(m.ActivePipelines); got != 0 {
		t.Errorf("Expected 0 active pipelines, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsAnalyzed); got != 2 {
		t.Errorf("Expected 2 analyzed segments, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentFailures); got != 1 {
		t.Errorf("Expected 1 segment failure, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsSilent); got != 1 {
		t.Errorf("Expected 1 silent segment, got %v", got)
	}
	if got := testutil.ToFloat64(m.CuesEmitted); got != 10 {
		t.Errorf("Expected 10 cues emitted, got %v", got)
	}
	if got := testutil.ToFloat64(m.CacheHits); got != 1 {
		t.Errorf("Expected 1 cache hit, got %v", got)
	}
	if got := testutil.ToFloat64(m.WakeUps); got != 1 {
		t.Errorf("Expected 1 wake-up, got %v", got)
	}
}

func TestRegisterAnalyzerStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RegisterAnalyzerStats(fakeStats{analyzer.Stats{TotalRequests: 7, TotalRetries: 2, ActiveRequests: 1}})

	found := gatherValues(t, reg)

	if found["lipsync_analyzer_requests_total"] != 7 {
		t.Errorf("Expected 7 analyzer requests, got %v", found["lipsync_analyzer_requests_total"])
	}
	if found["lipsync_analyzer_retries_total"] != 2 {
		t.Errorf("Expected 2 analyzer retries, got %v", found["lipsync_analyzer_retries_total"])
	}
	if found["lipsync_analyzer_active_requests"] != 1 {
		t.Errorf("Expected 1 active request, got %v", found["lipsync_analyzer_active_requests"])
	}
}

func TestRegisterVADStats(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RegisterVADStats(fakeVADStats{vad.ProcessorStats{TotalWindows: 50, VoiceWindows: 20, VoicePercentage: 40}})

	found := gatherValues(t, reg)

	if found["lipsync_vad_windows_total"] != 50 {
		t.Errorf("Expected 50 windows, got %v", found["lipsync_vad_windows_total"])
	}
	if found["lipsync_vad_voice_windows_total"] != 20 {
		t.Errorf("Expected 20 voice windows, got %v", found["lipsync_vad_voice_windows_total"])
	}
	if found["lipsync_vad_voice_percentage"] != 40 {
		t.Errorf("Expected 40 percent voice, got %v", found["lipsync_vad_voice_percentage"])
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordPipelineStarted()
	m.RecordPipelineFinished("analysis", 1)
	m.RecordSegment(false, 1)
	m.RecordSilentSegment()
	m.RecordMerge(1, 1, 1)
	m.RecordCacheLookup(true)
	m.RecordHTTPRequest("GET", "/health", "200", 0.1)
	m.RecordHTTPError("GET", "/health", "client_error")
	m.RegisterAnalyzerStats(fakeStats{})
	m.RegisterVADStats(fakeVADStats{})
}
