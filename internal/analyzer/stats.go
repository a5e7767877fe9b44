package analyzer

import (
	"sync"
	"time"
)

// Stats represents analyzer statistics
type Stats struct {
	Backend         string        `json:"backend"`
	TotalRequests   uint64        `json:"total_requests"`
	SuccessRequests uint64        `json:"success_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	SuccessRate     float64       `json:"success_rate"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	ActiveRequests  int           `json:"active_requests"`
}

// StatsProvider is implemented by analyzers that expose statistics
type StatsProvider interface {
	GetStats() Stats
}

type statsCollector struct {
	backend string

	totalRequests   uint64
	successRequests uint64
	failedRequests  uint64
	totalRetries    uint64
	activeRequests  int
	avgResponseTime time.Duration

	mu sync.RWMutex
}

func newStatsCollector(backend string) *statsCollector {
	return &statsCollector{backend: backend}
}

func (s *statsCollector) begin() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
	s.activeRequests++
	return time.Now()
}

func (s *statsCollector) finish(started time.Time, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeRequests--
	if err != nil {
		s.failedRequests++
		return
	}

	s.successRequests++

	// Simple moving average
	elapsed := time.Since(started)
	if s.avgResponseTime == 0 {
		s.avgResponseTime = elapsed
	} else {
		s.avgResponseTime = (s.avgResponseTime + elapsed) / 2
	}
}

func (s *statsCollector) incrementRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
}

func (s *statsCollector) snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	successRate := float64(0)
	if s.totalRequests > 0 {
		successRate = float64(s.successRequests) / float64(s.totalRequests) * 100
	}

	return Stats{
		Backend:         s.backend,
		TotalRequests:   s.totalRequests,
		SuccessRequests: s.successRequests,
		FailedRequests:  s.failedRequests,
		SuccessRate:     successRate,
		TotalRetries:    s.totalRetries,
		AvgResponseTime: s.avgResponseTime,
		ActiveRequests:  s.activeRequests,
	}
}
