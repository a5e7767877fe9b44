package analyzer

import (
	"context"
	"errors"
	"math"
	"net"
	"time"

	"github.com/skypro1111/lipsync-service/internal/timeline"
)

const maxBackoff = 30 * time.Second

// RetryPolicy bounds how often a single segment is re-analyzed
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration // first delay, doubled per attempt and capped at 30s
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	base := p.Backoff
	if base <= 0 {
		base = time.Second
	}
	d := time.Duration(math.Pow(2, float64(attempt-1))) * base
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

type attemptFunc func(ctx context.Context) ([]timeline.MouthCue, error)

// run executes fn until it succeeds, fails with a non-retryable error, or the
// retry budget is spent
func (p RetryPolicy) run(ctx context.Context, stats *statsCollector, fn attemptFunc) ([]timeline.MouthCue, error) {
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			stats.incrementRetries()

			select {
			case <-time.After(p.delay(attempt)):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		cues, err := fn(ctx)
		if err == nil {
			return cues, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isRetryable(err) {
			break
		}
	}

	return nil, lastErr
}

// isRetryable reports whether another attempt could plausibly succeed
func isRetryable(err error) bool {
	if errors.Is(err, ErrMalformedOutput) || errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		// Process exit codes are always small; HTTP statuses only retry on 5xx/429
		if engineErr.ExitCode < 100 {
			return true
		}
		return engineErr.ExitCode >= 500 || engineErr.ExitCode == 429
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
