package scraper

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-bestsellers/config"
)

type retryPolicy struct {
	maxRetries int
	base       time.Duration
	max        time.Duration
	metrics    *Metrics

	totalRetries atomic.Int64
}

func newRetryPolicy(cfg *config.Config, metrics *Metrics) *retryPolicy {
	return &retryPolicy{
		maxRetries: cfg.MaxRetries,
		base:       cfg.RetryBackoff,
		max:        cfg.RetryBackoffMax,
		metrics:    metrics,
	}
}

// allow reports whether a failed attempt may be followed by another.
func (rp *retryPolicy) allow(attempt int) bool {
	return attempt <= rp.maxRetries
}

// backoff is base * 2^(attempt-1), capped at max when max is set.
func (rp *retryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if attempt > 30 {
		attempt = 30
	}
	if rp.base <= 0 {
		return 0
	}

	delay := rp.base * time.Duration(1<<(attempt-1))
	if max := rp.max; max > 0 && (delay > max || delay <= 0) {
		delay = max
	}
	return delay
}

// wait records a retry and sleeps for its backoff.
func (rp *retryPolicy) wait(ctx context.Context, attempt int) error {
	rp.totalRetries.Add(1)
	rp.metrics.IncRetries()

	delay := rp.backoff(attempt)
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (rp *retryPolicy) TotalRetries() int {
	return int(rp.totalRetries.Load())
}
