package repository

import (
	"context"
	"math"
	"math/rand"
	"time"

	pkgerrors "engram-backend/pkg/errors"
)

// RetryConfig defines backoff behavior for retryable storage failures
// (DUPLICATE_TURN races and UNAVAILABLE storage).
type RetryConfig struct {
	MaxAttempts   int           // Maximum number of attempts, including the first
	BaseDelay     time.Duration // Delay before the first retry
	MaxDelay      time.Duration // Ceiling for the backoff delay
	BackoffFactor float64       // Exponential backoff multiplier
	JitterFactor  float64       // Jitter fraction to prevent thundering herd
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

// WithRetry runs op, retrying with exponential backoff and jitter while the
// returned error is retryable per pkg/errors.IsRetryable. The last error is
// returned once attempts are exhausted or the context is done.
func WithRetry(ctx context.Context, cfg RetryConfig, op func(ctx context.Context) error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(cfg, attempt)):
			}
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !pkgerrors.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// backoffDelay computes the delay before the given attempt (1-based for the
// first retry), with exponential growth capped at MaxDelay plus jitter.
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(cfg.BackoffFactor, float64(attempt-1))
	if max := float64(cfg.MaxDelay); delay > max {
		delay = max
	}
	if cfg.JitterFactor > 0 {
		jitter := delay * cfg.JitterFactor * (2*rand.Float64() - 1)
		delay += jitter
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
