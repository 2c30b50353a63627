package errors

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig controls retry behavior for transient errors.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// Multiplier grows the backoff after each failure.
	Multiplier float64
	// Jitter is the random fraction applied to each delay (0.1 = ±10%).
	Jitter float64
}

// DefaultRetryConfig returns the retry policy used for backend calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
	}
}

// Retry runs fn up to cfg.MaxAttempts times, backing off between attempts.
// Only retryable errors are retried; validation and internal errors return
// immediately. The context is honored while sleeping.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := jitteredDelay(backoff, cfg.Jitter)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return lastErr
}

// RetryWithResult is Retry for operations that return a value.
func RetryWithResult[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var result T
	err := Retry(ctx, cfg, func() error {
		var ferr error
		result, ferr = fn()
		return ferr
	})
	return result, err
}

func jitteredDelay(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	// Spread the delay across [d*(1-jitter), d*(1+jitter)].
	spread := (rand.Float64()*2 - 1) * jitter
	return time.Duration(float64(d) * (1 + spread))
}
