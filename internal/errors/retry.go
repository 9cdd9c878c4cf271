package errors

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"
)

// RetryConfig configures write-path retry behavior.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (not including the
	// initial attempt).
	MaxRetries int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration

	// Multiplier is the factor by which delay increases after each retry.
	Multiplier float64
}

// DefaultRetryConfig returns the contention retry policy: randomized delays
// growing from 10ms up to 1s, capped at 5 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   5,
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
	}
}

// RetryCounters accumulates retry statistics across a session.
// Safe for concurrent use.
type RetryCounters struct {
	total      atomic.Int64
	capReached atomic.Int64
}

// Total returns the total number of retry attempts recorded.
func (c *RetryCounters) Total() int64 { return c.total.Load() }

// CapReached returns how many operations exhausted the retry cap.
func (c *RetryCounters) CapReached() int64 { return c.capReached.Load() }

// Retry executes fn with exponential backoff while it returns a retryable
// error. Attempts 1-3 log at debug level; later attempts escalate to warning.
// Counters, when non-nil, record total retries and cap exhaustion.
func Retry(ctx context.Context, cfg RetryConfig, counters *RetryCounters, op string, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt >= cfg.MaxRetries {
			break
		}

		if counters != nil {
			counters.total.Add(1)
		}

		// Jittered delay: delay * (0.5 + rand(0, 0.5))
		waitDelay := time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))
		logAttempt(op, attempt+1, waitDelay, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitDelay):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	if counters != nil {
		counters.capReached.Add(1)
	}
	return StorageContended(
		fmt.Sprintf("%s failed after %d retries", op, cfg.MaxRetries), lastErr)
}

func logAttempt(op string, attempt int, delay time.Duration, err error) {
	attrs := []any{
		slog.String("op", op),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.String("error", err.Error()),
	}
	if attempt <= 3 {
		slog.Debug("retrying_contended_write", attrs...)
	} else {
		slog.Warn("retrying_contended_write", attrs...)
	}
}
