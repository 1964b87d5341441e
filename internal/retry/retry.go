// Package retry provides the exponential-backoff primitive shared by the
// voice pipeline and downstream service callers.
//
// The central entry point is [Do] (and its value-returning sibling [DoValue]):
// an explicit higher-order call rather than an implicit wrapper, so that
// cancellation propagation stays visible at every call site.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// Config tunes a retry loop. Zero-value fields are replaced with defaults:
// three attempts with a one-second base delay, so the sleeps between attempts
// are 1s and 2s.
type Config struct {
	// MaxAttempts is the total number of invocations, including the first.
	MaxAttempts int

	// BaseDelay is the sleep after the first failure. Each subsequent failure
	// doubles the delay.
	BaseDelay time.Duration

	// MaxDelay caps the per-attempt sleep. Zero means uncapped.
	MaxDelay time.Duration

	// RetryOn decides whether an error is worth another attempt. When nil,
	// every error is retried.
	RetryOn func(error) bool

	// Name labels the operation in log messages.
	Name string
}

// withDefaults returns cfg with zero-value fields replaced.
func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = defaultBaseDelay
	}
	return cfg
}

// delay returns the backoff sleep before attempt+1, capped at MaxDelay.
// attempt is 1-based.
func (cfg Config) delay(attempt int) time.Duration {
	d := cfg.BaseDelay << (attempt - 1)
	if cfg.MaxDelay > 0 && d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	return d
}

// Do invokes op up to cfg.MaxAttempts times, sleeping exponentially between
// failures. It returns nil on the first success and the last error once the
// attempts are exhausted or the error is rejected by cfg.RetryOn.
//
// Do is cancellation-aware: when ctx is cancelled during a backoff sleep, the
// sleep is aborted immediately and ctx.Err() is returned without further
// attempts.
func Do(ctx context.Context, cfg Config, op func(ctx context.Context) error) error {
	_, err := DoValue(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}

// DoValue is [Do] for operations that produce a value. On final failure the
// zero value and the last error are returned.
func DoValue[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("retry %s: cancelled before attempt %d: %w", cfg.Name, attempt, err)
		}

		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("operation recovered after retry",
					"op", cfg.Name, "attempt", attempt)
			}
			return result, nil
		}
		lastErr = err

		if cfg.RetryOn != nil && !cfg.RetryOn(err) {
			return zero, err
		}
		if attempt == cfg.MaxAttempts {
			slog.Warn("operation failed, attempts exhausted",
				"op", cfg.Name, "attempt", attempt, "max_attempts", cfg.MaxAttempts,
				"error", err)
			break
		}

		sleep := cfg.delay(attempt)
		slog.Warn("operation failed, backing off",
			"op", cfg.Name, "attempt", attempt, "max_attempts", cfg.MaxAttempts,
			"backoff", sleep, "error", err)

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("retry %s: cancelled during backoff: %w", cfg.Name, ctx.Err())
		case <-timer.C:
		}
	}
	return zero, lastErr
}
