package resilience

import (
	"context"
	"math/rand"
	"time"

	"github.com/pybrook/pybrook/pkg/errors"
)

// Retry drives fn against a broker or cache adapter, backing off between
// attempts and giving up immediately on whatever cfg.RetryIf (normally
// IsTransient) says isn't worth a second try. A splitter or generator role
// calling through pkg/broker.ResilientClient never sees this loop directly —
// it just sees Append/ReadGroup/Ack either eventually succeed or come back
// with the same error the underlying adapter raised.
func Retry(ctx context.Context, cfg RetryConfig, fn Executor) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = IsTransient
	}

	var lastErr error
	backoff := cfg.InitialBackoff

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return errors.New(errors.CodeDeadlineExceeded, "retry aborted: context cancelled", ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !cfg.RetryIf(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		sleepDuration := jittered(backoff, cfg.Jitter)
		select {
		case <-ctx.Done():
			return errors.New(errors.CodeDeadlineExceeded, "retry aborted: context cancelled", ctx.Err())
		case <-time.After(sleepDuration):
		}

		backoff = time.Duration(float64(backoff) * cfg.Multiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return errors.Wrapf(lastErr, "gave up after %d attempts", cfg.MaxAttempts)
}

func jittered(backoff time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return backoff
	}
	factor := 1.0 + (rand.Float64()*2-1)*jitter
	return time.Duration(float64(backoff) * factor)
}

// RetryWithCircuitBreaker retries fn, routing every attempt through cb first.
// cb may be nil (circuit breaker disabled for this adapter), in which case
// it behaves exactly like Retry. pkg/broker.ResilientClient and
// pkg/cache.ResilientCache both call this directly instead of re-composing
// breaker-then-retry themselves.
func RetryWithCircuitBreaker(ctx context.Context, cb *CircuitBreaker, retryCfg RetryConfig, fn Executor) error {
	if cb == nil {
		return Retry(ctx, retryCfg, fn)
	}
	return Retry(ctx, retryCfg, func(ctx context.Context) error {
		return cb.Execute(ctx, fn)
	})
}
