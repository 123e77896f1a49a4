// Package resilience wraps pkg/broker and pkg/cache clients against the
// transient-failure shape those adapters actually produce: a flaky Redis
// connection degrades to backoff-and-retry behind a circuit breaker, while
// errors that retrying can never fix (a malformed record, a missing key)
// surface on the first attempt.
package resilience

import (
	"context"
	"time"

	"github.com/pybrook/pybrook/pkg/errors"
)

// State represents the current state of a circuit breaker.
type State string

const (
	StateClosed   State = "closed"    // Normal operation, tracking failures
	StateOpen     State = "open"      // Blocking requests, fast-fail
	StateHalfOpen State = "half_open" // Testing if service has recovered
)

// CircuitBreakerConfig configures the circuit breaker behavior.
type CircuitBreakerConfig struct {
	// Name identifies this circuit breaker (for logging/metrics).
	Name string

	// FailureThreshold is the number of failures before opening the circuit.
	FailureThreshold int64

	// SuccessThreshold is the number of successes in half-open state to close.
	SuccessThreshold int64

	// Timeout is how long to wait before transitioning from open to half-open.
	Timeout time.Duration

	// OnStateChange is called when the circuit breaker changes state.
	OnStateChange func(name string, from, to State)
}

// Executor represents something that can be executed with circuit breaker protection.
type Executor func(ctx context.Context) error

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the backoff duration for the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff duration.
	MaxBackoff time.Duration

	// Multiplier increases the backoff between retries.
	Multiplier float64

	// Jitter adds randomness to prevent thundering herd.
	Jitter float64

	// RetryIf determines if an error should be retried. Defaults to
	// IsTransient, so a broker or cache call only burns retry attempts on
	// the failures a retry can plausibly fix.
	RetryIf func(error) bool
}

// IsTransient classifies err as worth retrying: a connectivity hiccup or a
// deadline that a fresh attempt, possibly against a different node, might
// clear. Logic errors pkg/broker and pkg/cache also return as *errors.AppError,
// a missing key, a malformed record, a group that already exists, are not
// transient and retrying them would only delay the inevitable failure.
func IsTransient(err error) bool {
	return errors.Is(err, errors.CodeUnavailable) || errors.Is(err, errors.CodeDeadlineExceeded)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.1,
		RetryIf:        IsTransient,
	}
}
