package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pybrook/pybrook/pkg/errors"
)

// Sentinel errors returned by CircuitBreaker.Execute.
var (
	ErrCircuitOpen      = errors.New(errors.CodeUnavailable, "circuit breaker is open", nil)
	ErrTooManyRequests  = errors.New(errors.CodeUnavailable, "too many requests in half-open state", nil)
)

// CircuitBreaker implements the circuit breaker pattern around an Executor.
//
// Unlike a generic request gate, this breaker is scoped per upstream
// dependency (one per broker adapter instance) so that a struggling Redis
// node does not starve role goroutines talking to a healthy one.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int64
	successes     int64
	lastFailure   time.Time
	halfOpenCount int64
}

// NewCircuitBreaker creates a circuit breaker from cfg, filling in defaults
// mirroring DefaultCircuitBreakerConfig for any zero field.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// Execute runs fn if the circuit permits it, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn Executor) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err == nil)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.cfg.Timeout {
			cb.transition(StateHalfOpen)
			cb.halfOpenCount = 1
			return nil
		}
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= 1 {
			return ErrTooManyRequests
		}
		cb.halfOpenCount++
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) after(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if success {
			cb.failures = 0
			return
		}
		cb.failures++
		cb.lastFailure = time.Now()
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		if success {
			cb.successes++
			if cb.successes >= cb.cfg.SuccessThreshold {
				cb.transition(StateClosed)
				return
			}
			// Free the probe slot so the next call can probe too.
			cb.halfOpenCount--
			return
		}
		cb.transition(StateOpen)
	}
}

func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenCount = 0
	if to == StateOpen {
		cb.lastFailure = time.Now()
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State reports the breaker's current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
