package broker

import (
	"context"
	"time"

	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/resilience"
)

// ResilientConfig configures the circuit breaker and retry wrapping a Client.
type ResilientConfig struct {
	CircuitBreakerEnabled   bool          `env:"BROKER_CB_ENABLED" env-default:"true"`
	CircuitBreakerThreshold int64         `env:"BROKER_CB_THRESHOLD" env-default:"5"`
	CircuitBreakerTimeout   time.Duration `env:"BROKER_CB_TIMEOUT" env-default:"30s"`

	RetryEnabled     bool          `env:"BROKER_RETRY_ENABLED" env-default:"true"`
	RetryMaxAttempts int           `env:"BROKER_RETRY_MAX" env-default:"3"`
	RetryBackoff     time.Duration `env:"BROKER_RETRY_BACKOFF" env-default:"100ms"`
}

// ResilientClient wraps a Client with a circuit breaker and exponential
// backoff retry, so a transient broker outage degrades to backoff-and-retry
// instead of crashing the role instance.
type ResilientClient struct {
	next     Client
	cb       *resilience.CircuitBreaker
	retryCfg resilience.RetryConfig
}

// NewResilientClient wraps next per cfg.
func NewResilientClient(next Client, cfg ResilientConfig) *ResilientClient {
	rc := &ResilientClient{next: next}

	if cfg.CircuitBreakerEnabled {
		rc.cb = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:             "broker",
			FailureThreshold: cfg.CircuitBreakerThreshold,
			SuccessThreshold: 2,
			Timeout:          cfg.CircuitBreakerTimeout,
		})
	}

	if cfg.RetryEnabled {
		rc.retryCfg = resilience.RetryConfig{
			MaxAttempts:    cfg.RetryMaxAttempts,
			InitialBackoff: cfg.RetryBackoff,
			MaxBackoff:     5 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.1,
			// A dropped connection (CodeConnectionFailed) is retryable on
			// top of the generic transient codes resilience.IsTransient
			// already covers, since the adapter can reconnect on the next
			// attempt.
			RetryIf: func(err error) bool {
				return resilience.IsTransient(err) || errors.Is(err, CodeConnectionFailed)
			},
		}
	}

	return rc
}

func (rc *ResilientClient) execute(ctx context.Context, fn resilience.Executor) error {
	if rc.retryCfg.MaxAttempts > 0 {
		return resilience.RetryWithCircuitBreaker(ctx, rc.cb, rc.retryCfg, fn)
	}
	if rc.cb != nil {
		return rc.cb.Execute(ctx, fn)
	}
	return fn(ctx)
}

func (rc *ResilientClient) Append(ctx context.Context, stream string, fields map[string]string) (string, error) {
	var id string
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		id, err = rc.next.Append(ctx, stream, fields)
		return err
	})
	return id, err
}

func (rc *ResilientClient) EnsureGroup(ctx context.Context, stream, group string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.EnsureGroup(ctx, stream, group)
	})
}

func (rc *ResilientClient) ReadGroup(ctx context.Context, group, consumer string, streams []string, count int64, block time.Duration) ([]Entry, error) {
	var entries []Entry
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = rc.next.ReadGroup(ctx, group, consumer, streams, count, block)
		return err
	})
	return entries, err
}

func (rc *ResilientClient) Ack(ctx context.Context, stream, group, id string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.Ack(ctx, stream, group, id)
	})
}

func (rc *ResilientClient) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration) ([]Entry, error) {
	var entries []Entry
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		entries, err = rc.next.Claim(ctx, stream, group, consumer, minIdle)
		return err
	})
	return entries, err
}

func (rc *ResilientClient) KVGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	var ok bool
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		value, ok, err = rc.next.KVGet(ctx, key)
		return err
	})
	return value, ok, err
}

func (rc *ResilientClient) KVSet(ctx context.Context, key, value string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.KVSet(ctx, key, value)
	})
}

func (rc *ResilientClient) KVDel(ctx context.Context, key string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.KVDel(ctx, key)
	})
}

func (rc *ResilientClient) Incr(ctx context.Context, key string, delta int64) (int64, error) {
	var result int64
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = rc.next.Incr(ctx, key, delta)
		return err
	})
	return result, err
}

func (rc *ResilientClient) Scan(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = rc.next.Scan(ctx, prefix)
		return err
	})
	return out, err
}

func (rc *ResilientClient) ListPush(ctx context.Context, key, value string, maxLen int64) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.ListPush(ctx, key, value, maxLen)
	})
}

func (rc *ResilientClient) ListRange(ctx context.Context, key string, n int64) ([]string, error) {
	var out []string
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		out, err = rc.next.ListRange(ctx, key, n)
		return err
	})
	return out, err
}

func (rc *ResilientClient) ListLen(ctx context.Context, key string) (int64, error) {
	var n int64
	err := rc.execute(ctx, func(ctx context.Context) error {
		var err error
		n, err = rc.next.ListLen(ctx, key)
		return err
	})
	return n, err
}

func (rc *ResilientClient) Publish(ctx context.Context, channel, payload string) error {
	return rc.execute(ctx, func(ctx context.Context) error {
		return rc.next.Publish(ctx, channel, payload)
	})
}

func (rc *ResilientClient) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	return rc.next.Subscribe(ctx, channel)
}

func (rc *ResilientClient) Close() error {
	return rc.next.Close()
}

// Unwrap returns the underlying client.
func (rc *ResilientClient) Unwrap() Client {
	return rc.next
}

var _ Client = (*ResilientClient)(nil)
