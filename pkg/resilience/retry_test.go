package resilience_test

import (
	"context"
	"testing"

	"github.com/pybrook/pybrook/pkg/errors"
	"github.com/pybrook/pybrook/pkg/resilience"
	"github.com/stretchr/testify/require"
)

func TestIsTransientAcceptsUnavailableAndDeadlineExceeded(t *testing.T) {
	require.True(t, resilience.IsTransient(errors.Unavailable("broker down", nil)))
	require.True(t, resilience.IsTransient(errors.New(errors.CodeDeadlineExceeded, "timed out", nil)))
}

func TestIsTransientRejectsLogicErrors(t *testing.T) {
	require.False(t, resilience.IsTransient(errors.InvalidArgument("bad record", nil)))
	require.False(t, resilience.IsTransient(errors.NotFound("missing key", nil)))
	require.False(t, resilience.IsTransient(nil))
}

func TestRetryStopsImmediatelyOnNonTransientError(t *testing.T) {
	attempts := 0
	err := resilience.Retry(context.Background(), resilience.DefaultRetryConfig(), func(ctx context.Context) error {
		attempts++
		return errors.InvalidArgument("malformed payload", nil)
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}

func TestRetryRetriesTransientErrorUntilSuccess(t *testing.T) {
	attempts := 0
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialBackoff = 0
	cfg.MaxBackoff = 0

	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.Unavailable("broker unreachable", nil)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryWrapsLastErrorAfterExhaustingAttempts(t *testing.T) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = 0
	cfg.MaxBackoff = 0

	err := resilience.Retry(context.Background(), cfg, func(ctx context.Context) error {
		return errors.Unavailable("broker unreachable", nil)
	})
	require.Error(t, err)
	require.True(t, errors.Is(err, errors.CodeUnavailable))
	require.Contains(t, err.Error(), "gave up after 2 attempts")
}

func TestRetryWithCircuitBreakerToleratesNilBreaker(t *testing.T) {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 1

	err := resilience.RetryWithCircuitBreaker(context.Background(), nil, cfg, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
}

func TestRetryWithCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          0,
	})
	cfg := resilience.RetryConfig{MaxAttempts: 1, RetryIf: func(error) bool { return false }}

	failing := func(ctx context.Context) error { return errors.Unavailable("down", nil) }
	_ = resilience.RetryWithCircuitBreaker(context.Background(), cb, cfg, failing)
	_ = resilience.RetryWithCircuitBreaker(context.Background(), cb, cfg, failing)

	require.Equal(t, resilience.StateOpen, cb.State())

	err := resilience.RetryWithCircuitBreaker(context.Background(), cb, cfg, failing)
	require.ErrorIs(t, err, resilience.ErrCircuitOpen)
}
