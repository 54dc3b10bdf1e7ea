package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vecport/vecport/internal/verrors"
)

func fastPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		Multiplier:    2.0,
		RetryableFunc: verrors.IsTransient,
	}
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), fastPolicy(), func() (int, error) {
		calls++
		if calls < 3 {
			return 0, verrors.NewTransient("fetch", "503")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(), func() (int, error) {
		calls++
		return 0, verrors.NewConnection("open", "bad key")
	})
	require.Error(t, err)
	assert.True(t, verrors.IsConnection(err))
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	retried := 0
	policy := fastPolicy()
	policy.OnRetry = func(attempt int, err error) { retried++ }
	_, err := Retry(context.Background(), policy, func() (int, error) {
		calls++
		return 0, verrors.NewTransient("fetch", "timeout")
	})
	require.Error(t, err)
	assert.True(t, verrors.IsTransient(err))
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, retried)
}

func TestRetryRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Retry(ctx, fastPolicy(), func() (int, error) {
		return 0, verrors.NewTransient("fetch", "503")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCalculateDelayCapped(t *testing.T) {
	policy := fastPolicy()
	assert.Equal(t, policy.InitialDelay, calculateDelay(policy, 0))
	assert.Equal(t, 2*time.Millisecond, calculateDelay(policy, 2))
	assert.Equal(t, policy.MaxDelay, calculateDelay(policy, 10))
}
