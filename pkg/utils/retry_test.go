package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryWithResult_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (int, error) {
		attempts++
		if attempts < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_ExhaustsBudget(t *testing.T) {
	sentinel := errors.New("always fails")
	attempts := 0
	_, err := RetryWithResult(context.Background(), fastRetryConfig(), func() (string, error) {
		attempts++
		return "", sentinel
	})

	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithResult_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	_, err := RetryWithResult(ctx, fastRetryConfig(), func() (int, error) {
		attempts++
		return 0, errors.New("transient")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.01, Clamp(0.001, 0.01, 0.15))
	assert.Equal(t, 0.15, Clamp(0.9, 0.01, 0.15))
	assert.Equal(t, 0.08, Clamp(0.08, 0.01, 0.15))
}
