package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
		AddJitter:    false,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(3), func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
	assert.Equal(t, 3, attempts)
}

func TestRetry_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(0), func() error {
		attempts++
		return errors.New("error")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestRetry_ForeverStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	err := Do(ctx, fastConfig(Forever), func() error {
		attempts++
		if attempts == 5 {
			cancel()
		}
		return errors.New("broker down")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 5, attempts)
}

func TestRetry_ForeverEventuallySucceeds(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), fastConfig(Forever), func() error {
		attempts++
		if attempts < 7 {
			return errors.New("not yet")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 7, attempts)
}

func TestRetry_NonRetryable(t *testing.T) {
	attempts := 0
	authErr := errors.New("not authorized")

	err := Do(context.Background(), fastConfig(Forever), func() error {
		attempts++
		return NonRetryable(authErr)
	})

	require.Error(t, err)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, 1, attempts)
}

func TestRetry_OnRetryCallback(t *testing.T) {
	var seen []int
	cfg := fastConfig(3)
	cfg.OnRetry = func(attempt int, delay time.Duration, err error) {
		seen = append(seen, attempt)
		assert.Greater(t, int64(delay), int64(0))
		assert.EqualError(t, err, "boom")
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("boom") })

	// No callback after the final attempt
	assert.Equal(t, []int{1, 2}, seen)
}

func TestRetry_BackoffCappedByMaxDelay(t *testing.T) {
	var delays []time.Duration
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   10,
		OnRetry: func(_ int, delay time.Duration, _ error) {
			delays = append(delays, delay)
		},
	}

	_ = Do(context.Background(), cfg, func() error { return errors.New("x") })

	assert.Equal(t, []time.Duration{
		2 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond,
	}, delays)
}

func TestRetry_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"negative initial", Config{InitialDelay: -1}},
		{"negative max", Config{MaxDelay: -1}},
		{"negative multiplier", Config{Multiplier: -1}},
		{"max below initial", Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Do(context.Background(), tt.cfg, func() error { return nil })
			assert.Error(t, err)
		})
	}
}

func TestDoWithResult(t *testing.T) {
	attempts := 0
	got, err := DoWithResult(context.Background(), fastConfig(3), func() (string, error) {
		attempts++
		if attempts == 1 {
			return "", errors.New("first fails")
		}
		return "connected", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "connected", got)
}
