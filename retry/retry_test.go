package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(maxRetries int32) *Config {
	cfg := Bounded(maxRetries)
	cfg.InitialDelayBeforeRetrying = time.Millisecond
	cfg.MaxDelayBeforeRetrying = 2 * time.Millisecond
	return cfg
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), fastConfig(5), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, nil, "flaky op")

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 3, calls)
}

func TestDoStopsAtMaxRetries(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastConfig(2), func(context.Context) (int, error) {
		calls++
		return 0, errors.New("down")
	}, nil, "always failing")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Failed after max 2 retries: always failing")
	assert.Equal(t, 3, calls)
}

func TestDoHonoursShouldRetry(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := Do(context.Background(), fastConfig(5), func(context.Context) (int, error) {
		calls++
		return 0, permanent
	}, func(err error) bool { return !errors.Is(err, permanent) }, "permanent op")

	require.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDoStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastConfig(InfiniteRetries), func(context.Context) (int, error) {
		return 0, errors.New("nope")
	}, nil, "cancelled op")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "context error during retry")
}
