package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), "fetch", 3, time.Millisecond,
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errors.New("transient")
			}
			return 42, nil
		})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 3, calls)
}

func TestDoPropagatesLastError(t *testing.T) {
	lastErr := errors.New("still down")
	calls := 0
	_, err := Do(context.Background(), "fetch", 3, time.Millisecond,
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("earlier failure")
			}
			return "", lastErr
		})
	require.Error(t, err)
	assert.ErrorIs(t, err, lastErr)
	assert.Equal(t, 3, calls)
}

func TestDoFirstTrySuccess(t *testing.T) {
	calls := 0
	v, err := Do(context.Background(), "fetch", 3, time.Hour,
		func(ctx context.Context) (string, error) {
			calls++
			return "ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 1, calls)
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, "fetch", 3, time.Hour,
		func(ctx context.Context) (int, error) {
			return 0, errors.New("fail then wait")
		})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), "fetch", 0, time.Millisecond,
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errors.New("nope")
		})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}
