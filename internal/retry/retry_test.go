package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDoStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), zap.NewNop(), "connect", func(int) error {
		calls++
		return boom
	}, Config{MaxAttempts: 3, Delay: time.Millisecond})

	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
}

func TestDoSucceedsOnLaterAttempt(t *testing.T) {
	t.Parallel()

	var seen []int
	err := Do(context.Background(), nil, "connect", func(attempt int) error {
		seen = append(seen, attempt)
		if attempt < 2 {
			return errors.New("not yet")
		}
		return nil
	}, Config{MaxAttempts: 3, Delay: time.Millisecond})

	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, seen)
}

func TestDoWaitsFixedDelay(t *testing.T) {
	t.Parallel()

	start := time.Now()
	_ = Do(context.Background(), nil, "connect", func(int) error {
		return errors.New("down")
	}, Config{MaxAttempts: 3, Delay: 20 * time.Millisecond})

	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDoPermanentErrorShortCircuits(t *testing.T) {
	t.Parallel()

	calls := 0
	bad := errors.New("bad dsn")
	err := Do(context.Background(), nil, "connect", func(int) error {
		calls++
		return Permanent(bad)
	}, Config{MaxAttempts: 5, Delay: time.Millisecond})

	require.ErrorIs(t, err, bad)
	require.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	_ = Do(context.Background(), nil, "connect", func(int) error {
		calls++
		return errors.New("x")
	}, Config{})
	require.Equal(t, 1, calls)
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.Equal(t, 3, cfg.MaxAttempts)
	require.Equal(t, 2*time.Second, cfg.Delay)
}
