package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitPacesSameHost(t *testing.T) {
	t.Parallel()

	var observed []string
	l := New(Config{RatePerSecond: 10, Burst: 1}, WithObserver(func(host string, _ time.Duration) {
		observed = append(observed, host)
	}))
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://www.facebook.com/acme"))
	require.NoError(t, l.Wait(ctx, "https://WWW.facebook.com/bolt"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, []string{"www.facebook.com"}, observed)
}

func TestWaitHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 1, Burst: 1})
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.test/x"))
	require.NoError(t, l.Wait(ctx, "https://b.test/x"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestWaitUnlimited(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.test"))
	}
}

func TestWaitRespectsContext(t *testing.T) {
	t.Parallel()

	l := New(Config{RatePerSecond: 0.1, Burst: 1})
	require.NoError(t, l.Wait(context.Background(), "https://a.test"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, l.Wait(ctx, "https://a.test"))
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.com", hostOf("https://Example.com:8443/path"))
	assert.Equal(t, "unknown", hostOf("::not a url"))
	assert.Equal(t, "unknown", hostOf("/relative"))
}
