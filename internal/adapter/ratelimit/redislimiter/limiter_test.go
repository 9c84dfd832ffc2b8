package redislimiter

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, rate, burst float64) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(client, rate, burst)
}

func TestLimiter_AllowsUpToBurst(t *testing.T) {
	l := newTestLimiter(t, 1, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := l.Allow(ctx, "client-a")
		require.NoError(t, err)
		require.True(t, allowed, "request %d should be allowed within burst", i)
	}

	allowed, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.False(t, allowed, "request beyond burst should be denied")
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := newTestLimiter(t, 1, 1)
	ctx := context.Background()

	allowedA, err := l.Allow(ctx, "client-a")
	require.NoError(t, err)
	require.True(t, allowedA)

	allowedB, err := l.Allow(ctx, "client-b")
	require.NoError(t, err)
	require.True(t, allowedB, "a different key should have its own bucket")
}
