package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitStore_AllowsUnderLimit(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := int64(0); i < 5; i++ {
		result, err := store.Allow(ctx, "user-1", 5, time.Minute)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, int64(5), result.Limit)
		assert.Equal(t, 5-i-1, result.Remaining)
	}
}

func TestRateLimitStore_DeniesOverLimit(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Allow(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
	}

	result, err := store.Allow(ctx, "user-1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, int64(0), result.Remaining)
}

func TestRateLimitStore_KeysAreIndependent(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRateLimitStore(client)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Allow(ctx, "user-1", 3, time.Minute)
		require.NoError(t, err)
	}

	result, err := store.Allow(ctx, "user-2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, result.Allowed, "counters must be scoped per key")
}

func TestRateLimitStore_WindowExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	store := NewRateLimitStore(client)
	ctx := context.Background()

	window := 2 * time.Second
	for i := 0; i < 2; i++ {
		_, err := store.Allow(ctx, "user-1", 2, window)
		require.NoError(t, err)
	}

	// The window key carries an expiry so stale counters do not accumulate.
	s.FastForward(window + 2*time.Second)
	keys := s.Keys()
	assert.Empty(t, keys, "expired window counters should be evicted")
}
