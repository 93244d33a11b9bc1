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

func TestCallbackCache_SetAndGet(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewCallbackCache(client)
	ctx := context.Background()

	ref := "gw-ref-42"
	ack := []byte(`{"intent_id":"abc","status":"COMPLETED"}`)

	// Get before set => nil
	result, err := cache.Get(ctx, ref)
	assert.NoError(t, err)
	assert.Nil(t, result)

	// Set
	err = cache.Set(ctx, ref, ack, 24*time.Hour)
	require.NoError(t, err)

	// Get after set
	result, err = cache.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, ack, result)
}

func TestCallbackCache_TTLExpiry(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewCallbackCache(client)
	ctx := context.Background()

	err := cache.Set(ctx, "gw-ref-1", []byte(`{"data":"test"}`), 1*time.Second)
	require.NoError(t, err)

	// Fast-forward time in miniredis
	s.FastForward(2 * time.Second)

	result, err := cache.Get(ctx, "gw-ref-1")
	assert.NoError(t, err)
	assert.Nil(t, result, "expired key should return nil")
}

func TestCallbackCache_KeysAreScoped(t *testing.T) {
	s := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: s.Addr()})
	cache := NewCallbackCache(client)
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "gw-ref-1", []byte("a"), time.Hour))

	assert.True(t, s.Exists("callback:gw-ref-1"))
}
