package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CallbackCache implements ports.CallbackCache using Redis. It is the fast
// path for duplicate callback deliveries; callback_records in PostgreSQL
// stays authoritative.
type CallbackCache struct {
	client *goredis.Client
	prefix string
}

// NewCallbackCache creates a new Redis-backed callback ack cache.
func NewCallbackCache(client *goredis.Client) *CallbackCache {
	return &CallbackCache{
		client: client,
		prefix: "callback:",
	}
}

// Get retrieves a cached ack by gateway reference.
// Returns nil, nil if the key does not exist.
func (c *CallbackCache) Get(ctx context.Context, gatewayReference string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+gatewayReference).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis callback get: %w", err)
	}
	return val, nil
}

// Set stores an ack in the callback cache with TTL.
func (c *CallbackCache) Set(ctx context.Context, gatewayReference string, ack []byte, ttl time.Duration) error {
	err := c.client.Set(ctx, c.prefix+gatewayReference, ack, ttl).Err()
	if err != nil {
		return fmt.Errorf("redis callback set: %w", err)
	}
	return nil
}
