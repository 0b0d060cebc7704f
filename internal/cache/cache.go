// Package cache provides the key-value cache used to memoize identity lookups
// and to hold short-lived social login state.
//
// Dependencies:
//   - github.com/redis/go-redis/v9: Redis-backed implementation
//
// Debugging Notes:
//   - Identity records live under "identity:{legacyId}"
//   - Social login state lives under "social:state:{token}" and is consumed on read
//   - Writes are fire-and-forget from the caller's perspective; nothing here
//     protects against read-modify-write races
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the get/set/delete contract consumed by the identity and social packages.
// Get reports a miss with ok=false and a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take returns and removes the value in one step.
	Take(ctx context.Context, key string) (value []byte, ok bool, err error)
}

// IdentityKey returns the cache key for an identity record.
func IdentityKey(legacyID string) string {
	return "identity:" + legacyID
}

// SocialStateKey returns the cache key for a pending social login.
func SocialStateKey(state string) string {
	return "social:state:" + state
}

// RedisCache implements Cache backed by Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return data, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache delete %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Take(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache take %s: %w", key, err)
	}
	return data, true, nil
}

// Noop never stores anything. Used when Redis is not configured.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Delete(context.Context, string) error { return nil }
func (Noop) Take(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
