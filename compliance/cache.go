package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache fronts Ledger.Status for suspended users. Entries are dropped
// by the ledger after every committed write.
type StatusCache interface {
	Get(ctx context.Context, userID string) (Standing, bool, error)
	Set(ctx context.Context, userID string, st Standing) error
	Invalidate(ctx context.Context, userID string) error
}

// RedisStatusCache stores standings as JSON strings with a TTL.
type RedisStatusCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisStatusCache{
		client: client,
		prefix: "compliance:status:",
		ttl:    ttl,
	}
}

func (c *RedisStatusCache) key(userID string) string {
	return c.prefix + userID
}

func (c *RedisStatusCache) Get(ctx context.Context, userID string) (Standing, bool, error) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Standing{}, false, nil
	}
	if err != nil {
		return Standing{}, false, fmt.Errorf("compliance: cache get: %w", err)
	}
	var st Standing
	if err := json.Unmarshal(raw, &st); err != nil {
		return Standing{}, false, fmt.Errorf("compliance: cache decode: %w", err)
	}
	return st, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, userID string, st Standing) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("compliance: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.key(userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("compliance: cache set: %w", err)
	}
	return nil
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("compliance: cache invalidate: %w", err)
	}
	return nil
}
