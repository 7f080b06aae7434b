package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"bronivik/bronivik_schedule/internal/model"
	"bronivik/bronivik_schedule/internal/slots"
)

const keyPrefix = "availability"

// RedisCache keeps month availability summaries in Redis. Revisions are
// local to one process, so keys carry an instance id.
type RedisCache struct {
	redis    redis.UniversalClient
	ttl      time.Duration
	instance string
}

func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	return &RedisCache{redis: client, ttl: ttl, instance: uuid.NewString()}
}

func (c *RedisCache) key(month string, duration int, revision uint64) string {
	return fmt.Sprintf("%s:%s:%s:%d:r%d", keyPrefix, c.instance, month, duration, revision)
}

// Get reports a miss (false, nil) when the key is absent or caching is off.
func (c *RedisCache) Get(ctx context.Context, month string, duration int, revision uint64) (map[model.Date]slots.DaySummary, bool, error) {
	if c.redis == nil || c.ttl <= 0 {
		return nil, false, nil
	}

	val, err := c.redis.Get(ctx, c.key(month, duration, revision)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var days map[model.Date]slots.DaySummary
	if err := json.Unmarshal(val, &days); err != nil {
		return nil, false, fmt.Errorf("cache decode: %w", err)
	}
	return days, true, nil
}

func (c *RedisCache) Set(ctx context.Context, month string, duration int, revision uint64, days map[model.Date]slots.DaySummary) error {
	if c.redis == nil || c.ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.redis.Set(ctx, c.key(month, duration, revision), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}
