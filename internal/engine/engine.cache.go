package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	nuts "github.com/vaudience/go-nuts"
)

// Cache remembers engine existence answers. Failures are misses.
type Cache interface {
	Get(ctx context.Context, id string) (exists bool, hit bool)
	Set(ctx context.Context, id string, exists bool)
	Delete(ctx context.Context, id string)
}

const cacheKeyPrefix = "devicehub:engine:"

// RedisCache stores "1" or "0" per engine id with a TTL
type RedisCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ Cache = (*RedisCache)(nil)

func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, id string) (bool, bool) {
	val, err := c.client.Get(ctx, cacheKeyPrefix+id).Result()
	if err != nil {
		if err != redis.Nil {
			nuts.L.Warnf("[EngineCache] Failed to read %s: %v", id, err)
		}
		return false, false
	}
	return val == "1", true
}

func (c *RedisCache) Set(ctx context.Context, id string, exists bool) {
	val := "0"
	if exists {
		val = "1"
	}
	if err := c.client.Set(ctx, cacheKeyPrefix+id, val, c.ttl).Err(); err != nil {
		nuts.L.Warnf("[EngineCache] Failed to write %s: %v", id, err)
	}
}

func (c *RedisCache) Delete(ctx context.Context, id string) {
	if err := c.client.Del(ctx, cacheKeyPrefix+id).Err(); err != nil {
		nuts.L.Warnf("[EngineCache] Failed to delete %s: %v", id, err)
	}
}
