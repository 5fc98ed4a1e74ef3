package lock

import (
	"context"
	"time"

	"github.com/itsatony/w4b_v3/server/devicehub/internal/errors"
	"github.com/redis/go-redis/v9"
	nuts "github.com/vaudience/go-nuts"
)

const redisKeyPrefix = "devicehub:lock:"

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Locker shared by every hub process using the same redis.
// A lock expires after ttl if its holder disappears.
type Redis struct {
	client redis.Cmdable
	ttl    time.Duration
	retry  time.Duration
}

var _ Locker = (*Redis)(nil)

func NewRedis(client redis.Cmdable, ttl, retry time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &Redis{client: client, ttl: ttl, retry: retry}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := redisKeyPrefix + key
	token := nuts.NID("lk", 16)

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, errors.NewUnavailableError("failed to acquire lock "+key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	return func() {
		// the caller's ctx may be gone by now
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{redisKey}, token).Err(); err != nil {
			nuts.L.Warnf("[RedisLocker] Failed to release %s: %v", key, err)
		}
	}, nil
}
