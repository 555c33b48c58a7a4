package compliance

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

const redisKeyPrefix = "contractr:ratelimit:"

// RedisLimiter is a fixed-window limiter shared by every process that talks
// to the same Redis.
type RedisLimiter struct {
	rdb    redis.Cmdable
	max    int64
	window time.Duration
}

// NewRedisLimiter allows max sends per key in each window.
func NewRedisLimiter(rdb redis.Cmdable, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := redisKeyPrefix + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, eris.Wrap(err, "ratelimit: incr")
	}
	if n == 1 {
		if err := l.rdb.PExpire(ctx, k, l.window).Err(); err != nil {
			return false, eris.Wrap(err, "ratelimit: expire")
		}
	}
	if n > l.max {
		// Rejected attempts do not count against the window.
		if err := l.rdb.Decr(ctx, k).Err(); err != nil {
			return false, eris.Wrap(err, "ratelimit: decr")
		}
		return false, nil
	}
	return true, nil
}

func (l *RedisLimiter) Release(ctx context.Context, key string) error {
	k := redisKeyPrefix + key
	n, err := l.rdb.Decr(ctx, k).Result()
	if err != nil {
		return eris.Wrap(err, "ratelimit: release")
	}
	if n <= 0 {
		if err := l.rdb.Del(ctx, k).Err(); err != nil {
			return eris.Wrap(err, "ratelimit: release cleanup")
		}
	}
	return nil
}
