package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter implements a fixed window limit in Redis so the
// limit is shared across replicas
type DistributedRateLimiter struct {
	redis  *redis.Client
	cfg    RateLimitConfig
	window time.Duration
	prefix string
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter. The
// window admits RequestsPerMinute plus Burst requests per minute.
func NewDistributedRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, prefix string) *DistributedRateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg = DefaultRateLimitConfig()
	}
	if prefix == "" {
		prefix = "sms:ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		cfg:    cfg,
		window: time.Minute,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return fmt.Sprintf("%s:%s", rl.prefix, key)
}

// Allow implements Limiter
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := rl.key(key)

	count, err := rl.redis.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, 0, fmt.Errorf("redis error: %w", err)
	}
	// first hit in the window starts the clock
	if count == 1 {
		if err := rl.redis.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, 0, fmt.Errorf("redis error: %w", err)
		}
	}

	if count <= int64(rl.cfg.RequestsPerMinute+rl.cfg.Burst) {
		return true, 0, nil
	}
	wait, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil || wait <= 0 {
		wait = rl.window
	}
	return false, wait, nil
}

// Reset clears the counter for a key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}
