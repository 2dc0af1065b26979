package auth

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const redisTrackerPrefix = "sms:login:"

// RedisTracker shares login failure state between replicas. Failures live
// in a sorted set scored by time; a lock is a key with a TTL.
type RedisTracker struct {
	client *redis.Client
	cfg    TrackerConfig
	now    func() time.Time
}

// NewRedisTracker creates a Redis backed tracker
func NewRedisTracker(client *redis.Client, cfg TrackerConfig) *RedisTracker {
	return &RedisTracker{client: client, cfg: cfg, now: time.Now}
}

func (t *RedisTracker) failuresKey(key string) string {
	return redisTrackerPrefix + "fail:" + key
}

func (t *RedisTracker) lockKey(key string) string {
	return redisTrackerPrefix + "lock:" + key
}

// CheckLocked implements LoginTracker
func (t *RedisTracker) CheckLocked(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := t.client.PTTL(ctx, t.lockKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("check lock: %w", err)
	}
	if ttl > 0 {
		return ttl, nil
	}
	return 0, nil
}

// RegisterFailure implements LoginTracker
func (t *RedisTracker) RegisterFailure(ctx context.Context, key string) (time.Duration, error) {
	if remaining, err := t.CheckLocked(ctx, key); err != nil || remaining > 0 {
		return remaining, err
	}

	now := t.now()
	fk := t.failuresKey(key)
	cutoff := strconv.FormatInt(now.Add(-t.cfg.Window).UnixNano(), 10)

	pipe := t.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, fk, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, fk, &redis.Z{Score: float64(now.UnixNano()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, fk)
	pipe.PExpire(ctx, fk, t.cfg.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}

	if count.Val() < int64(t.cfg.MaxAttempts) {
		return 0, nil
	}

	pipe = t.client.TxPipeline()
	pipe.Set(ctx, t.lockKey(key), strconv.FormatInt(now.Add(t.cfg.Lockout).Unix(), 10), t.cfg.Lockout)
	pipe.Del(ctx, fk)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("lock account: %w", err)
	}
	return t.cfg.Lockout, nil
}

// Reset implements LoginTracker
func (t *RedisTracker) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.failuresKey(key), t.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("reset tracker: %w", err)
	}
	return nil
}
