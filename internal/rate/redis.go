package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter shares counters across processes. Expiry is delegated to Redis TTLs.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
	prefix string
}

// NewRedis creates a Redis-backed limiter. Keys are namespaced by prefix and the
// limiter name.
func NewRedis(redisClient redis.UniversalClient, prefix string, cfg Config) *RedisLimiter {
	if prefix == "" {
		prefix = "sg"
	}
	return &RedisLimiter{
		redis:  redisClient,
		config: cfg,
		prefix: prefix + ":rl:" + cfg.Name,
	}
}

func (l *RedisLimiter) Config() Config { return l.config }

func (l *RedisLimiter) counterKey(id string) string { return l.prefix + ":c:" + id }
func (l *RedisLimiter) blockKey(id string) string   { return l.prefix + ":b:" + id }

func (l *RedisLimiter) IsLimited(ctx context.Context, id string) (bool, error) {
	blocked, err := l.redis.Exists(ctx, l.blockKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if blocked > 0 {
		return true, nil
	}

	count, err := l.incrementWithTTL(ctx, l.counterKey(id), l.config.Window)
	if err != nil {
		return false, err
	}
	if count <= int64(l.config.MaxAttempts) {
		return false, nil
	}

	if l.config.BlockDuration > 0 {
		if err := l.redis.Set(ctx, l.blockKey(id), 1, l.config.BlockDuration).Err(); err != nil {
			return true, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return true, nil
}

func (l *RedisLimiter) RemainingAttempts(ctx context.Context, id string) (int, error) {
	blocked, err := l.redis.Exists(ctx, l.blockKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if blocked > 0 {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.counterKey(id)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return l.config.MaxAttempts, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if remaining := int64(l.config.MaxAttempts) - count; remaining > 0 {
		return int(remaining), nil
	}
	return 0, nil
}

func (l *RedisLimiter) RetryAfter(ctx context.Context, id string) (time.Duration, error) {
	ttl, err := l.redis.PTTL(ctx, l.blockKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl > 0 {
		return ttl, nil
	}

	remaining, err := l.RemainingAttempts(ctx, id)
	if err != nil || remaining > 0 {
		return 0, err
	}
	ttl, err = l.redis.PTTL(ctx, l.counterKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

func (l *RedisLimiter) Reset(ctx context.Context, id string) error {
	if err := l.redis.Del(ctx, l.counterKey(id), l.blockKey(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Cleanup is a no-op: counters and blacklist markers carry TTLs.
func (l *RedisLimiter) Cleanup(context.Context) (int, error) {
	return 0, nil
}

func (l *RedisLimiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.PExpire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
