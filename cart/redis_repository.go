package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository stores carts as JSON blobs. Guest carts carry a key TTL matching
// ExpiresAt so Redis evicts them without a sweep.
type RedisRepository struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewRedisRepository creates a repository under prefix. A nil now uses time.Now.
func NewRedisRepository(rdb redis.UniversalClient, prefix string, now func() time.Time) *RedisRepository {
	if prefix == "" {
		prefix = "sg"
	}
	if now == nil {
		now = time.Now
	}
	return &RedisRepository{redis: rdb, prefix: prefix, now: now}
}

func (r *RedisRepository) key(id string) string {
	return r.prefix + ":cart:" + id
}

func (r *RedisRepository) Get(ctx context.Context, id string) (*Cart, error) {
	raw, err := r.redis.Get(ctx, r.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var c Cart
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return &c, nil
}

func (r *RedisRepository) Save(ctx context.Context, c *Cart) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	var ttl time.Duration
	if !c.ExpiresAt.IsZero() {
		ttl = c.ExpiresAt.Sub(r.now())
		if ttl < time.Second {
			ttl = time.Second
		}
	}
	if err := r.redis.Set(ctx, r.key(c.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (r *RedisRepository) Delete(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// DeleteExpired is a no-op; key TTLs evict guest carts.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
