package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const ratePrefix = "rate:v1:"

// Cache holds recently used rates keyed by pair hash.
type Cache interface {
	Get(ctx context.Context, hash string) (Rate, bool, error)
	Set(ctx context.Context, rate Rate) error
}

// RedisCache stores rates as JSON strings in Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache builds a rate cache. A zero ttl keeps entries until evicted.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get returns the cached rate for hash. A miss is (Rate{}, false, nil).
func (c *RedisCache) Get(ctx context.Context, hash string) (Rate, bool, error) {
	raw, err := c.client.Get(ctx, ratePrefix+hash).Result()
	if errors.Is(err, redis.Nil) {
		return Rate{}, false, nil
	}
	if err != nil {
		return Rate{}, false, fmt.Errorf("get cached rate: %w", err)
	}

	var rate Rate
	if err := json.Unmarshal([]byte(raw), &rate); err != nil {
		return Rate{}, false, fmt.Errorf("decode cached rate: %w", err)
	}
	return rate, true, nil
}

// Set writes rate under its pair hash.
func (c *RedisCache) Set(ctx context.Context, rate Rate) error {
	payload, err := json.Marshal(rate)
	if err != nil {
		return fmt.Errorf("encode rate: %w", err)
	}
	if err := c.client.Set(ctx, ratePrefix+rate.Hash, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached rate: %w", err)
	}
	return nil
}
