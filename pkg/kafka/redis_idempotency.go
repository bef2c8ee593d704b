package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisIdempotencyPrefix namespaces dedup keys so multiple consumer groups
// can share one Redis instance.
const redisIdempotencyPrefix = "fulfillment:seen:"

// RedisIdempotencyStore is a Redis-backed IdempotencyStore shared across
// worker instances and regions. Keys expire after the configured TTL so the
// seen-set stays bounded.
type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotencyStore creates a Redis-backed idempotency store.
func NewRedisIdempotencyStore(client *redis.Client, ttl time.Duration) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, ttl: ttl}
}

// Contains checks whether the dedup key has been recorded.
func (s *RedisIdempotencyStore) Contains(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisIdempotencyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Add records the dedup key with the store TTL.
func (s *RedisIdempotencyStore) Add(ctx context.Context, key string) error {
	if err := s.client.Set(ctx, redisIdempotencyPrefix+key, 1, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
