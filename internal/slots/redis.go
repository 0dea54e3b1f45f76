package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKeyStore shares fired trigger keys between scheduler instances
type RedisKeyStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisKeyStore creates a Redis-backed key store
func NewRedisKeyStore(client *redis.Client, prefix string, ttl time.Duration) *RedisKeyStore {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &RedisKeyStore{client: client, prefix: prefix, ttl: ttl}
}

// MarkFired implements KeyStore with SET NX
func (s *RedisKeyStore) MarkFired(ctx context.Context, key string, firedAt time.Time) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.prefix+key, firedAt.UTC().Format(time.RFC3339), s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

var _ KeyStore = (*RedisKeyStore)(nil)
