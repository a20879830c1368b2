package dedup

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore backs the dedup cache with Redis so multiple proxy processes
// behind a load balancer share hits. The key's TTL is set to evictAfter on
// Store; Lookup compares the remaining TTL against evictAfter to recover
// elapsed age and only reports a hit inside the shorter dedup window.
type RedisStore struct {
	client      *redis.Client
	prefix      string
	evictAfter  time.Duration
}

func NewRedisStore(client *redis.Client, evictAfter time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: "dedup:", evictAfter: evictAfter}
}

func (s *RedisStore) Lookup(ctx context.Context, fingerprint string, window time.Duration) (string, bool) {
	ttl, err := s.client.TTL(ctx, s.prefix+fingerprint).Result()
	if err != nil || ttl <= 0 {
		return "", false
	}
	elapsed := s.evictAfter - ttl
	if elapsed >= window {
		return "", false
	}
	val, err := s.client.Get(ctx, s.prefix+fingerprint).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (s *RedisStore) Store(ctx context.Context, fingerprint string, text string, evictAfter time.Duration) {
	s.evictAfter = evictAfter
	_ = s.client.Set(ctx, s.prefix+fingerprint, text, evictAfter).Err()
}
