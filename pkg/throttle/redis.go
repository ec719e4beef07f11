package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSignal shares a throttle window across processes via Redis,
// grounded on the same INCR+EXPIRE idiom the teacher's request-rate
// limiter used: the first INCR to see a key at 1 owns setting its
// expiry, so concurrent publishers never race on two separate EXPIRE
// calls clobbering each other's TTL.
type RedisSignal struct {
	client *redis.Client
	prefix string
}

// NewRedisSignal wraps an existing client. prefix namespaces keys so the
// throttle signal can share a Redis instance with unrelated data.
func NewRedisSignal(client *redis.Client, prefix string) *RedisSignal {
	if prefix == "" {
		prefix = "feedrelay:throttle:"
	}
	return &RedisSignal{client: client, prefix: prefix}
}

func (s *RedisSignal) key(key string) string {
	return s.prefix + key
}

func (s *RedisSignal) Publish(ctx context.Context, key string, ttl time.Duration) error {
	n, err := s.client.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("incrementing throttle key %s: %w", key, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
			return fmt.Errorf("setting throttle key %s expiry: %w", key, err)
		}
	}
	return nil
}

func (s *RedisSignal) Throttled(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Get(ctx, s.key(key)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading throttle key %s: %w", key, err)
	}
	return n > 0, nil
}
