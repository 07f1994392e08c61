package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type counterClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	PTTL(ctx context.Context, key string) *redis.DurationCmd
}

// RateLimitStore is a fixed-window counter per client key. It satisfies
// middleware.LimitStore.
type RateLimitStore struct {
	client counterClient
	prefix string
	limit  int64
	window time.Duration
}

func NewRateLimitStore(client *redis.Client, limit int, window time.Duration) *RateLimitStore {
	return newRateLimitStore(client, limit, window)
}

func newRateLimitStore(client counterClient, limit int, window time.Duration) *RateLimitStore {
	if window <= 0 {
		window = time.Second
	}
	if limit < 1 {
		limit = 1
	}
	return &RateLimitStore{client: client, prefix: "ratelimit:", limit: int64(limit), window: window}
}

func (s *RateLimitStore) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	k := s.prefix + key
	n, err := s.client.Incr(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", k, err)
	}
	if n == 1 {
		if err := s.client.Expire(ctx, k, s.window).Err(); err != nil {
			return false, 0, fmt.Errorf("expire %s: %w", k, err)
		}
	}
	if n <= s.limit {
		return true, 0, nil
	}

	ttl, err := s.client.PTTL(ctx, k).Result()
	if err != nil {
		return false, 0, fmt.Errorf("pttl %s: %w", k, err)
	}
	if ttl < 0 {
		// The key lost its expiry; restore it so the client is not locked
		// out forever.
		_ = s.client.Expire(ctx, k, s.window).Err()
		ttl = s.window
	}
	return false, ttl, nil
}
