// Package ratelimit implements the fixed-window counters from spec.md
// §4.9, directly adapted from the teacher's
// RedisService.CheckRateLimit: INCR the window key, set its expiry on
// the first hit, compare against the configured ceiling.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter enforces both the global per-IP limit and the per-user limit
// named in spec.md §4.9 — two independently-keyed instances of the same
// fixed-window algorithm.
type Limiter struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Limiter {
	return &Limiter{rdb: rdb, prefix: prefix}
}

// Allow reports whether subject (an IP or a user id) has stayed within
// limit requests during the current window. The key's TTL is (re)armed
// only on the window's first increment, so it always expires exactly
// window after the window opened.
func (l *Limiter) Allow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, subject)

	count, err := l.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: failed to increment counter: %w", err)
	}

	if count == 1 {
		if err := l.rdb.Expire(ctx, key, window).Err(); err != nil {
			return false, fmt.Errorf("ratelimit: failed to arm window expiry: %w", err)
		}
	}

	return count <= int64(limit), nil
}

// Reset clears subject's current window, used by tests.
func (l *Limiter) Reset(ctx context.Context, subject string) error {
	return l.rdb.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, subject)).Err()
}
