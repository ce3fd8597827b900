// Package redisclient constructs the single shared Redis connection used by
// the lock service, balance cache, rate limiter, and event bridge.
package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/payoutpipeline/payout-pipeline/internal/config"
)

// New dials Redis and verifies connectivity with a bounded-deadline PING,
// following the teacher's NewRedisService connect-then-ping idiom.
func New(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}
