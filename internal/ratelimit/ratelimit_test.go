package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/payoutpipeline/payout-pipeline/internal/ratelimit"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	return rdb
}

func TestAllowPermitsUpToLimitThenBlocks(t *testing.T) {
	rdb := newTestClient(t)
	l := ratelimit.New(rdb, "rl:test")
	ctx := context.Background()
	defer l.Reset(ctx, "subject-1")

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "subject-1", 3, time.Minute)
		require.NoError(t, err)
		require.True(t, ok, "request %d should be allowed", i)
	}

	ok, err := l.Allow(ctx, "subject-1", 3, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "4th request should be blocked")
}

func TestAllowTracksSubjectsIndependently(t *testing.T) {
	rdb := newTestClient(t)
	l := ratelimit.New(rdb, "rl:test")
	ctx := context.Background()
	defer l.Reset(ctx, "subject-a")
	defer l.Reset(ctx, "subject-b")

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "subject-a", 2, time.Minute)
		require.NoError(t, err)
		require.True(t, ok)
	}

	ok, err := l.Allow(ctx, "subject-b", 2, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "a fresh subject must not inherit another subject's count")
}
