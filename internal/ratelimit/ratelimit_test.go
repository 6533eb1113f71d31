package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRedisLimiter(t *testing.T, budgets map[Class]Budget) (*miniredis.Miniredis, *RedisLimiter) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRedisLimiter(client, budgets, zap.NewNop())
}

func TestRedisLimiter_AllowsWithinBudget(t *testing.T) {
	t.Parallel()
	_, limiter := setupRedisLimiter(t, map[Class]Budget{
		ClassWrite: {Limit: 3, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i)
	}
}

func TestRedisLimiter_DeniesOverBudgetWithRetryAfter(t *testing.T) {
	t.Parallel()
	_, limiter := setupRedisLimiter(t, map[Class]Budget{
		ClassWrite: {Limit: 2, Window: time.Minute},
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
		require.NoError(t, err)
		require.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 60, retryAfter)
}

func TestRedisLimiter_TracksSubjectsIndependently(t *testing.T) {
	t.Parallel()
	_, limiter := setupRedisLimiter(t, map[Class]Budget{
		ClassWrite: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "tenant-a:bob", ClassWrite)
	require.NoError(t, err)
	assert.True(t, allowed, "a different subject has its own budget")
}

func TestRedisLimiter_WindowSlidesAsEntriesExpire(t *testing.T) {
	t.Parallel()
	mr, limiter := setupRedisLimiter(t, map[Class]Budget{
		ClassWrite: {Limit: 1, Window: time.Minute},
	})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err)
	require.False(t, allowed)

	mr.FastForward(61 * time.Second)

	allowed, _, err = limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err)
	assert.True(t, allowed, "the window should have slid past the first hit")
}

func TestRedisLimiter_UnknownClassIsUnbounded(t *testing.T) {
	t.Parallel()
	_, limiter := setupRedisLimiter(t, map[Class]Budget{})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", Class("unknown"))
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisLimiter_FailsOpenWhenRedisUnreachable(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}) // nothing listening
	t.Cleanup(func() { client.Close() })
	limiter := NewRedisLimiter(client, map[Class]Budget{ClassWrite: {Limit: 1, Window: time.Minute}}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	allowed, _, err := limiter.Allow(ctx, "tenant-a:alice", ClassWrite)
	require.NoError(t, err, "a broken limiter backend must not itself become an outage")
	assert.True(t, allowed)
}

func TestMemoryLimiter_AllowsWithinBudgetThenDenies(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter(map[Class]Budget{ClassPublicRead: {Limit: 2, Window: time.Minute}})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, _, err := limiter.Allow(ctx, "ip:1.2.3.4", ClassPublicRead)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, retryAfter, err := limiter.Allow(ctx, "ip:1.2.3.4", ClassPublicRead)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 60, retryAfter)
}

func TestMemoryLimiter_WindowExpiresOldHits(t *testing.T) {
	t.Parallel()
	limiter := NewMemoryLimiter(map[Class]Budget{ClassWrite: {Limit: 1, Window: 50 * time.Millisecond}})
	ctx := context.Background()

	allowed, _, err := limiter.Allow(ctx, "alice", ClassWrite)
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, _, err = limiter.Allow(ctx, "alice", ClassWrite)
	require.NoError(t, err)
	require.False(t, allowed)

	time.Sleep(60 * time.Millisecond)

	allowed, _, err = limiter.Allow(ctx, "alice", ClassWrite)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestDefaultBudgets_MatchContractLimits(t *testing.T) {
	t.Parallel()
	budgets := DefaultBudgets()
	assert.Equal(t, 100, budgets[ClassPublicRead].Limit)
	assert.Equal(t, 1000, budgets[ClassAuthRead].Limit)
	assert.Equal(t, 60, budgets[ClassWrite].Limit)
	assert.Equal(t, 10, budgets[ClassSyncAdmin].Limit)
}
