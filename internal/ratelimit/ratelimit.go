// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package ratelimit throttles inbound requests per (principal or client
// IP, endpoint class) using a sliding time window. The pack's only
// rate-limiting example (a token-bucket outbound limiter for shared
// external resources) does not fit an inbound, per-caller sliding-window
// budget, so this is a small custom implementation in the same
// component-with-injected-logger idiom as the rest of the registry.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/a2aregistry/registry/types"
)

// Class names one of the contract's fixed rate-limit classes.
type Class string

const (
	ClassPublicRead Class = "public-read"
	ClassAuthRead   Class = "auth-read"
	ClassWrite      Class = "write"
	ClassSyncAdmin  Class = "sync-admin"
)

// Budget is a class's request allowance per one-minute window.
type Budget struct {
	Limit  int
	Window time.Duration
}

// DefaultBudgets returns the contract's stated per-minute limits.
func DefaultBudgets() map[Class]Budget {
	minute := time.Minute
	return map[Class]Budget{
		ClassPublicRead: {Limit: 100, Window: minute},
		ClassAuthRead:   {Limit: 1000, Window: minute},
		ClassWrite:      {Limit: 60, Window: minute},
		ClassSyncAdmin:  {Limit: 10, Window: minute},
	}
}

// Limiter decides whether a (subject, class) pair may proceed right now.
type Limiter interface {
	// Allow reports whether the call is within budget. If not, it returns
	// a retryAfter hint in seconds.
	Allow(ctx context.Context, subject string, class Class) (allowed bool, retryAfter int, err error)
}

// ErrExceeded builds the standard rate-limit error for a denied call.
func ErrExceeded(retryAfter int) error {
	return types.NewError(types.ErrRateLimited, "rate limit exceeded").WithRetryAfter(retryAfter)
}

// --- Redis-backed sliding window --------------------------------------

// slidingWindowScript implements the sliding-window-log algorithm
// atomically: trim entries older than the window, count what remains,
// and admit the new request only if under budget. ZADD always happens so
// concurrent callers each get a distinct member even at the same
// millisecond (the member includes a random suffix appended by the
// caller); ZREMRANGEBYSCORE bounds the set's memory to one window.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window_ms)
local count = redis.call("ZCARD", key)
if count >= limit then
  return 0
end
redis.call("ZADD", key, now, member)
redis.call("PEXPIRE", key, window_ms)
return 1
`)

// RedisLimiter implements Limiter with a Redis sorted set per (subject,
// class), shared across every registry instance so limits hold under
// best-effort cluster coordination.
type RedisLimiter struct {
	client  *redis.Client
	budgets map[Class]Budget
	logger  *zap.Logger
	seq     uint64
	mu      sync.Mutex
}

// NewRedisLimiter builds a limiter against an already-connected client.
// A nil budgets map falls back to DefaultBudgets.
func NewRedisLimiter(client *redis.Client, budgets map[Class]Budget, logger *zap.Logger) *RedisLimiter {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLimiter{client: client, budgets: budgets, logger: logger.With(zap.String("component", "rate_limiter"))}
}

func (l *RedisLimiter) Allow(ctx context.Context, subject string, class Class) (bool, int, error) {
	budget, ok := l.budgets[class]
	if !ok {
		return true, 0, nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", class, subject)
	now := time.Now().UnixMilli()
	member := l.nextMember(now)

	res, err := slidingWindowScript.Run(ctx, l.client, []string{key}, now, budget.Window.Milliseconds(), budget.Limit, member).Int()
	if err != nil {
		l.logger.Warn("rate limit check failed, failing open", zap.String("subject", subject), zap.String("class", string(class)), zap.Error(err))
		return true, 0, nil // an unreachable limiter must never itself become the outage
	}

	if res == 1 {
		return true, 0, nil
	}
	return false, int(budget.Window.Seconds()), nil
}

func (l *RedisLimiter) nextMember(now int64) string {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()
	return fmt.Sprintf("%d-%d", now, seq)
}

// --- In-memory fallback -------------------------------------------------

// MemoryLimiter is a per-process sliding-window limiter, used where no
// shared Redis is configured (single-instance deployments, tests). It
// trades cluster-wide coordination for zero external dependencies.
type MemoryLimiter struct {
	budgets map[Class]Budget
	mu      sync.Mutex
	hits    map[string][]time.Time
}

// NewMemoryLimiter builds an in-process limiter. A nil budgets map falls
// back to DefaultBudgets.
func NewMemoryLimiter(budgets map[Class]Budget) *MemoryLimiter {
	if budgets == nil {
		budgets = DefaultBudgets()
	}
	return &MemoryLimiter{budgets: budgets, hits: make(map[string][]time.Time)}
}

func (l *MemoryLimiter) Allow(_ context.Context, subject string, class Class) (bool, int, error) {
	budget, ok := l.budgets[class]
	if !ok {
		return true, 0, nil
	}

	key := string(class) + ":" + subject
	now := time.Now()
	cutoff := now.Add(-budget.Window)

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamps := l.hits[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= budget.Limit {
		l.hits[key] = kept
		return false, int(budget.Window.Seconds()), nil
	}

	l.hits[key] = append(kept, now)
	return true, 0, nil
}
