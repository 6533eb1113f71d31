// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package cache wraps Redis for the registry's read-path cache: response
// pages keyed by (endpoint, tenant, principal, query fingerprint), with
// TTLs per endpoint class and prefix-based invalidation on writes.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Config controls the underlying Redis connection and default TTLs.
type Config struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`

	ListTTL        time.Duration `yaml:"list_ttl"`
	GetCardTTL     time.Duration `yaml:"get_card_ttl"`
	WellKnownTTL   time.Duration `yaml:"well_known_ttl"`
	SearchTTL      time.Duration `yaml:"search_ttl"`

	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// DefaultConfig returns the TTL defaults the cache contract specifies:
// 30s for list endpoints, 120s for get_card, 60s for well_known_*, 10s
// for the optional search cache.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DB:                  0,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		ListTTL:             30 * time.Second,
		GetCardTTL:          120 * time.Second,
		WellKnownTTL:        60 * time.Second,
		SearchTTL:           10 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ErrCacheMiss is returned by Get when the key is absent.
var ErrCacheMiss = fmt.Errorf("cache miss")

// IsCacheMiss reports whether err is ErrCacheMiss.
func IsCacheMiss(err error) bool {
	return err == ErrCacheMiss
}

// Endpoint identifies which cached surface a key belongs to, for both TTL
// selection and prefix invalidation.
type Endpoint string

const (
	EndpointListPublic    Endpoint = "list_public"
	EndpointListEntitled  Endpoint = "list_entitled"
	EndpointGetCard       Endpoint = "get_card"
	EndpointWellKnownIndex Endpoint = "well_known_index"
	EndpointWellKnownCard  Endpoint = "well_known_card"
	EndpointSearch         Endpoint = "search"
)

func (e Endpoint) defaultTTL(cfg Config) time.Duration {
	switch e {
	case EndpointListPublic, EndpointListEntitled:
		return cfg.ListTTL
	case EndpointGetCard:
		return cfg.GetCardTTL
	case EndpointWellKnownIndex, EndpointWellKnownCard:
		return cfg.WellKnownTTL
	case EndpointSearch:
		return cfg.SearchTTL
	default:
		return cfg.ListTTL
	}
}

// Manager wraps a redis.Client with the cache key schema, TTL classes,
// and prefix-based invalidation.
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// New connects to Redis and starts the health-check loop. A nil logger
// falls back to zap.NewNop.
func New(cfg Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: failed to connect to redis: %w", err)
	}

	m := &Manager{redis: client, config: cfg, logger: logger.With(zap.String("component", "cache"))}
	if cfg.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}
	return m, nil
}

// NewWithClient wraps an already-constructed redis.Client — used by tests
// to inject a miniredis-backed client without a real health check dial.
func NewWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{redis: client, config: cfg, logger: logger.With(zap.String("component", "cache"))}
}

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()
	for range ticker.C {
		m.mu.RLock()
		closed := m.closed
		m.mu.RUnlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.redis.Ping(ctx).Err(); err != nil {
			m.logger.Error("cache health check failed", zap.Error(err))
		}
		cancel()
	}
}

// Key builds the cache key for one (endpoint, tenant, principal, query)
// tuple: cache:{endpoint}:{tenant_or_*}:{principal_or_*}:{sha256(query)}.
// tenant and principal are "*" for cross-tenant/unauthenticated surfaces.
func Key(endpoint Endpoint, tenant, principal string, query any) string {
	if tenant == "" {
		tenant = "*"
	}
	if principal == "" {
		principal = "*"
	}
	raw, _ := json.Marshal(query)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("cache:%s:%s:%s:%s", endpoint, tenant, principal, hex.EncodeToString(sum[:]))
}

// GetJSON fetches a cached page and unmarshals it into dest. Returns
// ErrCacheMiss if absent.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("cache: manager is closed")
	}

	val, err := m.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrCacheMiss
	}
	if err != nil {
		m.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache: get failed: %w", err)
	}
	return json.Unmarshal([]byte(val), dest)
}

// SetJSON caches value under key for the given endpoint's default TTL, or
// ttlOverride if nonzero.
func (m *Manager) SetJSON(ctx context.Context, key string, endpoint Endpoint, value any, ttlOverride time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("cache: manager is closed")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: failed to marshal value: %w", err)
	}
	ttl := ttlOverride
	if ttl == 0 {
		ttl = endpoint.defaultTTL(m.config)
	}
	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		m.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache: set failed: %w", err)
	}
	return nil
}

// InvalidateTenant deletes every cached entry for tenant T across every
// endpoint, plus every well_known_* entry — the exact two-prefix sweep
// the invalidation contract calls for on publish, peer-sync apply, or
// entitlement change.
func (m *Manager) InvalidateTenant(ctx context.Context, tenant string) error {
	if err := m.deleteByPattern(ctx, fmt.Sprintf("cache:*:%s:*", tenant)); err != nil {
		return err
	}
	return m.deleteByPattern(ctx, "cache:well_known_*:*")
}

// deleteByPattern scans for keys matching pattern and deletes them in
// pipelined batches. The teacher's cache manager has no prefix-delete
// primitive; Redis KEYS is unsafe to call directly in production (it
// blocks the server), so this uses SCAN with a cursor instead.
func (m *Manager) deleteByPattern(ctx context.Context, pattern string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("cache: manager is closed")
	}

	var cursor uint64
	const scanBatch = 200

	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("cache: scan failed: %w", err)
		}
		if len(keys) > 0 {
			pipe := m.redis.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return fmt.Errorf("cache: pipelined delete failed: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// Ping checks Redis connectivity.
func (m *Manager) Ping(ctx context.Context) error {
	return m.redis.Ping(ctx).Err()
}

// Close releases the underlying Redis client.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.redis.Close()
}
