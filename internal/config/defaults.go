// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package config

import "time"

// DefaultConfig returns the registry's out-of-the-box configuration,
// tuned to the defaults stated throughout spec.md §4 and §5.
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Database:   DefaultDatabaseConfig(),
		Redis:      DefaultRedisConfig(),
		Search:     DefaultSearchConfig(),
		Cache:      DefaultCacheConfig(),
		RateLimit:  DefaultRateLimitConfig(),
		Federation: DefaultFederationConfig(),
		Auth:       DefaultAuthConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
	}
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BaseURL:                 "http://localhost:8080",
		HTTPPort:                8080,
		ReadTimeout:             15 * time.Second,
		WriteTimeout:            15 * time.Second,
		ShutdownTimeout:         15 * time.Second,
		RequestDeadlineBudgetMs: 250,
		MaxAgentsPerPublisher:   0,
	}
}

func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "registry",
		Password:        "",
		Name:            "registry",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultSearchConfig mirrors internal/search.DefaultConfig's own
// defaults, kept in sync by hand since the two packages don't share a
// struct (search has no dependency on config, by design — see DESIGN.md).
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		IndexPath:         "./data/search.bleve",
		Workers:           4,
		QueueSize:         1024,
		EnqueueTimeout:    500 * time.Millisecond,
		ReconcileEvery:    60 * time.Second,
		StalenessBudgetMs: 2000,
	}
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:      true,
		ListTTL:      30 * time.Second,
		CardTTL:      120 * time.Second,
		WellKnownTTL: 60 * time.Second,
		SearchTTL:    10 * time.Second,
	}
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		PublicReadPerMin: 100,
		AuthReadPerMin:   1000,
		WritePerMin:      60,
		SyncAdminPerMin:  10,
	}
}

func DefaultFederationConfig() FederationConfig {
	return FederationConfig{
		Enabled:          true,
		PollInterval:     30 * time.Second,
		MaxParallelSyncs: 4,
		PageSize:         100,
		MaxPages:         1000,
		JitterFraction:   0.1,
	}
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		JWKSURL:     "",
		Issuer:      "",
		Audience:    "",
		JWKSRefresh: 10 * time.Minute,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		EnableCaller: true,
	}
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		ServiceName:  "a2a-registry",
		OTLPEndpoint: "localhost:4317",
		SampleRate:   0.1,
	}
}
