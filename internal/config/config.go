// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package config loads the registry's configuration: defaults, overlaid
// by an optional YAML file, overlaid by environment variables — the same
// three-tier precedence and builder-style Loader the rest of this
// codebase's ancestry uses.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("REGISTRY").
//	    Load()
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the registry's complete configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server" env:"SERVER"`
	Database   DatabaseConfig   `yaml:"database" env:"DATABASE"`
	Redis      RedisConfig      `yaml:"redis" env:"REDIS"`
	Search     SearchConfig     `yaml:"search" env:"SEARCH"`
	Cache      CacheConfig      `yaml:"cache" env:"CACHE"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit" env:"RATE_LIMIT"`
	Federation FederationConfig `yaml:"federation" env:"FEDERATION"`
	Auth       AuthConfig       `yaml:"auth" env:"AUTH"`
	Log        LogConfig        `yaml:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig controls the HTTP boundary.
type ServerConfig struct {
	// BaseURL is this instance's own advertised URL (REGISTRY_BASE_URL),
	// embedded in well_known_index's header and used to build this
	// registry's own self-description card at /.well-known/agent.json.
	BaseURL         string        `yaml:"base_url" env:"BASE_URL"`
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RequestDeadlineBudgetMs is reserved off every inbound request
	// deadline for response-writing overhead (§5's "250ms reserved").
	RequestDeadlineBudgetMs int `yaml:"request_deadline_budget_ms" env:"REQUEST_DEADLINE_BUDGET_MS"`
	// MaxAgentsPerPublisher enforces MAX_AGENTS_PER_CLIENT: a quota on
	// how many distinct agents one publisher may register. Zero disables
	// the quota.
	MaxAgentsPerPublisher int `yaml:"max_agents_per_publisher" env:"MAX_AGENTS_PER_CLIENT"`
}

// DatabaseConfig is the relational store connection.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the driver-appropriate connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&loc=UTC",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// RedisConfig is the Cache Layer and Rate Limiter's shared KV backend.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// SearchConfig tunes the Search Indexer (C5).
type SearchConfig struct {
	IndexPath          string        `yaml:"index_path" env:"INDEX_PATH"`
	Workers            int           `yaml:"workers" env:"WORKERS"`
	QueueSize          int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	EnqueueTimeout     time.Duration `yaml:"enqueue_timeout" env:"ENQUEUE_TIMEOUT_MS"`
	ReconcileEvery     time.Duration `yaml:"reconcile_every" env:"RECONCILE_EVERY"`
	StalenessBudgetMs  int           `yaml:"staleness_budget_ms" env:"STALENESS_BUDGET_MS"`
}

// CacheConfig holds the Cache Layer's per-endpoint-class TTLs
// (CACHE_TTL_*).
type CacheConfig struct {
	Enabled         bool          `yaml:"enabled" env:"ENABLED"`
	ListTTL         time.Duration `yaml:"list_ttl" env:"TTL_LIST"`
	CardTTL         time.Duration `yaml:"card_ttl" env:"TTL_CARD"`
	WellKnownTTL    time.Duration `yaml:"well_known_ttl" env:"TTL_WELL_KNOWN"`
	SearchTTL       time.Duration `yaml:"search_ttl" env:"TTL_SEARCH"`
}

// RateLimitConfig holds the Rate Limiter's per-class budgets
// (RATE_LIMIT_*), one counter key per endpoint class (§4.9).
type RateLimitConfig struct {
	PublicReadPerMin int `yaml:"public_read_per_min" env:"PUBLIC_READ_PER_MIN"`
	AuthReadPerMin   int `yaml:"auth_read_per_min" env:"AUTH_READ_PER_MIN"`
	WritePerMin      int `yaml:"write_per_min" env:"WRITE_PER_MIN"`
	SyncAdminPerMin  int `yaml:"sync_admin_per_min" env:"SYNC_ADMIN_PER_MIN"`
}

// FederationConfig gates and tunes the Federation Manager (C10).
type FederationConfig struct {
	// Enabled implements ENABLE_FEDERATION: when false, cmd/registryd
	// never starts the federation.Manager scheduler.
	Enabled          bool    `yaml:"enabled" env:"ENABLE_FEDERATION"`
	PollInterval     time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	MaxParallelSyncs int64   `yaml:"max_parallel_syncs" env:"PEER_SYNC_MAX_PARALLEL"`
	PageSize         int     `yaml:"page_size" env:"PAGE_SIZE"`
	MaxPages         int     `yaml:"max_pages" env:"MAX_PAGES"`
	JitterFraction   float64 `yaml:"jitter_fraction" env:"JITTER_FRACTION"`
}

// AuthConfig configures the AuthZ Gate's Token Verifier port.
type AuthConfig struct {
	JWKSURL        string        `yaml:"jwks_url" env:"JWKS_URL"`
	Issuer         string        `yaml:"issuer" env:"ISSUER"`
	Audience       string        `yaml:"audience" env:"AUDIENCE"`
	JWKSRefresh    time.Duration `yaml:"jwks_refresh" env:"JWKS_REFRESH"`
}

// LogConfig controls the zap logger cmd/registryd builds.
type LogConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"` // json | console
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig controls OpenTelemetry trace/metric export. Disabled by
// default — a registry instance runs fine with only its Prometheus
// /metrics surface (internal/metrics) and no OTLP collector configured.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads a Config with default → file → env precedence (builder
// pattern).
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader builds a Loader defaulted to the REGISTRY env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "REGISTRY",
		validators: []func(*Config) error{(*Config).Validate},
	}
}

// WithConfigPath sets the YAML file to overlay onto defaults.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an additional validation pass.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the final Config: defaults, then the YAML file (if any),
// then environment variables, then every registered validator.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads config from path, panicking on failure, for callers
// where a bad config should fail fast.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate checks cross-field and range invariants default values and a
// YAML file alone can't guarantee.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "server.http_port must be in (0, 65535]")
	}
	if c.Server.BaseURL == "" {
		errs = append(errs, "server.base_url is required")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, "database.driver must be one of postgres, mysql, sqlite")
	}
	if c.Federation.MaxParallelSyncs <= 0 {
		errs = append(errs, "federation.max_parallel_syncs must be positive")
	}
	if c.Federation.JitterFraction < 0 || c.Federation.JitterFraction > 1 {
		errs = append(errs, "federation.jitter_fraction must be in [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
