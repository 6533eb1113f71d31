// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/cache"
	"github.com/a2aregistry/registry/internal/config"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/federation"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/httpapi"
	"github.com/a2aregistry/registry/internal/metrics"
	"github.com/a2aregistry/registry/internal/publish"
	"github.com/a2aregistry/registry/internal/ratelimit"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/server"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/internal/telemetry"
	"github.com/a2aregistry/registry/pkg/a2acard"
)

// Server owns every collaborator's lifecycle: construction order on
// Start; on Stop, federation, reconciler, search index, HTTP server, DB
// pool, then telemetry are torn down in that order.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	pool        *store.Pool
	searchIdx   search.Indexer
	searchSvc   *search.Service
	reconciler  *search.Reconciler
	cacheMgr    *cache.Manager
	federation  *federation.Manager
	httpManager *server.Manager
	otel        *telemetry.Providers
}

// NewServer builds a Server over cfg. It performs no I/O until Start.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start wires every collaborator and begins serving. It is not
// idempotent — call it once.
func (s *Server) Start(buildInfo httpapi.BuildInfo) error {
	otelProviders, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	db, err := openDatabase(s.cfg.Database, s.logger)
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}

	s.pool, err = store.NewPool(db, store.PoolConfig{
		MaxIdleConns:    s.cfg.Database.MaxIdleConns,
		MaxOpenConns:    s.cfg.Database.MaxOpenConns,
		ConnMaxLifetime: s.cfg.Database.ConnMaxLifetime,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build store pool: %w", err)
	}

	agentStore := store.NewAgentStore(s.pool, s.logger)
	entitlementStore := store.NewEntitlementStore(s.pool, s.logger)
	peerStore := store.NewPeerStore(s.pool, s.logger)
	repairLogStore := store.NewRepairLogStore(s.pool, s.logger)

	s.searchIdx, err = search.NewBleveIndex(s.cfg.Search.IndexPath)
	if err != nil {
		return fmt.Errorf("failed to open search index: %w", err)
	}

	s.searchSvc = search.New(search.Config{
		Workers:        s.cfg.Search.Workers,
		QueueSize:      s.cfg.Search.QueueSize,
		EnqueueTimeout: s.cfg.Search.EnqueueTimeout,
		ReconcileEvery: s.cfg.Search.ReconcileEvery,
	}, s.searchIdx, repairLogStore, s.logger)

	s.reconciler = search.NewReconciler(s.searchSvc, documentLoaderFor(agentStore), s.cfg.Search.ReconcileEvery, s.logger)
	s.reconciler.Start()

	if s.cfg.Cache.Enabled {
		s.cacheMgr, err = cache.New(cache.Config{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
			ListTTL:      s.cfg.Cache.ListTTL,
			GetCardTTL:   s.cfg.Cache.CardTTL,
			WellKnownTTL: s.cfg.Cache.WellKnownTTL,
			SearchTTL:    s.cfg.Cache.SearchTTL,
		}, s.logger)
		if err != nil {
			s.logger.Warn("cache unavailable, continuing uncached", zap.Error(err))
			s.cacheMgr = nil
		}
	}

	gate, err := buildAuthGate(s.cfg.Auth, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build authz gate: %w", err)
	}

	limiter := buildRateLimiter(s.cfg.RateLimit, s.cfg.Redis, s.logger)

	discoverySvc := discovery.New(agentStore, entitlementStore, s.searchSvc, s.cacheMgr, s.cfg.Server.BaseURL, s.logger)
	fetcher := fetch.New(fetch.DefaultConfig(), s.logger)
	publishSvc := publish.New(agentStore, fetcher, s.searchSvc, discoverySvc, gate, s.cfg.Server.MaxAgentsPerPublisher, s.logger)

	var metricsCollector *metrics.Collector
	metricsCollector = metrics.NewCollector("registry", s.logger)

	if s.cfg.Federation.Enabled {
		s.federation = federation.New(peerStore, agentStore, fetcher, s.searchSvc, discoverySvc, federation.Config{
			PollInterval:     s.cfg.Federation.PollInterval,
			MaxParallelSyncs: s.cfg.Federation.MaxParallelSyncs,
			PageSize:         s.cfg.Federation.PageSize,
			MaxPages:         s.cfg.Federation.MaxPages,
			JitterFraction:   s.cfg.Federation.JitterFraction,
		}, s.logger)
		s.federation.Start(context.Background())
	}

	handler := httpapi.NewRouter(httpapi.Deps{
		Gate:        gate,
		Limiter:     limiter,
		Discovery:   discoverySvc,
		Publish:     publishSvc,
		Peers:       peerStore,
		Federation:  s.federation,
		Pool:        s.pool,
		Build:       buildInfo,
		RegistryURL: s.cfg.Server.BaseURL,
		Logger:      s.logger,
		Metrics:     metricsCollector,
	})

	serverCfg := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}
	s.httpManager = server.NewManager(handler, serverCfg, s.logger)
	if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.logger.Info("registry started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Bool("federation_enabled", s.cfg.Federation.Enabled),
		zap.Bool("cache_enabled", s.cacheMgr != nil),
	)
	return nil
}

// WaitForShutdown blocks until a shutdown signal or server error, then
// tears everything down in the order Shutdown uses.
func (s *Server) WaitForShutdown() {
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}
	s.Shutdown()
}

// Shutdown tears down every collaborator, logging but not failing on
// individual errors — a partial shutdown should still release as much
// as it can.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down registry")

	if s.federation != nil {
		s.federation.Stop()
	}
	if s.reconciler != nil {
		s.reconciler.Stop()
	}
	if s.searchIdx != nil {
		if err := s.searchIdx.Close(); err != nil {
			s.logger.Error("search index close error", zap.Error(err))
		}
	}
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(context.Background()); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Error("store pool close error", zap.Error(err))
		}
	}
	if s.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.otel.Shutdown(ctx); err != nil {
			s.logger.Error("telemetry shutdown error", zap.Error(err))
		}
		cancel()
	}

	s.logger.Info("registry stopped")
}

// openDatabase resolves the configured driver to a GORM dialector — the
// three dialects internal/migration also supports.
func openDatabase(dbCfg config.DatabaseConfig, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dbCfg.Driver {
	case "postgres":
		dialector = postgres.Open(dbCfg.DSN())
	case "mysql":
		dialector = mysql.Open(dbCfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(dbCfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, mysql, sqlite)", dbCfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	logger.Info("database connected", zap.String("driver", dbCfg.Driver))
	return db, nil
}

// buildAuthGate resolves the configured Token Verifier port. No JWKS
// client ships in this build (see DESIGN.md): a JWKS URL is accepted in
// config but, absent an established JWKS library in this codebase's
// dependency set, cfg.Auth.JWKSURL being set only logs a warning — the
// deployment should set REGISTRY_AUTH_HMAC_SECRET and run HS256 until a
// JWKS-backed jwt.Keyfunc is wired in.
func buildAuthGate(cfg config.AuthConfig, logger *zap.Logger) (*authz.Gate, error) {
	if cfg.JWKSURL != "" {
		logger.Warn("auth.jwks_url is set but no JWKS client is wired in this build; falling back to the HMAC verifier",
			zap.String("jwks_url", cfg.JWKSURL))
	}

	secret := []byte(os.Getenv("REGISTRY_AUTH_HMAC_SECRET"))
	if len(secret) == 0 {
		logger.Warn("REGISTRY_AUTH_HMAC_SECRET is unset; tokens will fail verification until it is configured")
	}
	verifierCfg := authz.DefaultJWTVerifierConfig()
	verifierCfg.Issuer = cfg.Issuer
	verifierCfg.Audience = cfg.Audience
	verifier := authz.NewHMACVerifier(verifierCfg, secret)

	return authz.NewGate(verifier, logger), nil
}

// buildRateLimiter prefers the Redis-backed limiter (shared budgets
// across instances), opening its own client when a Redis address is
// configured, and falls back to an in-memory limiter otherwise.
func buildRateLimiter(cfg config.RateLimitConfig, redisCfg config.RedisConfig, logger *zap.Logger) ratelimit.Limiter {
	minute := time.Minute
	budgets := map[ratelimit.Class]ratelimit.Budget{
		ratelimit.ClassPublicRead: {Limit: cfg.PublicReadPerMin, Window: minute},
		ratelimit.ClassAuthRead:   {Limit: cfg.AuthReadPerMin, Window: minute},
		ratelimit.ClassWrite:      {Limit: cfg.WritePerMin, Window: minute},
		ratelimit.ClassSyncAdmin:  {Limit: cfg.SyncAdminPerMin, Window: minute},
	}
	if redisCfg.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisCfg.Addr,
			Password: redisCfg.Password,
			DB:       redisCfg.DB,
		})
		return ratelimit.NewRedisLimiter(client, budgets, logger)
	}
	logger.Warn("no redis address configured, rate limiting is per-instance (not shared across replicas)")
	return ratelimit.NewMemoryLimiter(budgets)
}

// documentLoaderFor adapts the Agent Store into the reconciler's
// DocumentLoader: rebuild the latest card for agentID, or report it
// missing so the reconciler retries a delete instead of an index.
func documentLoaderFor(agents *store.AgentStore) search.DocumentLoader {
	return func(ctx context.Context, agentID string) (search.Document, bool, error) {
		record, err := agents.GetByID(ctx, agentID)
		if err != nil {
			return search.Document{}, false, nil
		}
		version, err := agents.GetLatest(ctx, agentID)
		if err != nil {
			return search.Document{}, false, nil
		}
		var c a2acard.Card
		if err := json.Unmarshal(version.CardJSON, &c); err != nil {
			return search.Document{}, false, err
		}
		return search.DocumentFor(record, &c), true, nil
	}
}
