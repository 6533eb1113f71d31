package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PoolConfig controls the underlying *sql.DB connection pool.
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig returns sane defaults for a moderately loaded service.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Pool wraps a *gorm.DB with pool tuning and transactional helpers. The
// version write paths (UpsertVersion, RollbackVersion) go through
// WithSerializableRetry so contention on the same (tenant, publisher,
// name) is retried; other writes use DB() directly.
type Pool struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	logger *zap.Logger
}

// NewPool wraps db, applying the given pool configuration.
func NewPool(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*Pool, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db cannot be nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{db: db, sqlDB: sqlDB, logger: logger.With(zap.String("component", "agent_store_pool"))}, nil
}

// DB returns the underlying *gorm.DB for read paths that don't need
// transactional semantics.
func (p *Pool) DB() *gorm.DB {
	return p.db
}

// Ping checks connectivity.
func (p *Pool) Ping(ctx context.Context) error {
	return p.sqlDB.PingContext(ctx)
}

// Close releases pool resources.
func (p *Pool) Close() error {
	return p.sqlDB.Close()
}

// TxFunc is a unit of work run inside a transaction.
type TxFunc func(tx *gorm.DB) error

// WithSerializableRetry runs fn inside a SERIALIZABLE transaction,
// retrying with exponential backoff when the failure looks like
// contention (deadlock, serialization failure, connection reset) rather
// than a genuine application error.
func (p *Pool) WithSerializableRetry(ctx context.Context, maxRetries int, fn TxFunc) error {
	var lastErr error

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := p.db.WithContext(ctx).Transaction(fn, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}

		p.logger.Warn("transaction contended, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		backoff := time.Duration(1<<uint(attempt)) * 50 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("store: transaction failed after %d retries: %w", maxRetries, lastErr)
}

// isRetryableError reports whether err looks like transient contention
// rather than a genuine constraint or application failure.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "deadlock"):
		return true
	case strings.Contains(msg, "serialization failure"), strings.Contains(msg, "40001"):
		return true
	case strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "broken pipe"):
		return true
	case strings.Contains(msg, "lock timeout"), strings.Contains(msg, "lock wait timeout"):
		return true
	case strings.Contains(msg, "bad connection"):
		return true
	default:
		return false
	}
}
