package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RepairLogStore persists index write failures so the search indexer's
// reconciler can retry them without depending on in-memory queue state
// surviving a restart.
type RepairLogStore struct {
	pool   *Pool
	logger *zap.Logger
}

// NewRepairLogStore builds a RepairLogStore.
func NewRepairLogStore(pool *Pool, logger *zap.Logger) *RepairLogStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RepairLogStore{pool: pool, logger: logger.With(zap.String("component", "repair_log_store"))}
}

// Record appends a failed index operation, or bumps the attempt count and
// last error of an existing unresolved entry for the same agent+operation.
func (s *RepairLogStore) Record(ctx context.Context, agentID, operation string, cause error) error {
	db := s.pool.DB().WithContext(ctx)

	var existing RepairLogEntry
	err := db.Where("agent_id = ? AND operation = ?", agentID, operation).First(&existing).Error
	if err == nil {
		msg := cause.Error()
		return db.Model(&existing).Updates(map[string]any{
			"attempts":   existing.Attempts + 1,
			"last_error": &msg,
		}).Error
	}

	msg := cause.Error()
	entry := RepairLogEntry{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Operation: operation,
		CreatedAt: time.Now(),
		Attempts:  1,
		LastError: &msg,
	}
	return db.Create(&entry).Error
}

// Resolve removes a repair log entry once the operation has succeeded.
func (s *RepairLogStore) Resolve(ctx context.Context, agentID, operation string) error {
	return s.pool.DB().WithContext(ctx).
		Where("agent_id = ? AND operation = ?", agentID, operation).
		Delete(&RepairLogEntry{}).Error
}

// ListPending returns every unresolved entry, oldest first, for the
// reconciler's periodic retry sweep.
func (s *RepairLogStore) ListPending(ctx context.Context, limit int) ([]RepairLogEntry, error) {
	var entries []RepairLogEntry
	err := s.pool.DB().WithContext(ctx).Order("created_at ASC").Limit(limit).Find(&entries).Error
	return entries, err
}
