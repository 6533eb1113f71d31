package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2aregistry/registry/types"
)

// EntitlementStore manages positive grants that make a non-public agent
// visible to a subject within a tenant. Resolution unions across every
// subject a caller could match — its principal id, its consumer id, and
// each of its roles — rather than materializing a per-principal ACL.
type EntitlementStore struct {
	pool   *Pool
	logger *zap.Logger
}

// NewEntitlementStore builds a store over an already-configured Pool.
func NewEntitlementStore(pool *Pool, logger *zap.Logger) *EntitlementStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EntitlementStore{pool: pool, logger: logger.With(zap.String("component", "entitlement_store"))}
}

// Grant creates a new active entitlement. Granting the same (tenant,
// subject, agent) twice is not deduplicated at this layer — callers that
// care check IsEntitled first, matching the additive-grants model.
func (s *EntitlementStore) Grant(ctx context.Context, tenantID, subject, agentID string) (*Entitlement, error) {
	e := &Entitlement{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Subject:   subject,
		AgentID:   agentID,
		GrantedAt: time.Now(),
	}
	if err := s.pool.DB().WithContext(ctx).Create(e).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "failed granting entitlement").WithCause(err)
	}
	return e, nil
}

// Revoke sets RevokedAt on every active entitlement matching (tenant,
// subject, agent). It is idempotent: revoking an already-revoked or
// nonexistent entitlement is not an error.
func (s *EntitlementStore) Revoke(ctx context.Context, tenantID, subject, agentID string) error {
	now := time.Now()
	err := s.pool.DB().WithContext(ctx).Model(&Entitlement{}).
		Where("tenant_id = ? AND subject = ? AND agent_id = ? AND revoked_at IS NULL", tenantID, subject, agentID).
		Update("revoked_at", now).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed revoking entitlement").WithCause(err)
	}
	return nil
}

// IsEntitled reports whether any subject in subjects holds an active
// entitlement for agentID within tenantID.
func (s *EntitlementStore) IsEntitled(ctx context.Context, tenantID, agentID string, subjects []string) (bool, error) {
	if len(subjects) == 0 {
		return false, nil
	}
	var count int64
	err := s.pool.DB().WithContext(ctx).Model(&Entitlement{}).
		Where("tenant_id = ? AND agent_id = ? AND subject IN ? AND revoked_at IS NULL", tenantID, agentID, subjects).
		Count(&count).Error
	if err != nil {
		return false, types.NewError(types.ErrInternal, "failed checking entitlement").WithCause(err)
	}
	return count > 0, nil
}

// ListForAgent returns every active entitlement for an agent, for admin
// inspection.
func (s *EntitlementStore) ListForAgent(ctx context.Context, tenantID, agentID string) ([]Entitlement, error) {
	var out []Entitlement
	err := s.pool.DB().WithContext(ctx).
		Where("tenant_id = ? AND agent_id = ? AND revoked_at IS NULL", tenantID, agentID).
		Order("granted_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed listing entitlements").WithCause(err)
	}
	return out, nil
}
