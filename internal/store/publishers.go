package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/types"
)

// PublisherFederatedNamespace is the display-name prefix reserved for the
// synthetic publisher identities federation sync creates — one per peer,
// distinct from any tenant-local publisher.
const PublisherFederatedNamespace = "peer:"

// GetOrCreatePublisher resolves the Publisher row for (tenantID,
// displayName), creating it on first use. Publisher identity is derived
// from the authenticated principal (its own display name) or supplied by
// an Administrator publishing on another's behalf.
func (s *AgentStore) GetOrCreatePublisher(ctx context.Context, tenantID, displayName string) (*Publisher, error) {
	var pub Publisher
	err := s.pool.DB().WithContext(ctx).
		Where("tenant_id = ? AND display_name = ?", tenantID, displayName).
		First(&pub).Error
	if err == nil {
		return &pub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrInternal, "failed looking up publisher").WithCause(err)
	}

	pub = Publisher{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		DisplayName: displayName,
		CreatedAt:   time.Now(),
	}
	if err := s.pool.DB().WithContext(ctx).Create(&pub).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "failed creating publisher").WithCause(err)
	}
	return &pub, nil
}
