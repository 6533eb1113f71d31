package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/pkg/a2acard"
	"github.com/a2aregistry/registry/types"
)

// AgentStore persists Agent Records and Agent Versions and enforces their
// invariants: unique (tenant, publisher, name), unique (agent_id,
// content_hash) idempotent dedupe, and a latest_version_id that always
// points at a version of the same agent.
type AgentStore struct {
	pool   *Pool
	logger *zap.Logger
}

// NewAgentStore builds a store over an already-configured Pool.
func NewAgentStore(pool *Pool, logger *zap.Logger) *AgentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentStore{pool: pool, logger: logger.With(zap.String("component", "agent_store"))}
}

// UpsertResult reports the outcome of UpsertVersion.
type UpsertResult struct {
	AgentID   string
	VersionID string
	Created   bool

	// AgentCreated and PreviousVersionID let a caller compensate a publish
	// that committed but then failed a later pipeline step (index
	// backpressure): RollbackVersion uses them to either remove the whole
	// agent (if it was newly created by this call) or restore the prior
	// latest_version_id (if the agent already existed).
	AgentCreated      bool
	PreviousVersionID string
}

// UpsertVersion inserts a new Agent Version for (tenant, publisher, name),
// creating the Agent Record if this is the first publish. Republishing
// byte-identical content is an idempotent no-op: Created is false and
// UpdatedAt is not bumped.
func (s *AgentStore) UpsertVersion(
	ctx context.Context,
	tenantID, publisherID, name string,
	card *a2acard.Card,
	cardJSON []byte,
	contentHash, version string,
	source SourceKind,
	sourceURL *string,
) (UpsertResult, error) {
	var result UpsertResult

	err := s.pool.WithSerializableRetry(ctx, 5, func(tx *gorm.DB) error {
		// SERIALIZABLE isolation plus this lookup-then-write pattern
		// linearizes concurrent publishes to the same agent identity;
		// isRetryableError catches the resulting serialization failures.
		var record AgentRecord
		agentCreated := false
		err := tx.Where("tenant_id = ? AND publisher_id = ? AND name = ?", tenantID, publisherID, name).
			First(&record).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			record = AgentRecord{
				ID:          uuid.New().String(),
				TenantID:    tenantID,
				PublisherID: publisherID,
				Name:        name,
				Public:      false,
				CreatedAt:   time.Now(),
				UpdatedAt:   time.Now(),
			}
			if source == SourceFederated {
				fromPeer := publisherID
				record.FederatedFrom = &fromPeer
			}
			if err := tx.Create(&record).Error; err != nil {
				return err
			}
			agentCreated = true
		case err != nil:
			return err
		}

		if record.FederatedFrom != nil && source != SourceFederated {
			return types.NewError(types.ErrForbidden, "federated agents cannot be mutated by local publish")
		}

		var existing AgentVersion
		err = tx.Where("agent_id = ? AND content_hash = ?", record.ID, contentHash).First(&existing).Error
		if err == nil {
			result = UpsertResult{AgentID: record.ID, VersionID: existing.ID, Created: false}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		previousVersionID := record.LatestVersionID

		newVersion := AgentVersion{
			ID:          uuid.New().String(),
			AgentID:     record.ID,
			Version:     version,
			ContentHash: contentHash,
			CardJSON:    cardJSON,
			Source:      source,
			SourceURL:   sourceURL,
			CreatedAt:   time.Now(),
		}
		if err := tx.Create(&newVersion).Error; err != nil {
			return err
		}

		record.LatestVersionID = newVersion.ID
		record.UpdatedAt = time.Now()
		if err := tx.Save(&record).Error; err != nil {
			return err
		}

		result = UpsertResult{
			AgentID:           record.ID,
			VersionID:         newVersion.ID,
			Created:           true,
			AgentCreated:      agentCreated,
			PreviousVersionID: previousVersionID,
		}
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// RollbackVersion undoes a successful UpsertVersion call whose result a
// later pipeline step (search indexing) could not complete within its
// backpressure budget — the default chosen for the "commit but can't
// index" case (§8-S6): publish is atomic, so the version is compensated
// out rather than left for the repair log to reconcile. If the agent
// record was newly created by the original call, the whole record is
// removed; otherwise only the new version is removed and the record's
// latest_version_id reverts to whatever it pointed to before.
func (s *AgentStore) RollbackVersion(ctx context.Context, result UpsertResult) error {
	return s.pool.WithSerializableRetry(ctx, 5, func(tx *gorm.DB) error {
		if err := tx.Delete(&AgentVersion{}, "id = ?", result.VersionID).Error; err != nil {
			return err
		}
		if result.AgentCreated {
			return tx.Delete(&AgentRecord{}, "id = ?", result.AgentID).Error
		}
		return tx.Model(&AgentRecord{}).Where("id = ?", result.AgentID).
			Update("latest_version_id", result.PreviousVersionID).Error
	})
}

// SetVisibility updates an Agent Record's public flag, as published on
// each publish call (the visibility a card is published with may change
// from one version to the next).
func (s *AgentStore) SetVisibility(ctx context.Context, agentID string, public bool) error {
	err := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("id = ?", agentID).
		Updates(map[string]any{"public": public, "updated_at": time.Now()}).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed updating agent visibility").WithCause(err)
	}
	return nil
}

// GetLatest returns the current version of agentID.
func (s *AgentStore) GetLatest(ctx context.Context, agentID string) (*AgentVersion, error) {
	var record AgentRecord
	if err := s.pool.DB().WithContext(ctx).First(&record, "id = ?", agentID).Error; err != nil {
		return nil, wrapNotFound(err, "agent not found")
	}
	var version AgentVersion
	if err := s.pool.DB().WithContext(ctx).First(&version, "id = ?", record.LatestVersionID).Error; err != nil {
		return nil, wrapNotFound(err, "latest version not found")
	}
	return &version, nil
}

// GetVersionByNumber returns a specific historical AgentVersion of
// agentID by its semver string, for the `?version=` supplement to
// get_agent/get_card (§8 SPEC_FULL). Versions are immutable, so unlike
// GetLatest this never changes for a given (agentID, version) pair.
func (s *AgentStore) GetVersionByNumber(ctx context.Context, agentID, version string) (*AgentVersion, error) {
	var v AgentVersion
	err := s.pool.DB().WithContext(ctx).
		Where("agent_id = ? AND version = ?", agentID, version).
		First(&v).Error
	if err != nil {
		return nil, wrapNotFound(err, "agent version not found")
	}
	return &v, nil
}

// ListFederatedForPeer returns every non-hidden Agent Record federated
// from publisherID (a peer's synthetic "peer:<name>" Publisher) within
// tenantID — the local set `L` a federation sync diffs against.
func (s *AgentStore) ListFederatedForPeer(ctx context.Context, tenantID, publisherID string) ([]AgentRecord, error) {
	var records []AgentRecord
	err := s.pool.DB().WithContext(ctx).
		Where("tenant_id = ? AND publisher_id = ? AND federated_from IS NOT NULL AND hidden_at IS NULL", tenantID, publisherID).
		Find(&records).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed listing federated agents").WithCause(err)
	}
	return records, nil
}

// Hide soft-deletes an Agent Record: it stops being returned by GetByID
// or any List* method, but its history is retained and GetByName still
// finds it by its (tenant, publisher, name) key. Used for
// explicit delete (not in the current operation set) and for federation
// retraction, when a peer stops advertising an agent it previously did.
func (s *AgentStore) Hide(ctx context.Context, agentID string) error {
	err := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("id = ?", agentID).
		Update("hidden_at", time.Now()).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed hiding agent").WithCause(err)
	}
	return nil
}

// CountByPublisher returns how many non-hidden agents a publisher
// currently owns, for enforcing MAX_AGENTS_PER_CLIENT.
func (s *AgentStore) CountByPublisher(ctx context.Context, publisherID string) (int64, error) {
	var count int64
	err := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("publisher_id = ? AND hidden_at IS NULL", publisherID).
		Count(&count).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternal, "failed counting publisher agents").WithCause(err)
	}
	return count, nil
}

// GetByName looks up an Agent Record by its (tenant, publisher, name) key.
func (s *AgentStore) GetByName(ctx context.Context, tenantID, publisherID, name string) (*AgentRecord, error) {
	var record AgentRecord
	err := s.pool.DB().WithContext(ctx).
		Where("tenant_id = ? AND publisher_id = ? AND name = ?", tenantID, publisherID, name).
		First(&record).Error
	if err != nil {
		return nil, wrapNotFound(err, "agent not found")
	}
	return &record, nil
}

// GetByID looks up an Agent Record by its primary key, honoring the
// soft-delete marker.
func (s *AgentStore) GetByID(ctx context.Context, agentID string) (*AgentRecord, error) {
	var record AgentRecord
	err := s.pool.DB().WithContext(ctx).
		Where("id = ? AND hidden_at IS NULL", agentID).
		First(&record).Error
	if err != nil {
		return nil, wrapNotFound(err, "agent not found")
	}
	return &record, nil
}

// ListFilter narrows ListForTenant/ListForTenantOffset to a subset of records.
type ListFilter struct {
	PublicOnly  bool
	PublisherID string      // empty = any
	EntitledBy  []string    // subjects to union against Entitlement; empty = don't filter by entitlement
}

// ListForTenant returns one page of Agent Records for a tenant, newest
// first by UpdatedAt, applying filter.
func (s *AgentStore) ListForTenant(ctx context.Context, tenantID string, cursor Cursor, limit int, filter ListFilter) (Page, error) {
	q := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("tenant_id = ? AND hidden_at IS NULL", tenantID)
	q = applyListFilter(q, filter)
	return runPagedQuery(q, cursor, limit)
}

// ListPublic returns one page of cross-tenant public Agent Records.
func (s *AgentStore) ListPublic(ctx context.Context, cursor Cursor, limit int) (Page, error) {
	q := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("public = ? AND hidden_at IS NULL", true)
	return runPagedQuery(q, cursor, limit)
}

// ListForTenantOffset returns up to top Agent Records for a tenant,
// skipping the first skip, newest-updated first, plus the total number
// of records the filter matches. This backs the HTTP-facing
// `?top=&skip=` contract directly (§6), distinct from the opaque
// Cursor used internally when a stable walk under concurrent writes
// matters more than literal skip/top semantics.
func (s *AgentStore) ListForTenantOffset(ctx context.Context, tenantID string, skip, top int, filter ListFilter) ([]AgentRecord, int, error) {
	q := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("tenant_id = ? AND hidden_at IS NULL", tenantID)
	q = applyListFilter(q, filter)
	return runOffsetQuery(q, skip, top)
}

// ListPublicOffset returns up to top cross-tenant public Agent Records,
// skipping the first skip, plus the total matching count.
func (s *AgentStore) ListPublicOffset(ctx context.Context, skip, top int) ([]AgentRecord, int, error) {
	q := s.pool.DB().WithContext(ctx).Model(&AgentRecord{}).
		Where("public = ? AND hidden_at IS NULL", true)
	return runOffsetQuery(q, skip, top)
}

func runOffsetQuery(q *gorm.DB, skip, top int) ([]AgentRecord, int, error) {
	top = ClampLimit(top)
	if skip < 0 {
		skip = 0
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, types.NewError(types.ErrInternal, "failed counting agents").WithCause(err)
	}

	var records []AgentRecord
	err := q.Order("updated_at DESC, id DESC").Offset(skip).Limit(top).Find(&records).Error
	if err != nil {
		return nil, 0, types.NewError(types.ErrInternal, "failed listing agents").WithCause(err)
	}
	return records, int(total), nil
}

func applyListFilter(q *gorm.DB, filter ListFilter) *gorm.DB {
	if filter.PublisherID != "" {
		q = q.Where("publisher_id = ?", filter.PublisherID)
	}
	if filter.PublicOnly {
		q = q.Where("public = ?", true)
	}
	if len(filter.EntitledBy) > 0 {
		q = q.Where(
			"public = ? OR id IN (SELECT agent_id FROM entitlements WHERE revoked_at IS NULL AND subject IN ?)",
			true, filter.EntitledBy,
		)
	}
	return q
}

func runPagedQuery(q *gorm.DB, cursor Cursor, limit int) (Page, error) {
	limit = ClampLimit(limit)

	if !cursor.UpdatedAt.IsZero() {
		q = q.Where(
			"(updated_at < ?) OR (updated_at = ? AND id < ?)",
			cursor.UpdatedAt, cursor.UpdatedAt, cursor.ID,
		)
	}

	var records []AgentRecord
	if err := q.Order("updated_at DESC, id DESC").Limit(limit + 1).Find(&records).Error; err != nil {
		return Page{}, types.NewError(types.ErrInternal, "failed listing agents").WithCause(err)
	}

	page := Page{Records: records}
	if len(records) > limit {
		page.Records = records[:limit]
		last := page.Records[len(page.Records)-1]
		page.NextCursor = Cursor{UpdatedAt: last.UpdatedAt, ID: last.ID}.Encode()
	}
	return page, nil
}

func wrapNotFound(err error, message string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.NewError(types.ErrNotFound, message)
	}
	return types.NewError(types.ErrInternal, message).WithCause(err)
}
