package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/a2aregistry/registry/types"
)

// PeerStore persists Peer Registries and their Sync Runs.
type PeerStore struct {
	pool   *Pool
	logger *zap.Logger
}

// NewPeerStore builds a store over an already-configured Pool.
func NewPeerStore(pool *Pool, logger *zap.Logger) *PeerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeerStore{pool: pool, logger: logger.With(zap.String("component", "peer_store"))}
}

// CreatePeer registers a new peer registry.
func (s *PeerStore) CreatePeer(ctx context.Context, peer *PeerRegistry) error {
	peer.ID = uuid.New().String()
	peer.CreatedAt = time.Now()
	peer.UpdatedAt = time.Now()
	if peer.Status == "" {
		peer.Status = PeerStatusActive
	}
	if err := s.pool.DB().WithContext(ctx).Create(peer).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed creating peer registry").WithCause(err)
	}
	return nil
}

// GetPeer looks up a peer registry by id.
func (s *PeerStore) GetPeer(ctx context.Context, id string) (*PeerRegistry, error) {
	var peer PeerRegistry
	if err := s.pool.DB().WithContext(ctx).First(&peer, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err, "peer registry not found")
	}
	return &peer, nil
}

// ListPeers returns every registered peer registry.
func (s *PeerStore) ListPeers(ctx context.Context) ([]PeerRegistry, error) {
	var peers []PeerRegistry
	if err := s.pool.DB().WithContext(ctx).Order("name").Find(&peers).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "failed listing peer registries").WithCause(err)
	}
	return peers, nil
}

// ListDueForSync returns active peers whose last sync (if any) is older
// than their configured interval — the set the federation scheduler
// should pull from this tick.
func (s *PeerStore) ListDueForSync(ctx context.Context, now time.Time) ([]PeerRegistry, error) {
	var peers []PeerRegistry
	err := s.pool.DB().WithContext(ctx).
		Where("status = ?", PeerStatusActive).
		Find(&peers).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed listing peers due for sync").WithCause(err)
	}
	due := peers[:0]
	for _, p := range peers {
		if p.LastSyncAt == nil || now.Sub(*p.LastSyncAt) >= p.SyncInterval {
			due = append(due, p)
		}
	}
	return due, nil
}

// UpdatePeerAfterSync records the outcome of a sync attempt on the peer
// row itself (last_sync_at, last_cursor, status, last_error).
func (s *PeerStore) UpdatePeerAfterSync(ctx context.Context, peerID string, syncedAt time.Time, cursor *string, status PeerStatus, syncErr *string) error {
	updates := map[string]any{
		"last_sync_at": syncedAt,
		"status":       status,
		"updated_at":   time.Now(),
	}
	if cursor != nil {
		updates["last_cursor"] = *cursor
	}
	if syncErr != nil {
		updates["last_error"] = *syncErr
	} else {
		updates["last_error"] = nil
	}
	err := s.pool.DB().WithContext(ctx).Model(&PeerRegistry{}).Where("id = ?", peerID).Updates(updates).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed updating peer after sync").WithCause(err)
	}
	return nil
}

// SetPeerStatus updates only a peer's operational status (used to
// enable/disable a peer administratively).
func (s *PeerStore) SetPeerStatus(ctx context.Context, peerID string, status PeerStatus) error {
	err := s.pool.DB().WithContext(ctx).Model(&PeerRegistry{}).
		Where("id = ?", peerID).
		Updates(map[string]any{"status": status, "updated_at": time.Now()}).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed updating peer status").WithCause(err)
	}
	return nil
}

// DeletePeer removes a peer registry outright. Sync Runs referencing it
// are kept for audit purposes.
func (s *PeerStore) DeletePeer(ctx context.Context, peerID string) error {
	err := s.pool.DB().WithContext(ctx).Delete(&PeerRegistry{}, "id = ?", peerID).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed deleting peer registry").WithCause(err)
	}
	return nil
}

// StartSyncRun records the beginning of a federation pull.
func (s *PeerStore) StartSyncRun(ctx context.Context, peerID string) (*SyncRun, error) {
	run := &SyncRun{
		ID:        uuid.New().String(),
		PeerID:    peerID,
		StartedAt: time.Now(),
		Outcome:   SyncOutcomePartial, // overwritten by FinishSyncRun; a crash mid-run leaves an honest "partial"
	}
	if err := s.pool.DB().WithContext(ctx).Create(run).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "failed starting sync run").WithCause(err)
	}
	return run, nil
}

// FinishSyncRun records the outcome of a previously-started sync run.
func (s *PeerStore) FinishSyncRun(ctx context.Context, runID string, outcome SyncOutcome, added, updated, removed int, syncErr *string) error {
	updates := map[string]any{
		"finished_at": time.Now(),
		"outcome":     outcome,
		"added":       added,
		"updated":     updated,
		"removed":     removed,
	}
	if syncErr != nil {
		updates["error"] = *syncErr
	}
	err := s.pool.DB().WithContext(ctx).Model(&SyncRun{}).Where("id = ?", runID).Updates(updates).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "failed finishing sync run").WithCause(err)
	}
	return nil
}

// ListSyncRuns returns the most recent sync runs for a peer, newest first.
func (s *PeerStore) ListSyncRuns(ctx context.Context, peerID string, limit int) ([]SyncRun, error) {
	var runs []SyncRun
	err := s.pool.DB().WithContext(ctx).
		Where("peer_id = ?", peerID).
		Order("started_at DESC").
		Limit(ClampLimit(limit)).
		Find(&runs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed listing sync runs").WithCause(err)
	}
	return runs, nil
}
