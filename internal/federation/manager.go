// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package federation implements the Federation Manager (C10): it tracks
// peer registries, runs scheduled pull-syncs against them, and reconciles
// the agents they advertise into the local store as federated entries
// under a synthetic peer:<name> publisher.
package federation

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
)

// SystemTenantID is the tenant federated Agent Records are filed under.
// Peer Registries are not tenant-scoped (administrators manage them
// instance-wide, matching the reference service this was distilled
// from), but AgentRecord.TenantID is NOT NULL — every federated record
// needs some value. Federated entries are always public (§4.10 step 4),
// so they are reachable through ListPublic/WellKnownIndex regardless of
// the literal tenant id they are filed under; this constant exists only
// to satisfy the schema, never to scope visibility.
const SystemTenantID = "_federation"

// Config tunes the scheduler and sync client.
type Config struct {
	PollInterval     time.Duration // how often the scheduler checks for due peers
	MaxParallelSyncs int64         // global cap on concurrent peer syncs
	PageSize         int           // well-known index page size requested from peers
	MaxPages         int           // safety cap on index pagination (§4.10 step 1)
	JitterFraction   float64       // delay before firing is 0 to +fraction of sync_interval_s; it never fires early
}

// DefaultConfig returns the contract's stated defaults: max_parallel_syncs
// 4, index pagination capped at 1000 pages, and a jitter fraction of 0.1.
// The jitter only delays: a due peer fires after 0 to +10% of its
// interval (about half the time with no delay), never before it is due.
func DefaultConfig() Config {
	return Config{
		PollInterval:     30 * time.Second,
		MaxParallelSyncs: 4,
		PageSize:         100,
		MaxPages:         1000,
		JitterFraction:   0.1,
	}
}

// indexResponse mirrors the JSON the registry's own GET
// /.well-known/agents/index.json emits (internal/discovery.WellKnownIndex)
// — a peer sync client is just another consumer of that same endpoint.
type indexResponse struct {
	RegistryURL string                `json:"registryUrl"`
	GeneratedAt time.Time             `json:"generatedAt"`
	Items       []discovery.AgentView `json:"items"`
	Total       int                   `json:"total"`
}

// Manager runs the federation pull-sync loop against every registered
// peer, on its own schedule independent of request handling.
type Manager struct {
	peers   *store.PeerStore
	agents  *store.AgentStore
	fetcher *fetch.Fetcher
	indexer *search.Service
	disco   *discovery.Service
	cfg     Config
	logger  *zap.Logger

	sem *semaphore.Weighted

	mu        sync.Mutex
	inFlight  map[string]bool
	queued    map[string]bool
	cancelFns map[string]context.CancelFunc

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New builds a Manager. disco may be nil (used in tests); when non-nil its
// cache is invalidated after every sync that changes the local set.
func New(peers *store.PeerStore, agents *store.AgentStore, fetcher *fetch.Fetcher, indexer *search.Service, disco *discovery.Service, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.MaxParallelSyncs <= 0 {
		cfg.MaxParallelSyncs = DefaultConfig().MaxParallelSyncs
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultConfig().MaxPages
	}
	return &Manager{
		peers:     peers,
		agents:    agents,
		fetcher:   fetcher,
		indexer:   indexer,
		disco:     disco,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "federation")),
		sem:       semaphore.NewWeighted(cfg.MaxParallelSyncs),
		inFlight:  make(map[string]bool),
		queued:    make(map[string]bool),
		cancelFns: make(map[string]context.CancelFunc),
		stopCh:    make(chan struct{}),
	}
}

// Start runs the scheduler loop in the background until Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.scheduleDue(ctx)
			}
		}
	}()
}

// Stop signals the scheduler to exit and waits for in-flight syncs (and
// any re-run queued behind them) to finish; it does not cancel them.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// Trigger requests an immediate sync of peerID, as issued by an
// administrator via POST /peers/{id}/sync. It returns once the sync has
// been accepted for execution, not once it has finished (the HTTP
// boundary answers 202).
func (m *Manager) Trigger(peerID string) {
	m.enqueue(peerID)
}

// Disable marks peerID disabled and, if a sync for it is currently
// running, cancels that run's context — per §4.10, "if a peer is
// disabled mid-sync, the current run completes but its results are
// discarded except for the Sync Run row marked cancelled." Cancelling the
// context stops the diff loop from applying any further item before its
// next iteration boundary; whatever had already been committed stays
// committed, matching "completes" loosely while avoiding an unbounded
// in-flight sync against a peer the operator just turned off.
func (m *Manager) Disable(ctx context.Context, peerID string) error {
	if err := m.peers.SetPeerStatus(ctx, peerID, store.PeerStatusDisabled); err != nil {
		return err
	}
	m.mu.Lock()
	cancel := m.cancelFns[peerID]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (m *Manager) scheduleDue(ctx context.Context) {
	due, err := m.peers.ListDueForSync(ctx, time.Now())
	if err != nil {
		m.logger.Warn("failed listing peers due for sync", zap.Error(err))
		return
	}
	for _, peer := range due {
		jitter := jitterDelay(peer.SyncInterval, m.cfg.JitterFraction)
		peerID := peer.ID
		time.AfterFunc(jitter, func() { m.enqueue(peerID) })
	}
}

func jitterDelay(interval time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return 0
	}
	spread := float64(interval) * fraction
	offset := (rand.Float64()*2 - 1) * spread
	if offset < 0 {
		return 0 // never delay sync scheduling into the past; only a positive jitter is applied
	}
	return time.Duration(offset)
}

// enqueue starts a sync for peerID, or — if one is already running — marks
// it to be re-run immediately after the current one finishes. This
// collapses concurrent requests for the same peer into "one in flight +
// at most one queued," per §4.10.
func (m *Manager) enqueue(peerID string) {
	m.mu.Lock()
	if m.inFlight[peerID] {
		m.queued[peerID] = true
		m.mu.Unlock()
		return
	}
	m.inFlight[peerID] = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.runLoop(peerID)
}

func (m *Manager) runLoop(peerID string) {
	defer m.wg.Done()
	for {
		m.runOne(peerID)

		m.mu.Lock()
		if m.queued[peerID] {
			m.queued[peerID] = false
			m.mu.Unlock()
			continue
		}
		m.inFlight[peerID] = false
		m.mu.Unlock()
		return
	}
}

func (m *Manager) runOne(peerID string) {
	if err := m.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.cancelFns[peerID] = cancel
	m.mu.Unlock()
	defer func() {
		cancel()
		m.mu.Lock()
		delete(m.cancelFns, peerID)
		m.mu.Unlock()
	}()

	if err := m.sync(ctx, peerID); err != nil {
		m.logger.Warn("peer sync failed", zap.String("peer_id", peerID), zap.Error(err))
	}
}
