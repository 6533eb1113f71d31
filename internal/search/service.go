package search

import (
	"context"
	"hash/fnv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/types"
)

// opKind distinguishes an index write from a delete in the queue.
type opKind string

const (
	opIndex  opKind = "index"
	opDelete opKind = "delete"
)

type op struct {
	kind    opKind
	agentID string
	doc     Document
}

// Config tunes the worker pool and retry/reconciliation behavior.
type Config struct {
	Workers        int
	QueueSize      int
	EnqueueTimeout time.Duration
	RetryBase      time.Duration
	RetryCap       time.Duration
	MaxAttempts    int
	ReconcileEvery time.Duration
}

// DefaultConfig returns the contract's stated worker-pool and retry
// defaults: 200ms base backoff, 5s cap, 5 attempts, reconciled every 60s.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      1024,
		EnqueueTimeout: 500 * time.Millisecond,
		RetryBase:      200 * time.Millisecond,
		RetryCap:       5 * time.Second,
		MaxAttempts:    5,
		ReconcileEvery: 60 * time.Second,
	}
}

// Service drains a bounded queue of index operations through a fixed pool
// of workers, sharding by agent id so every agent's operations are
// processed by exactly one worker and therefore stay in FIFO order
// relative to each other, even though different agents index in
// parallel. A write that exhausts its retries is handed to the repair
// log instead of being dropped.
type Service struct {
	cfg        Config
	indexer    Indexer
	repairLog  *store.RepairLogStore
	logger     *zap.Logger
	shards     []chan op
	group      *errgroup.Group
	groupCtx   context.Context
	cancelFunc context.CancelFunc
}

// New builds and starts a Service's worker pool. Call Close to drain and
// stop it.
func New(cfg Config, indexer Indexer, repairLog *store.RepairLogStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)

	s := &Service{
		cfg:        cfg,
		indexer:    indexer,
		repairLog:  repairLog,
		logger:     logger.With(zap.String("component", "search_indexer")),
		shards:     make([]chan op, cfg.Workers),
		group:      group,
		groupCtx:   groupCtx,
		cancelFunc: cancel,
	}
	for i := range s.shards {
		s.shards[i] = make(chan op, cfg.QueueSize/cfg.Workers+1)
	}
	for i := range s.shards {
		shard := s.shards[i]
		group.Go(func() error {
			s.drain(shard)
			return nil
		})
	}
	return s
}

// shardFor picks the worker a given agent's operations always route
// through, so FIFO ordering per agent holds regardless of queue depth.
func (s *Service) shardFor(agentID string) int {
	h := fnv.New32a()
	h.Write([]byte(agentID))
	return int(h.Sum32()) % len(s.shards)
}

// EnqueueIndex submits a document for indexing. It blocks up to
// cfg.EnqueueTimeout for room in the queue before returning Overloaded —
// the publish service treats this as a signal to roll back the
// publication rather than leave the store and index inconsistent.
func (s *Service) EnqueueIndex(ctx context.Context, doc Document) error {
	return s.enqueue(ctx, op{kind: opIndex, agentID: doc.AgentID, doc: doc})
}

// EnqueueDelete submits a removal for indexing.
func (s *Service) EnqueueDelete(ctx context.Context, agentID string) error {
	return s.enqueue(ctx, op{kind: opDelete, agentID: agentID})
}

func (s *Service) enqueue(ctx context.Context, o op) error {
	timer := time.NewTimer(s.cfg.EnqueueTimeout)
	defer timer.Stop()

	shard := s.shards[s.shardFor(o.agentID)]
	select {
	case shard <- o:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return types.NewError(types.ErrOverloaded, "search index queue is full").
			WithDetail("enqueue timed out, index backlog is saturated")
	}
}

func (s *Service) drain(shard chan op) {
	for o := range shard {
		s.process(o)
	}
}

func (s *Service) process(o op) {
	var lastErr error
	delay := s.cfg.RetryBase

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		var err error
		switch o.kind {
		case opIndex:
			err = s.indexer.Index(ctx, o.doc)
		case opDelete:
			err = s.indexer.Delete(ctx, o.agentID)
		}
		cancel()

		if err == nil {
			if s.repairLog != nil {
				if resolveErr := s.repairLog.Resolve(context.Background(), o.agentID, string(o.kind)); resolveErr != nil {
					s.logger.Warn("failed to clear repair log entry", zap.String("agent_id", o.agentID), zap.Error(resolveErr))
				}
			}
			return
		}

		lastErr = err
		s.logger.Warn("index write failed, retrying",
			zap.String("agent_id", o.agentID), zap.String("op", string(o.kind)),
			zap.Int("attempt", attempt), zap.Error(err))

		if attempt < s.cfg.MaxAttempts {
			time.Sleep(delay)
			delay *= 2
			if delay > s.cfg.RetryCap {
				delay = s.cfg.RetryCap
			}
		}
	}

	s.logger.Error("index write exhausted retries, recording to repair log",
		zap.String("agent_id", o.agentID), zap.String("op", string(o.kind)), zap.Error(lastErr))
	if s.repairLog != nil {
		if err := s.repairLog.Record(context.Background(), o.agentID, string(o.kind), lastErr); err != nil {
			s.logger.Error("failed to record repair log entry", zap.String("agent_id", o.agentID), zap.Error(err))
		}
	}
}

// Search delegates to the underlying indexer.
func (s *Service) Search(ctx context.Context, q Query) (Result, error) {
	return s.indexer.Search(ctx, q)
}

// Close stops accepting work, waits for every worker to drain the
// operations already queued, then closes the indexer.
func (s *Service) Close() error {
	s.cancelFunc()
	for _, shard := range s.shards {
		close(shard)
	}
	_ = s.group.Wait()
	return s.indexer.Close()
}
