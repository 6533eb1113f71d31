package search

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DocumentLoader rebuilds the current index document for an agent id, for
// the reconciler to replay a failed "index" operation. ok is false when
// the agent no longer exists or is no longer visible, in which case the
// reconciler retries a delete instead.
type DocumentLoader func(ctx context.Context, agentID string) (doc Document, ok bool, err error)

// Reconciler periodically retries repair log entries left behind by
// operations that exhausted the worker pool's own retries. It is the
// durability backstop promised by the repair log: in-memory queue state
// is lost on restart, but the repair log survives in the store.
type Reconciler struct {
	service *Service
	loader  DocumentLoader
	logger  *zap.Logger
	every   time.Duration
	stop    chan struct{}
	done    chan struct{}
}

// NewReconciler builds a Reconciler. Call Start to begin its poll loop
// and Stop to end it.
func NewReconciler(service *Service, loader DocumentLoader, every time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if every <= 0 {
		every = DefaultConfig().ReconcileEvery
	}
	return &Reconciler{
		service: service,
		loader:  loader,
		logger:  logger.With(zap.String("component", "search_reconciler")),
		every:   every,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs the poll loop in its own goroutine until Stop is called.
func (r *Reconciler) Start() {
	go r.loop()
}

// Stop ends the poll loop and waits for the in-flight pass to finish.
func (r *Reconciler) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reconciler) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.runOnce()
		}
	}
}

func (r *Reconciler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := r.service.repairLog.ListPending(ctx, 200)
	if err != nil {
		r.logger.Error("failed to list pending repair log entries", zap.Error(err))
		return
	}
	if len(entries) == 0 {
		return
	}
	r.logger.Info("retrying pending index repairs", zap.Int("count", len(entries)))

	for _, entry := range entries {
		switch opKind(entry.Operation) {
		case opDelete:
			if err := r.service.EnqueueDelete(ctx, entry.AgentID); err != nil {
				r.logger.Warn("failed to re-enqueue delete repair", zap.String("agent_id", entry.AgentID), zap.Error(err))
			}
		case opIndex:
			doc, ok, err := r.loader(ctx, entry.AgentID)
			if err != nil {
				r.logger.Warn("failed to reload document for repair", zap.String("agent_id", entry.AgentID), zap.Error(err))
				continue
			}
			if !ok {
				if err := r.service.EnqueueDelete(ctx, entry.AgentID); err != nil {
					r.logger.Warn("failed to re-enqueue delete for vanished agent", zap.String("agent_id", entry.AgentID), zap.Error(err))
				}
				continue
			}
			if err := r.service.EnqueueIndex(ctx, doc); err != nil {
				r.logger.Warn("failed to re-enqueue index repair", zap.String("agent_id", entry.AgentID), zap.Error(err))
			}
		}
	}
}
