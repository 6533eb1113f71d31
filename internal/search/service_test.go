package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/internal/store"
)

func newTestService(t *testing.T, idx Indexer) (*Service, *store.RepairLogStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	cfg := store.DefaultPoolConfig()
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	pool, err := store.NewPool(db, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	repairLog := store.NewRepairLogStore(pool, zaptest.NewLogger(t))

	svcCfg := DefaultConfig()
	svcCfg.Workers = 2
	svcCfg.QueueSize = 8
	svcCfg.RetryBase = time.Millisecond
	svcCfg.RetryCap = 5 * time.Millisecond
	svcCfg.MaxAttempts = 2

	svc := New(svcCfg, idx, repairLog, zaptest.NewLogger(t))
	t.Cleanup(func() { svc.Close() })
	return svc, repairLog
}

func TestService_EnqueueIndexIsSearchableOnceDrained(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	svc, _ := newTestService(t, idx)
	ctx := context.Background()

	require.NoError(t, svc.EnqueueIndex(ctx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true}))

	require.Eventually(t, func() bool {
		res, err := svc.Search(ctx, Query{Text: "recipe", Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
		return err == nil && len(res.Hits) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestService_SameAgentOpsStayOrderedIndexThenDelete(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	svc, _ := newTestService(t, idx)
	ctx := context.Background()

	require.NoError(t, svc.EnqueueIndex(ctx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true}))
	require.NoError(t, svc.EnqueueDelete(ctx, "a1"))

	require.Eventually(t, func() bool {
		res, err := svc.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
		return err == nil && len(res.Hits) == 0
	}, time.Second, 5*time.Millisecond)
}

type failingIndexer struct {
	*BleveIndex
	failIndex bool
}

func (f *failingIndexer) Index(ctx context.Context, doc Document) error {
	if f.failIndex {
		return assert.AnError
	}
	return f.BleveIndex.Index(ctx, doc)
}

func TestService_ExhaustedRetriesAreRecordedInRepairLog(t *testing.T) {
	t.Parallel()
	idx := &failingIndexer{BleveIndex: newTestIndex(t), failIndex: true}
	svc, repairLog := newTestService(t, idx)
	ctx := context.Background()

	require.NoError(t, svc.EnqueueIndex(ctx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true}))

	require.Eventually(t, func() bool {
		entries, err := repairLog.ListPending(ctx, 10)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestReconciler_RetriesPendingRepairsAndClearsThemOnSuccess(t *testing.T) {
	t.Parallel()
	idx := &failingIndexer{BleveIndex: newTestIndex(t), failIndex: true}
	svc, repairLog := newTestService(t, idx)
	ctx := context.Background()

	doc := Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true}
	require.NoError(t, svc.EnqueueIndex(ctx, doc))

	require.Eventually(t, func() bool {
		entries, err := repairLog.ListPending(ctx, 10)
		return err == nil && len(entries) == 1
	}, time.Second, 5*time.Millisecond)

	idx.failIndex = false // simulate the transient failure clearing

	reconciler := NewReconciler(svc, func(ctx context.Context, agentID string) (Document, bool, error) {
		return doc, true, nil
	}, 10*time.Millisecond, zaptest.NewLogger(t))
	reconciler.Start()
	t.Cleanup(reconciler.Stop)

	require.Eventually(t, func() bool {
		entries, err := repairLog.ListPending(ctx, 10)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
