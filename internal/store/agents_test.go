package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/pkg/a2acard"
	"github.com/a2aregistry/registry/types"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	// SQLite allows only one writer at a time; a single pooled connection
	// avoids "database is locked" errors under the store's own retry loop.
	cfg := DefaultPoolConfig()
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1

	pool, err := NewPool(db, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return pool
}

func testCard() (*a2acard.Card, []byte) {
	c := &a2acard.Card{
		Name:        "Recipe Agent",
		Description: "Suggests recipes",
		URL:         "https://recipes.example.com/agent",
		Version:     "1.0.0",
		Skills:      []a2acard.Skill{{ID: "suggest", Name: "Suggest", Tags: []string{"food"}}},
		Interface: a2acard.Interface{
			PreferredTransport: a2acard.TransportHTTP,
			DefaultInputModes:  []string{"text"},
			DefaultOutputModes: []string{"text"},
		},
	}
	return c, []byte(`{"name":"Recipe Agent"}`)
}

func TestAgentStore_UpsertVersion_CreatesRecordAndVersion(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()

	result, err := store.UpsertVersion(context.Background(), "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceByValue, nil)
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotEmpty(t, result.AgentID)
	assert.NotEmpty(t, result.VersionID)

	latest, err := store.GetLatest(context.Background(), result.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", latest.Version)
	assert.Equal(t, "hash-1", latest.ContentHash)
}

func TestAgentStore_UpsertVersion_RepublishSameHashIsIdempotent(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()
	ctx := context.Background()

	first, err := store.UpsertVersion(ctx, "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceByValue, nil)
	require.NoError(t, err)

	before, err := store.GetByID(ctx, first.AgentID)
	require.NoError(t, err)

	second, err := store.UpsertVersion(ctx, "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceByValue, nil)
	require.NoError(t, err)

	assert.False(t, second.Created)
	assert.Equal(t, first.VersionID, second.VersionID)

	after, err := store.GetByID(ctx, first.AgentID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt, "republishing identical bytes must not bump updated_at")
}

func TestAgentStore_UpsertVersion_NewContentBumpsVersion(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()
	ctx := context.Background()

	first, err := store.UpsertVersion(ctx, "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceByValue, nil)
	require.NoError(t, err)

	second, err := store.UpsertVersion(ctx, "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-2", "1.1.0", SourceByValue, nil)
	require.NoError(t, err)

	assert.True(t, second.Created)
	assert.Equal(t, first.AgentID, second.AgentID)
	assert.NotEqual(t, first.VersionID, second.VersionID)

	latest, err := store.GetLatest(ctx, first.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)
}

func TestAgentStore_UpsertVersion_RejectsMutationOfFederatedAgent(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()
	ctx := context.Background()

	_, err := store.UpsertVersion(ctx, "tenant-a", "peer:peer-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceFederated, nil)
	require.NoError(t, err)

	_, err = store.UpsertVersion(ctx, "tenant-a", "peer:peer-1", "recipe-agent", card, raw, "hash-2", "1.1.0", SourceByValue, nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrForbidden, types.CodeOf(err))
}

func TestAgentStore_ListForTenant_PaginatesNewestFirst(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()
	ctx := context.Background()

	names := []string{"agent-a", "agent-b", "agent-c", "agent-d", "agent-e"}
	for i, name := range names {
		_, err := store.UpsertVersion(ctx, "tenant-a", "pub-1", name, card, raw, "hash-"+name, "1.0.0", SourceByValue, nil)
		require.NoError(t, err)
		_ = i
	}

	page1, err := store.ListForTenant(ctx, "tenant-a", Cursor{}, 2, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, page1.Records, 2)
	require.NotEmpty(t, page1.NextCursor)

	cursor, err := DecodeCursor(page1.NextCursor)
	require.NoError(t, err)

	page2, err := store.ListForTenant(ctx, "tenant-a", cursor, 2, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, page2.Records, 2)

	for _, r1 := range page1.Records {
		for _, r2 := range page2.Records {
			assert.NotEqual(t, r1.ID, r2.ID, "pages must not overlap")
		}
	}
}

func TestAgentStore_GetLatest_NotFoundIsRegistryError(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	store := NewAgentStore(pool, zaptest.NewLogger(t))

	_, err := store.GetLatest(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestEntitlementStore_GrantRevokeAndResolve(t *testing.T) {
	t.Parallel()

	pool := newTestPool(t)
	agents := NewAgentStore(pool, zaptest.NewLogger(t))
	entitlements := NewEntitlementStore(pool, zaptest.NewLogger(t))
	card, raw := testCard()
	ctx := context.Background()

	result, err := agents.UpsertVersion(ctx, "tenant-a", "pub-1", "recipe-agent", card, raw, "hash-1", "1.0.0", SourceByValue, nil)
	require.NoError(t, err)

	ok, err := entitlements.IsEntitled(ctx, "tenant-a", result.AgentID, []string{"principal:alice"})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = entitlements.Grant(ctx, "tenant-a", "principal:alice", result.AgentID)
	require.NoError(t, err)

	ok, err = entitlements.IsEntitled(ctx, "tenant-a", result.AgentID, []string{"principal:alice", "role:User"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, entitlements.Revoke(ctx, "tenant-a", "principal:alice", result.AgentID))

	ok, err = entitlements.IsEntitled(ctx, "tenant-a", result.AgentID, []string{"principal:alice"})
	require.NoError(t, err)
	assert.False(t, ok)
}
