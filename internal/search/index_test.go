package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *BleveIndex {
	t.Helper()
	idx, err := NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func seedAgent(t *testing.T, idx *BleveIndex, doc Document) {
	t.Helper()
	require.NoError(t, idx.Index(context.Background(), doc))
}

func TestBleveIndex_SearchMatchesByNameAndDescription(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{
		AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent",
		Description: "Suggests dinner recipes", Public: true, UpdatedAt: time.Now(),
	})
	seedAgent(t, idx, Document{
		AgentID: "a2", TenantID: "tenant-a", Name: "Weather Agent",
		Description: "Forecasts weather", Public: true, UpdatedAt: time.Now(),
	})

	res, err := idx.Search(ctx, Query{Text: "recipe", Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a1", res.Hits[0].AgentID)
}

func TestBleveIndex_SearchScopesToTenant(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true})
	seedAgent(t, idx, Document{AgentID: "a2", TenantID: "tenant-b", Name: "Recipe Agent", Public: true})

	res, err := idx.Search(ctx, Query{Text: "recipe", Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a1", res.Hits[0].AgentID)
}

func TestBleveIndex_PublicOnlyExcludesPrivateAgents(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Private Agent", Public: false})

	res, err := idx.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestBleveIndex_VisibleAgentIDsIncludesEntitledPrivateAgents(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Private Agent", Public: false})
	seedAgent(t, idx, Document{AgentID: "a2", TenantID: "tenant-a", Name: "Other Private Agent", Public: false})

	res, err := idx.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", VisibleAgentIDs: []string{"a1"}}, Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a1", res.Hits[0].AgentID)
}

func TestBleveIndex_EmptyVisibleAgentIDsMatchesNothing(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Private Agent", Public: false})

	res, err := idx.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", VisibleAgentIDs: []string{}}, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestBleveIndex_DeleteRemovesDocument(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{AgentID: "a1", TenantID: "tenant-a", Name: "Recipe Agent", Public: true})
	require.NoError(t, idx.Delete(ctx, "a1"))

	res, err := idx.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", PublicOnly: true}, Size: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Hits)
}

func TestBleveIndex_CapabilityFilterMatchesOnlyFlaggedAgents(t *testing.T) {
	t.Parallel()
	idx := newTestIndex(t)
	ctx := context.Background()

	seedAgent(t, idx, Document{
		AgentID: "a1", TenantID: "tenant-a", Name: "Streaming Agent", Public: true,
		Extensions: map[string]bool{"streaming": true},
	})
	seedAgent(t, idx, Document{
		AgentID: "a2", TenantID: "tenant-a", Name: "Batch Agent", Public: true,
		Extensions: map[string]bool{"streaming": false},
	})

	res, err := idx.Search(ctx, Query{Filter: Filter{TenantID: "tenant-a", PublicOnly: true, Capabilities: []string{"streaming"}}, Size: 10})
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	assert.Equal(t, "a1", res.Hits[0].AgentID)
}
