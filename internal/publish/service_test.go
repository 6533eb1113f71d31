package publish

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/types"
)

func newTestService(t *testing.T) (*Service, *store.AgentStore) {
	t.Helper()
	return newTestServiceWithQuota(t, 0)
}

func newTestServiceWithQuota(t *testing.T, maxAgentsPerPublisher int) (*Service, *store.AgentStore) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))

	cfg := store.DefaultPoolConfig()
	cfg.MaxOpenConns = 1
	cfg.MaxIdleConns = 1
	pool, err := store.NewPool(db, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	agents := store.NewAgentStore(pool, zaptest.NewLogger(t))
	entitlements := store.NewEntitlementStore(pool, zaptest.NewLogger(t))

	idx, err := search.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	repairLog := store.NewRepairLogStore(pool, zaptest.NewLogger(t))
	searchSvc := search.New(search.DefaultConfig(), idx, repairLog, zaptest.NewLogger(t))
	t.Cleanup(func() { searchSvc.Close() })

	discoverySvc := discovery.New(agents, entitlements, searchSvc, nil, "https://registry.example.com", zaptest.NewLogger(t))
	fetcher := fetch.New(fetch.DefaultConfig(), zaptest.NewLogger(t))
	gate := authz.NewGate(nil, zaptest.NewLogger(t))

	return New(agents, fetcher, searchSvc, discoverySvc, gate, maxAgentsPerPublisher, zaptest.NewLogger(t)), agents
}

func validCardJSON(name, organization string) []byte {
	provider := ""
	if organization != "" {
		provider = `"provider": {"organization": "` + organization + `"},`
	}
	return []byte(`{
		"name": "` + name + `",
		"description": "a test agent",
		"url": "https://agents.example.com/` + name + `",
		"version": "1.0.0",
		` + provider + `
		"securitySchemes": [{"type": "jwt"}],
		"skills": [{"id": "do-thing", "name": "Do Thing", "tags": ["test"]}],
		"interface": {
			"preferredTransport": "jsonrpc",
			"defaultInputModes": ["text"],
			"defaultOutputModes": ["text"]
		}
	}`)
}

func catalogManager(id, tenantID string) authz.Principal {
	return authz.Principal{ID: id, TenantID: tenantID, Roles: []authz.Role{authz.RoleCatalogManager}}
}

func TestPublishByValue_CreatesNewAgent(t *testing.T) {
	t.Parallel()
	svc, agents := newTestService(t)
	principal := catalogManager("alice", "tenant-a")

	result, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal,
		CardJSON:  validCardJSON("checkout-agent", ""),
		Public:    true,
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.NotEmpty(t, result.AgentID)

	record, err := agents.GetByID(context.Background(), result.AgentID)
	require.NoError(t, err)
	assert.True(t, record.Public)
}

func TestPublishByValue_RepublishSameContentIsIdempotent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	principal := catalogManager("alice", "tenant-a")
	req := ByValueRequest{Principal: principal, CardJSON: validCardJSON("checkout-agent", ""), Public: true}

	first, err := svc.PublishByValue(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := svc.PublishByValue(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.AgentID, second.AgentID)
}

func TestPublishByValue_RejectsNonPublisherRole(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	principal := authz.Principal{ID: "alice", TenantID: "tenant-a", Roles: []authz.Role{authz.RoleUser}}

	_, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal,
		CardJSON:  validCardJSON("checkout-agent", ""),
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrForbidden))
}

func TestPublishByValue_InvalidCardRejected(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	principal := catalogManager("alice", "tenant-a")

	_, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal,
		CardJSON:  []byte(`{"name": ""}`),
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidCard))
}

func TestPublishByValue_ProviderOrganizationMismatchRejected(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	principal := catalogManager("alice", "tenant-a")

	_, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal,
		CardJSON:  validCardJSON("checkout-agent", "someone-else"),
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrForbidden))
}

func TestPublishByValue_AdministratorMayOverrideProviderOrganization(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)
	principal := authz.Principal{ID: "admin", TenantID: "tenant-a", Roles: []authz.Role{authz.RoleAdministrator}}

	result, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal:         principal,
		CardJSON:          validCardJSON("checkout-agent", "someone-else"),
		PublisherOverride: "someone-else",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
}

func TestPublishByURL_FetchesAndPersists(t *testing.T) {
	t.Parallel()
	svc, agents := newTestService(t)
	principal := catalogManager("alice", "tenant-a")

	cardBody := validCardJSON("url-agent", "")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(cardBody)
	}))
	defer server.Close()

	result, err := svc.PublishByURL(context.Background(), ByURLRequest{
		Principal: principal,
		CardURL:   server.URL,
		Public:    true,
	})
	require.NoError(t, err)
	assert.True(t, result.Created)

	record, err := agents.GetByID(context.Background(), result.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "url-agent", record.Name)
}

func TestPublishByValue_QuotaRejectsNewAgentOnceLimitReached(t *testing.T) {
	t.Parallel()
	svc, _ := newTestServiceWithQuota(t, 1)
	principal := catalogManager("alice", "tenant-a")

	first, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal, CardJSON: validCardJSON("agent-one", ""), Public: true,
	})
	require.NoError(t, err)
	assert.True(t, first.Created)

	_, err = svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal, CardJSON: validCardJSON("agent-two", ""), Public: true,
	})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrRateLimited))
}

func TestPublishByValue_QuotaAllowsRepublishOfExistingAgent(t *testing.T) {
	t.Parallel()
	svc, _ := newTestServiceWithQuota(t, 1)
	principal := catalogManager("alice", "tenant-a")

	first, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal, CardJSON: validCardJSON("agent-one", ""), Public: true,
	})
	require.NoError(t, err)
	assert.True(t, first.Created)

	// Republishing the same agent name must not count against the quota,
	// even once the publisher has already reached its limit.
	second, err := svc.PublishByValue(context.Background(), ByValueRequest{
		Principal: principal, CardJSON: validCardJSON("agent-one", ""), Public: true,
	})
	require.NoError(t, err)
	assert.False(t, second.Created)
}
