// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package integration drives the registry's HTTP surface and its
// federation/backpressure paths end to end, against in-memory sqlite and
// bleve fixtures, one test per scenario named in the discovery/publish/
// federation contract.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/federation"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/httpapi"
	"github.com/a2aregistry/registry/internal/publish"
	"github.com/a2aregistry/registry/internal/ratelimit"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
)

const integrationSecret = "integration-test-secret"

type harness struct {
	router  http.Handler
	agents  *store.AgentStore
	peers   *store.PeerStore
	fed     *federation.Manager
	entitle *store.EntitlementStore
}

func newHarness(t *testing.T) *harness {
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
	peers := store.NewPeerStore(pool, zaptest.NewLogger(t))

	idx, err := search.NewBleveIndex("")
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	repairLog := store.NewRepairLogStore(pool, zaptest.NewLogger(t))
	searchSvc := search.New(search.DefaultConfig(), idx, repairLog, zaptest.NewLogger(t))
	t.Cleanup(func() { searchSvc.Close() })

	discoverySvc := discovery.New(agents, entitlements, searchSvc, nil, "https://registry.example.com", zaptest.NewLogger(t))
	fetcher := fetch.New(fetch.DefaultConfig(), zaptest.NewLogger(t))

	verifierCfg := authz.DefaultJWTVerifierConfig()
	gate := authz.NewGate(authz.NewHMACVerifier(verifierCfg, []byte(integrationSecret)), zaptest.NewLogger(t))
	publishSvc := publish.New(agents, fetcher, searchSvc, discoverySvc, gate, 0, zaptest.NewLogger(t))

	fed := federation.New(peers, agents, fetcher, searchSvc, discoverySvc, federation.DefaultConfig(), zaptest.NewLogger(t))

	router := httpapi.NewRouter(httpapi.Deps{
		Gate:        gate,
		Limiter:     ratelimit.NewMemoryLimiter(ratelimit.DefaultBudgets()),
		Discovery:   discoverySvc,
		Publish:     publishSvc,
		Peers:       peers,
		Federation:  fed,
		Pool:        pool,
		Build:       httpapi.BuildInfo{Version: "test"},
		RegistryURL: "https://registry.example.com",
		Logger:      zaptest.NewLogger(t),
	})

	return &harness{router: router, agents: agents, peers: peers, fed: fed, entitle: entitlements}
}

func token(t *testing.T, sub, tenant string, roles ...string) string {
	t.Helper()
	rawRoles := make([]any, 0, len(roles))
	for _, r := range roles {
		rawRoles = append(rawRoles, r)
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub, "tenant_id": tenant, "roles": rawRoles,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(integrationSecret))
	require.NoError(t, err)
	return signed
}

func cardBody(name, version string) []byte {
	body, _ := json.Marshal(map[string]any{
		"card": map[string]any{
			"name":        name,
			"description": "an integration test agent",
			"url":         "https://agents.example.com/" + name,
			"version":     version,
			"securitySchemes": []map[string]any{{"type": "jwt"}},
			"skills":      []map[string]any{{"id": "do-thing", "name": "Do Thing", "tags": []string{"recipe"}}},
			"interface": map[string]any{
				"preferredTransport": "jsonrpc",
				"defaultInputModes":  []string{"text"},
				"defaultOutputModes": []string{"text"},
			},
		},
		"public": true,
	})
	return body
}

func doJSON(t *testing.T, router http.Handler, method, path, bearer string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

// S1: publish and discover.
func TestS1_PublishAndDiscover(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "alice", "tenant-a", "CatalogManager")

	rec := doJSON(t, h.router, http.MethodPost, "/agents/publish", tok, cardBody("recipe-agent", "1.0.0"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var published struct {
		AgentID string `json:"agentId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &published))
	require.NotEmpty(t, published.AgentID)

	listRec := doJSON(t, h.router, http.MethodGet, "/agents/public", "", nil)
	require.Equal(t, http.StatusOK, listRec.Code)
	var page struct {
		Items []struct {
			AgentID string `json:"agentId"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, published.AgentID, page.Items[0].AgentID)

	wellKnownRec := doJSON(t, h.router, http.MethodGet, "/.well-known/agents/index.json", "", nil)
	require.Equal(t, http.StatusOK, wellKnownRec.Code)
	assert.Contains(t, wellKnownRec.Body.String(), published.AgentID)

	require.Eventually(t, func() bool {
		searchRec := doJSON(t, h.router, http.MethodPost, "/agents/search", "", []byte(`{"q":"recipe"}`))
		if searchRec.Code != http.StatusOK {
			return false
		}
		var results struct {
			Items []struct {
				AgentID string `json:"agentId"`
			} `json:"items"`
		}
		_ = json.Unmarshal(searchRec.Body.Bytes(), &results)
		return len(results.Items) == 1 && results.Items[0].AgentID == published.AgentID
	}, 2*time.Second, 10*time.Millisecond, "published agent should become searchable once the index worker drains it")

	cardRec := doJSON(t, h.router, http.MethodGet, "/agents/"+published.AgentID+"/card", "", nil)
	require.Equal(t, http.StatusOK, cardRec.Code)

	stored, err := h.agents.GetLatest(context.Background(), published.AgentID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.ContentHash)
}

// S2: idempotent republish.
func TestS2_IdempotentRepublish(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "alice", "tenant-a", "CatalogManager")
	body := cardBody("recipe-agent", "1.0.0")

	first := doJSON(t, h.router, http.MethodPost, "/agents/publish", tok, body)
	require.Equal(t, http.StatusCreated, first.Code)

	before := doJSON(t, h.router, http.MethodGet, "/agents/entitled", tok, nil)
	require.Equal(t, http.StatusOK, before.Code)

	second := doJSON(t, h.router, http.MethodPost, "/agents/publish", tok, body)
	require.Equal(t, http.StatusOK, second.Code, "an idempotent republish must not report 201 Created")
	var result struct {
		Created bool `json:"created"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &result))
	assert.False(t, result.Created)

	after := doJSON(t, h.router, http.MethodGet, "/agents/entitled", tok, nil)
	require.Equal(t, http.StatusOK, after.Code)
	assert.JSONEq(t, before.Body.String(), after.Body.String())
}

// S3: cross-tenant privacy.
func TestS3_CrossTenantPrivacy(t *testing.T) {
	h := newHarness(t)
	publisherTok := token(t, "alice", "tenant-a", "CatalogManager")

	body, _ := json.Marshal(map[string]any{
		"card": map[string]any{
			"name": "private-agent", "description": "private", "url": "https://agents.example.com/private-agent",
			"version": "1.0.0",
			"securitySchemes": []map[string]any{{"type": "jwt"}},
			"skills":  []map[string]any{{"id": "do-thing", "name": "Do Thing", "tags": []string{"test"}}},
			"interface": map[string]any{
				"preferredTransport": "jsonrpc", "defaultInputModes": []string{"text"}, "defaultOutputModes": []string{"text"},
			},
		},
		"public": false,
	})
	pubRec := doJSON(t, h.router, http.MethodPost, "/agents/publish", publisherTok, body)
	require.Equal(t, http.StatusCreated, pubRec.Code)
	var published struct {
		AgentID string `json:"agentId"`
	}
	require.NoError(t, json.Unmarshal(pubRec.Body.Bytes(), &published))

	otherTenantTok := token(t, "bob", "tenant-b", "User")
	rec := doJSON(t, h.router, http.MethodGet, "/agents/"+published.AgentID, otherTenantTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	sameTenantTok := token(t, "carol", "tenant-a", "User")
	rec = doJSON(t, h.router, http.MethodGet, "/agents/"+published.AgentID, sameTenantTok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "same tenant without an entitlement must still 404")

	_, err := h.entitle.Grant(context.Background(), "tenant-a", "principal:carol", published.AgentID)
	require.NoError(t, err)

	rec = doJSON(t, h.router, http.MethodGet, "/agents/"+published.AgentID, sameTenantTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

// S4: versioning.
func TestS4_Versioning(t *testing.T) {
	h := newHarness(t)
	tok := token(t, "alice", "tenant-a", "CatalogManager")

	first := doJSON(t, h.router, http.MethodPost, "/agents/publish", tok, cardBody("x", "1.0.0"))
	require.Equal(t, http.StatusCreated, first.Code)
	var v1 struct {
		AgentID string `json:"agentId"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &v1))

	second := doJSON(t, h.router, http.MethodPost, "/agents/publish", tok, cardBody("x", "1.1.0"))
	require.Equal(t, http.StatusCreated, second.Code)
	var v2 struct {
		AgentID string `json:"agentId"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &v2))
	assert.Equal(t, v1.AgentID, v2.AgentID, "publishing a new version of the same name must reuse the agent id")

	latest, err := h.agents.GetLatest(context.Background(), v1.AgentID)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", latest.Version)

	oldVersion, err := h.agents.GetVersionByNumber(context.Background(), v1.AgentID, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", oldVersion.Version)

	require.Eventually(t, func() bool {
		rec := doJSON(t, h.router, http.MethodPost, "/agents/search", "", []byte(`{"q":"x"}`))
		var results struct {
			Items []struct {
				AgentID string `json:"agentId"`
			} `json:"items"`
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &results)
		return len(results.Items) == 1
	}, 2*time.Second, 10*time.Millisecond, "the two versions of the same agent must collapse to one search result")
}

// S5: federation pull.
func TestS5_FederationPull(t *testing.T) {
	h := newHarness(t)

	cardA := map[string]any{
		"name": "agent-a", "description": "peer agent a", "url": "https://peer.example.com/agent-a", "version": "1.0.0",
		"securitySchemes": []map[string]any{{"type": "jwt"}},
		"skills": []map[string]any{{"id": "do-thing", "name": "Do Thing", "tags": []string{"test"}}},
		"interface": map[string]any{
			"preferredTransport": "jsonrpc", "defaultInputModes": []string{"text"}, "defaultOutputModes": []string{"text"},
		},
	}
	cardB := map[string]any{
		"name": "agent-b", "description": "peer agent b", "url": "https://peer.example.com/agent-b", "version": "1.0.0",
		"securitySchemes": []map[string]any{{"type": "jwt"}},
		"skills": []map[string]any{{"id": "do-thing", "name": "Do Thing", "tags": []string{"test"}}},
		"interface": map[string]any{
			"preferredTransport": "jsonrpc", "defaultInputModes": []string{"text"}, "defaultOutputModes": []string{"text"},
		},
	}
	items := []map[string]any{
		{"agentId": "remote-a", "publisherId": "pub-1", "name": "agent-a", "contentHash": "hash-a", "card": cardA},
		{"agentId": "remote-b", "publisherId": "pub-1", "name": "agent-b", "contentHash": "hash-b", "card": cardB},
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"registryUrl": "https://peer.example.com", "generatedAt": time.Now(), "items": items, "total": len(items),
		})
	}))
	defer server.Close()

	peer := &store.PeerRegistry{Name: "partner", BaseURL: server.URL, SyncInterval: time.Minute}
	require.NoError(t, h.peers.CreatePeer(context.Background(), peer))

	h.fed.Trigger(peer.ID)
	require.Eventually(t, func() bool {
		runs, err := h.peers.ListSyncRuns(context.Background(), peer.ID, 10)
		return err == nil && len(runs) == 1 && runs[0].Outcome == store.SyncOutcomeOK
	}, 3*time.Second, 20*time.Millisecond)

	publisher, err := h.agents.GetOrCreatePublisher(context.Background(), federation.SystemTenantID, store.PublisherFederatedNamespace+peer.Name)
	require.NoError(t, err)
	local, err := h.agents.ListFederatedForPeer(context.Background(), federation.SystemTenantID, publisher.ID)
	require.NoError(t, err)
	require.Len(t, local, 2)

	items = items[:1] // agent-b no longer advertised
	h.fed.Trigger(peer.ID)
	require.Eventually(t, func() bool {
		runs, err := h.peers.ListSyncRuns(context.Background(), peer.ID, 10)
		return err == nil && len(runs) == 2
	}, 3*time.Second, 20*time.Millisecond)

	local, err = h.agents.ListFederatedForPeer(context.Background(), federation.SystemTenantID, publisher.ID)
	require.NoError(t, err)
	require.Len(t, local, 1)
	assert.Equal(t, "agent-a", local[0].Name)

	runs, err := h.peers.ListSyncRuns(context.Background(), peer.ID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, 1, runs[0].Removed, "the second sync run should report the one retraction")
}

// blockingIndexer never returns from Index until release is closed,
// letting a test saturate the search queue deterministically.
type blockingIndexer struct {
	release chan struct{}
}

func (b *blockingIndexer) Index(ctx context.Context, doc search.Document) error {
	<-b.release
	return nil
}
func (b *blockingIndexer) Delete(ctx context.Context, agentID string) error { return nil }
func (b *blockingIndexer) Search(ctx context.Context, q search.Query) (search.Result, error) {
	return search.Result{}, nil
}
func (b *blockingIndexer) Close() error { return nil }

// S6: backpressure. A publish that cannot enqueue its indexing job within
// the configured timeout is rolled back rather than left half-committed.
func TestS6_Backpressure(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.AutoMigrate(db))
	poolCfg := store.DefaultPoolConfig()
	poolCfg.MaxOpenConns = 1
	poolCfg.MaxIdleConns = 1
	pool, err := store.NewPool(db, poolCfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	agents := store.NewAgentStore(pool, zaptest.NewLogger(t))
	entitlements := store.NewEntitlementStore(pool, zaptest.NewLogger(t))
	repairLog := store.NewRepairLogStore(pool, zaptest.NewLogger(t))

	blocking := &blockingIndexer{release: make(chan struct{})}
	defer close(blocking.release)

	searchCfg := search.DefaultConfig()
	searchCfg.Workers = 1
	searchCfg.QueueSize = 0
	searchCfg.EnqueueTimeout = 50 * time.Millisecond
	searchSvc := search.New(searchCfg, blocking, repairLog, zaptest.NewLogger(t))
	t.Cleanup(func() { searchSvc.Close() })

	discoverySvc := discovery.New(agents, entitlements, searchSvc, nil, "https://registry.example.com", zaptest.NewLogger(t))
	fetcher := fetch.New(fetch.DefaultConfig(), zaptest.NewLogger(t))
	gate := authz.NewGate(authz.NewHMACVerifier(authz.DefaultJWTVerifierConfig(), []byte(integrationSecret)), zaptest.NewLogger(t))
	publishSvc := publish.New(agents, fetcher, searchSvc, discoverySvc, gate, 0, zaptest.NewLogger(t))

	principal := authz.Principal{ID: "alice", TenantID: "tenant-a", Roles: []authz.Role{authz.RoleCatalogManager}}

	// Saturate the single shard: one occupies the blocked worker, one
	// fills the queue slot, so a third publish exceeds EnqueueTimeout.
	_, err = publishSvc.PublishByValue(context.Background(), publish.ByValueRequest{
		Principal: principal, CardJSON: mustCardJSON("saturate-1", "1.0.0"), Public: true,
	})
	require.NoError(t, err)
	_, err = publishSvc.PublishByValue(context.Background(), publish.ByValueRequest{
		Principal: principal, CardJSON: mustCardJSON("saturate-2", "1.0.0"), Public: true,
	})
	require.NoError(t, err)

	result, err := publishSvc.PublishByValue(context.Background(), publish.ByValueRequest{
		Principal: principal, CardJSON: mustCardJSON("saturate-3", "1.0.0"), Public: true,
	})
	require.Error(t, err, "the third publish should find the queue saturated")
	assert.Empty(t, result.AgentID)

	records, _, err := agents.ListForTenantOffset(context.Background(), "tenant-a", 0, 50, store.ListFilter{})
	require.NoError(t, err)
	for _, rec := range records {
		assert.NotEqual(t, "saturate-3", rec.Name, "a rolled-back publish must leave no trace in the store")
	}
}

func mustCardJSON(name, version string) []byte {
	raw, err := json.Marshal(map[string]any{
		"name": name, "description": "a test agent", "url": "https://agents.example.com/" + name, "version": version,
		"securitySchemes": []map[string]any{{"type": "jwt"}},
		"skills": []map[string]any{{"id": "do-thing", "name": "Do Thing", "tags": []string{"test"}}},
		"interface": map[string]any{
			"preferredTransport": "jsonrpc", "defaultInputModes": []string{"text"}, "defaultOutputModes": []string{"text"},
		},
	})
	if err != nil {
		panic(err)
	}
	return raw
}
