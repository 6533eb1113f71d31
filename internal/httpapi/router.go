// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/federation"
	"github.com/a2aregistry/registry/internal/metrics"
	"github.com/a2aregistry/registry/internal/publish"
	"github.com/a2aregistry/registry/internal/ratelimit"
	"github.com/a2aregistry/registry/internal/store"
)

// Deps wires every collaborator the router needs. Federation is a
// pointer because it is nil in deployments started with
// ENABLE_FEDERATION=false — the /peers routes are then not registered at
// all, so they answer 404 rather than panicking.
type Deps struct {
	Gate        *authz.Gate
	Limiter     ratelimit.Limiter
	Discovery   *discovery.Service
	Publish     *publish.Service
	Peers       *store.PeerStore
	Federation  *federation.Manager
	Pool        *store.Pool
	Build       BuildInfo
	RegistryURL string
	Logger      *zap.Logger
	// Metrics is nil when the deployment disabled Prometheus export;
	// every collaborator that touches it (Metrics middleware, /metrics
	// route) degrades to a no-op rather than requiring a conditional.
	Metrics *metrics.Collector
}

// NewRouter builds the registry's full HTTP handler: every route in §6's
// table, each wrapped in its own AuthZ -> RateLimit -> Handler chain
// (§9's design note), behind shared Recovery/RequestID/SecurityHeaders/
// RequestLogger outer middleware. It uses net/http.ServeMux in the
// teacher's own style — no third-party router.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	health := NewHealthHandlers(d.Pool, d.Build, d.RegistryURL)
	disco := NewDiscoveryHandlers(d.Discovery, d.Logger)
	pub := NewPublishHandlers(d.Publish, d.Logger)
	stats := NewStatsHandlers(d.Pool, d.Logger)

	mux.HandleFunc("/health", health.HandleHealth)
	mux.HandleFunc("/health/ready", health.HandleReady)
	mux.HandleFunc("/health/live", health.HandleLive)
	mux.HandleFunc("/stats", stats.HandleStats)
	if d.Metrics != nil {
		mux.Handle("/metrics", promhttp.Handler())
	}

	mux.Handle("/.well-known/agents/index.json",
		d.withAuthN("well_known_index", ratelimit.ClassPublicRead, disco.HandleWellKnownIndex))
	mux.HandleFunc("/.well-known/agent.json", health.HandleAgentCard)

	mux.Handle("/agents/public",
		d.withAuthN("list_public", ratelimit.ClassPublicRead, disco.HandleListPublic))
	mux.Handle("/agents/entitled",
		d.withAuthN("list_entitled", ratelimit.ClassAuthRead, disco.HandleListEntitled))
	mux.Handle("/agents/search",
		d.withAuthN("search", ratelimit.ClassAuthRead, disco.HandleSearch))
	mux.Handle("/agents/publish",
		d.withAuthN("publish", ratelimit.ClassWrite, pub.HandlePublish))

	// /agents/{id} and /agents/{id}/card need the id segment pulled out by
	// hand — the mux is registered with literal prefix patterns only, so
	// one prefix handler parses the rest of the path itself.
	mux.Handle("/agents/", d.agentsSubrouter(disco))

	if d.Federation != nil {
		fed := NewFederationHandlers(d.Peers, d.Federation, d.Logger)
		mux.Handle("/peers", d.withAuthN("peer_admin", ratelimit.ClassSyncAdmin, peerCollectionHandler(fed)))
		mux.Handle("/peers/", d.withAuthN("peer_admin", ratelimit.ClassSyncAdmin, peerItemHandler(fed)))
	}

	return Chain(mux,
		Recovery(d.Logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(d.Logger),
		Metrics(d.Metrics),
	)
}

// withAuthN wraps handlerFunc in the per-route AuthN -> RateLimit chain,
// matching §9's "AuthZ -> RateLimit -> Handler -> CacheWrap" ordering
// (the Cache Layer wrap happens inside internal/discovery itself, ahead
// of the store/index, not as HTTP middleware).
func (d Deps) withAuthN(operation string, class ratelimit.Class, handlerFunc http.HandlerFunc) http.Handler {
	return Chain(handlerFunc,
		AuthN(d.Gate, operation, d.Logger),
		RateLimit(d.Limiter, class, d.Logger),
	)
}

func peerCollectionHandler(fed *FederationHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fed.HandleListPeers(w, r)
		case http.MethodPost:
			fed.HandleCreatePeer(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func peerItemHandler(fed *FederationHandlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/peers/")
		segments := strings.Split(strings.Trim(rest, "/"), "/")
		peerID := segments[0]
		if peerID == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		switch {
		case len(segments) == 1 && r.Method == http.MethodGet:
			fed.HandleGetPeer(w, r, peerID)
		case len(segments) == 1 && r.Method == http.MethodDelete:
			fed.HandleDeletePeer(w, r, peerID)
		case len(segments) == 2 && segments[1] == "sync" && r.Method == http.MethodPost:
			fed.HandleTriggerSync(w, r, peerID)
		case len(segments) == 2 && segments[1] == "syncs" && r.Method == http.MethodGet:
			fed.HandleListSyncs(w, r, peerID)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

// agentsSubrouter dispatches every /agents/{id}[...] route. Auth and
// rate-limit classes differ per sub-path (bearer-if-non-public for
// record/card reads), so the AuthN middleware always runs with an
// operation name that treats an absent token as "might still be
// visible" — visibility itself is re-checked per-record inside
// internal/discovery.
func (d Deps) agentsSubrouter(disco *DiscoveryHandlers) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/agents/")
		segments := strings.Split(strings.Trim(rest, "/"), "/")
		agentID := segments[0]
		if agentID == "" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}

		switch {
		case len(segments) == 1 && r.Method == http.MethodGet:
			disco.HandleGetAgent(w, r, agentID)
		case len(segments) == 2 && segments[1] == "card" && r.Method == http.MethodGet:
			disco.HandleGetCard(w, r, agentID)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
	return Chain(inner,
		AuthN(d.Gate, "get_agent", d.Logger),
		RateLimit(d.Limiter, ratelimit.ClassAuthRead, d.Logger),
	)
}
