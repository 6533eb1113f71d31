// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/pkg/a2acard"
)

// BuildInfo carries the version metadata baked in at link time via
// -ldflags, matching the teacher's cmd/agentflow version handler.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// HealthHandlers serves /health, /health/ready, /health/live, and the
// registry's own /.well-known/agent.json.
type HealthHandlers struct {
	pool  *store.Pool
	build BuildInfo
	card  a2acard.Card
}

// NewHealthHandlers builds the health surface. registryBaseURL becomes
// both the card's url and provider.url.
func NewHealthHandlers(pool *store.Pool, build BuildInfo, registryBaseURL string) *HealthHandlers {
	return &HealthHandlers{
		pool:  pool,
		build: build,
		card:  registryOwnCard(registryBaseURL, build),
	}
}

func registryOwnCard(baseURL string, build BuildInfo) a2acard.Card {
	return a2acard.Card{
		Name:        "a2a-registry",
		Description: "Centralized agent registry and discovery service for the A2A ecosystem.",
		URL:         baseURL,
		Version:     build.Version,
		Capabilities: a2acard.Capabilities{
			Streaming: false,
		},
		SecuritySchemes: []a2acard.SecurityScheme{
			{Type: a2acard.SecuritySchemeJWT},
		},
		Skills: []a2acard.Skill{
			{
				ID:          "discover-agents",
				Name:        "Discover agents",
				Description: "List, search, and fetch cards for registered agents.",
			},
		},
		Interface: a2acard.Interface{
			PreferredTransport: a2acard.TransportHTTP,
			DefaultInputModes:  []string{"application/json"},
			DefaultOutputModes: []string{"application/json"},
		},
		Provider: &a2acard.Provider{
			Organization: "A2A Registry",
			URL:          baseURL,
		},
	}
}

// HandleHealth answers a bare liveness probe: the process is up and
// serving.
func (h *HealthHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLive is an alias of HandleHealth kept distinct at the routing
// layer so the two probes can diverge later without a breaking path
// change.
func (h *HealthHandlers) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady additionally checks the database is reachable — a
// registry that cannot read the store is not ready to serve discovery
// traffic even though its process is alive.
func (h *HealthHandlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.pool.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleAgentCard serves the registry's own advertised card.
func (h *HealthHandlers) HandleAgentCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.card)
}
