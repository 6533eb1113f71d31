// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/types"
)

// DiscoveryHandlers serves the registry's read surface.
type DiscoveryHandlers struct {
	svc    *discovery.Service
	logger *zap.Logger
}

// NewDiscoveryHandlers builds the read-surface handlers.
func NewDiscoveryHandlers(svc *discovery.Service, logger *zap.Logger) *DiscoveryHandlers {
	return &DiscoveryHandlers{svc: svc, logger: logger}
}

func pageParams(r *http.Request) (skip, top int) {
	skip, _ = strconv.Atoi(r.URL.Query().Get("skip"))
	top, _ = strconv.Atoi(r.URL.Query().Get("top"))
	return
}

// HandleWellKnownIndex serves GET /.well-known/agents/index.json.
func (h *DiscoveryHandlers) HandleWellKnownIndex(w http.ResponseWriter, r *http.Request) {
	skip, top := pageParams(r)
	header, page, err := h.svc.WellKnownIndex(r.Context(), skip, top, time.Now())
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registryUrl": header.RegistryURL,
		"generatedAt": header.GeneratedAt,
		"items":       page.Items,
		"total":       page.Total,
	})
}

// HandleListPublic serves GET /agents/public.
func (h *DiscoveryHandlers) HandleListPublic(w http.ResponseWriter, r *http.Request) {
	skip, top := pageParams(r)
	page, err := h.svc.ListPublic(r.Context(), skip, top)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleListEntitled serves GET /agents/entitled.
func (h *DiscoveryHandlers) HandleListEntitled(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(r)
	if !ok {
		writeError(w, r, types.NewError(types.ErrUnauthenticated, "bearer token required"), h.logger)
		return
	}
	skip, top := pageParams(r)
	page, err := h.svc.ListEntitled(r.Context(), principal, skip, top)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleGetAgent serves GET /agents/{id}, including its §6-supplemented
// ?version= query parameter.
func (h *DiscoveryHandlers) HandleGetAgent(w http.ResponseWriter, r *http.Request, agentID string) {
	principal := optionalPrincipal(r)
	version := r.URL.Query().Get("version")
	view, err := h.svc.GetAgent(r.Context(), agentID, principal, version)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// HandleGetCard serves GET /agents/{id}/card. An unauthenticated caller
// (no bearer token at all) is routed through WellKnownCard — the same
// public-only visibility rule as GetCard(nil), but its own cache
// classification (EndpointWellKnownCard vs EndpointGetCard), since an
// anonymous fetch and an authenticated one of the same public card
// warrant independent TTL budgets.
func (h *DiscoveryHandlers) HandleGetCard(w http.ResponseWriter, r *http.Request, agentID string) {
	principal := optionalPrincipal(r)
	if principal == nil {
		card, err := h.svc.WellKnownCard(r.Context(), agentID)
		if err != nil {
			writeError(w, r, err, h.logger)
			return
		}
		writeJSON(w, http.StatusOK, card)
		return
	}

	version := r.URL.Query().Get("version")
	card, err := h.svc.GetCard(r.Context(), agentID, principal, version)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, card)
}

// searchRequest mirrors POST /agents/search's body (§6).
type searchRequest struct {
	Q       string `json:"q"`
	Filters struct {
		Tags      []string `json:"tags"`
		Publisher string   `json:"publisher"`
		Transport string   `json:"transport"`
		Security  []string `json:"security"`
		Public    *bool    `json:"public"`
	} `json:"filters"`
	Top  int `json:"top"`
	Skip int `json:"skip"`
}

// HandleSearch serves POST /agents/search.
func (h *DiscoveryHandlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, types.NewError(types.ErrValidation, "invalid JSON body").WithCause(err), h.logger)
		return
	}

	principal := optionalPrincipal(r)
	filters := discovery.SearchFilters{
		Tags:       req.Filters.Tags,
		Publisher:  req.Filters.Publisher,
		Transport:  req.Filters.Transport,
		Security:   req.Filters.Security,
		PublicOnly: req.Filters.Public,
	}

	page, err := h.svc.Search(r.Context(), principal, req.Q, filters, req.Skip, req.Top)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	nextSkip := req.Skip + len(page.Items)
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    page.Items,
		"nextSkip": nextSkip,
		"total":    page.Total,
	})
}

func optionalPrincipal(r *http.Request) *authz.Principal {
	p, ok := principalFrom(r)
	if !ok {
		return nil
	}
	return &p
}
