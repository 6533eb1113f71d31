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
	"github.com/a2aregistry/registry/internal/federation"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/types"
)

// FederationHandlers serves the Administrator-only peer registry CRUD,
// the sync trigger, and the sync-history list supplemented from
// original_source/app/api (§8 of SPEC_FULL.md).
type FederationHandlers struct {
	peers   *store.PeerStore
	manager *federation.Manager
	logger  *zap.Logger
}

// NewFederationHandlers builds the peer-admin handlers.
func NewFederationHandlers(peers *store.PeerStore, manager *federation.Manager, logger *zap.Logger) *FederationHandlers {
	return &FederationHandlers{peers: peers, manager: manager, logger: logger}
}

func requireAdministrator(r *http.Request) (authz.Principal, error) {
	principal, ok := principalFrom(r)
	if !ok {
		return authz.Principal{}, types.NewError(types.ErrUnauthenticated, "bearer token required")
	}
	if !principal.HasRole(authz.RoleAdministrator) {
		return authz.Principal{}, types.NewError(types.ErrForbidden, "this operation requires the Administrator role")
	}
	return principal, nil
}

// peerDTO is the wire shape for a peer registry; AuthToken is never
// echoed back once set.
type peerDTO struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	BaseURL      string     `json:"baseUrl"`
	SyncInterval string     `json:"syncInterval"`
	LastSyncAt   *time.Time `json:"lastSyncAt,omitempty"`
	Status       string     `json:"status"`
	LastError    *string    `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func peerToDTO(p *store.PeerRegistry) peerDTO {
	return peerDTO{
		ID:           p.ID,
		Name:         p.Name,
		BaseURL:      p.BaseURL,
		SyncInterval: p.SyncInterval.String(),
		LastSyncAt:   p.LastSyncAt,
		Status:       string(p.Status),
		LastError:    p.LastError,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// createPeerRequest is POST /peers' body.
type createPeerRequest struct {
	Name         string `json:"name"`
	BaseURL      string `json:"baseUrl"`
	AuthToken    string `json:"authToken"`
	SyncInterval string `json:"syncInterval"`
}

// HandleListPeers serves GET /peers.
func (h *FederationHandlers) HandleListPeers(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	peers, err := h.peers.ListPeers(r.Context())
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	dtos := make([]peerDTO, 0, len(peers))
	for i := range peers {
		dtos = append(dtos, peerToDTO(&peers[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": dtos})
}

// HandleCreatePeer serves POST /peers.
func (h *FederationHandlers) HandleCreatePeer(w http.ResponseWriter, r *http.Request) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}

	var req createPeerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, types.NewError(types.ErrValidation, "invalid JSON body").WithCause(err), h.logger)
		return
	}
	if req.Name == "" || req.BaseURL == "" {
		writeError(w, r, types.NewError(types.ErrValidation, "name and baseUrl are required"), h.logger)
		return
	}

	interval := federation.DefaultConfig().PollInterval
	if req.SyncInterval != "" {
		parsed, err := time.ParseDuration(req.SyncInterval)
		if err != nil {
			writeError(w, r, types.NewError(types.ErrValidation, "syncInterval must be a duration string like \"30s\"").WithCause(err), h.logger)
			return
		}
		interval = parsed
	}

	peer := &store.PeerRegistry{
		Name:         req.Name,
		BaseURL:      req.BaseURL,
		AuthToken:    req.AuthToken,
		SyncInterval: interval,
	}
	if err := h.peers.CreatePeer(r.Context(), peer); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusCreated, peerToDTO(peer))
}

// HandleGetPeer serves GET /peers/{id}.
func (h *FederationHandlers) HandleGetPeer(w http.ResponseWriter, r *http.Request, peerID string) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	peer, err := h.peers.GetPeer(r.Context(), peerID)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, peerToDTO(peer))
}

// HandleDeletePeer serves DELETE /peers/{id}: disables scheduling first
// (cancelling any in-flight sync) so the row removal can't race a
// concurrent pull against it.
func (h *FederationHandlers) HandleDeletePeer(w http.ResponseWriter, r *http.Request, peerID string) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if err := h.manager.Disable(r.Context(), peerID); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if err := h.peers.DeletePeer(r.Context(), peerID); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

// HandleTriggerSync serves POST /peers/{id}/sync: enqueues an immediate
// pull and returns without waiting for it to finish.
func (h *FederationHandlers) HandleTriggerSync(w http.ResponseWriter, r *http.Request, peerID string) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	if _, err := h.peers.GetPeer(r.Context(), peerID); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	h.manager.Trigger(peerID)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "sync triggered"})
}

// HandleListSyncs serves GET /peers/{id}/syncs (supplemented, §8 of
// SPEC_FULL.md).
func (h *FederationHandlers) HandleListSyncs(w http.ResponseWriter, r *http.Request, peerID string) {
	if _, err := requireAdministrator(r); err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("top"))
	runs, err := h.peers.ListSyncRuns(r.Context(), peerID, limit)
	if err != nil {
		writeError(w, r, err, h.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": runs})
}
