// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package discovery answers the registry's read surface: list-public,
// list-entitled, get-by-id, get-card, search, and the two well-known
// endpoints. Every operation applies the visibility rule (invariant 6 of
// the data model) before a record or card ever reaches a caller, and
// wraps its result behind the Cache Layer so read-heavy traffic doesn't
// repeatedly hit the store or the search index.
package discovery

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/cache"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/pkg/a2acard"
	"github.com/a2aregistry/registry/types"
)

// AgentView is the read-model discovery hands back: an Agent Record's
// head pointer joined with the requested version's card.
type AgentView struct {
	AgentID       string        `json:"agentId"`
	TenantID      string        `json:"tenantId"`
	PublisherID   string        `json:"publisherId"`
	Name          string        `json:"name"`
	Version       string        `json:"version"`
	ContentHash   string        `json:"contentHash"`
	Public        bool          `json:"public"`
	FederatedFrom *string       `json:"federatedFrom,omitempty"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
	Card          *a2acard.Card `json:"card"`
}

// Page is one page of agent views, plus the total number of matching
// records across all pages.
type Page struct {
	Items []AgentView `json:"items"`
	Total int         `json:"total"`
}

// SearchFilters narrows a search call, mirroring POST /agents/search's
// filters object (§6).
type SearchFilters struct {
	Tags       []string
	Publisher  string
	Transport  string
	Security   []string
	PublicOnly *bool
}

// SearchPage is one page of search results.
type SearchPage struct {
	Items []AgentView `json:"items"`
	Total int         `json:"total"`
}

// Service implements the discovery surface (C6) over the Agent Store,
// Entitlement Store, Search Indexer, and Cache Layer.
type Service struct {
	agents       *store.AgentStore
	entitlements *store.EntitlementStore
	searchSvc    *search.Service
	cache        *cache.Manager
	registryBase string
	logger       *zap.Logger
}

// New builds a discovery Service. cacheMgr may be nil, in which case
// every call goes straight to the store/index (used in tests and
// deployments with caching disabled). registryBase is this instance's
// own advertised URL, used to build the well_known_index header.
func New(agents *store.AgentStore, entitlements *store.EntitlementStore, searchSvc *search.Service, cacheMgr *cache.Manager, registryBase string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		agents:       agents,
		entitlements: entitlements,
		searchSvc:    searchSvc,
		cache:        cacheMgr,
		registryBase: registryBase,
		logger:       logger.With(zap.String("component", "discovery")),
	}
}

// ListPublic returns one page of public agents across every tenant. It
// may be called unauthenticated.
func (s *Service) ListPublic(ctx context.Context, skip, top int) (Page, error) {
	top = store.ClampLimit(top)
	key := cache.Key(cache.EndpointListPublic, "", "", struct{ Skip, Top int }{skip, top})
	if page, ok := s.readCache(ctx, key); ok {
		return page, nil
	}

	records, total, err := s.agents.ListPublicOffset(ctx, skip, top)
	if err != nil {
		return Page{}, err
	}
	items, err := s.toViews(ctx, records)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items, Total: total}
	s.writeCache(ctx, key, cache.EndpointListPublic, page)
	return page, nil
}

// ListEntitled returns one page of agents visible to principal within
// its own tenant: the union of public-in-tenant and entitled agents.
func (s *Service) ListEntitled(ctx context.Context, principal authz.Principal, skip, top int) (Page, error) {
	top = store.ClampLimit(top)
	key := cache.Key(cache.EndpointListEntitled, principal.TenantID, principal.ID, struct{ Skip, Top int }{skip, top})
	if page, ok := s.readCache(ctx, key); ok {
		return page, nil
	}

	filter := store.ListFilter{EntitledBy: principal.VisibilitySubjects()}
	records, total, err := s.agents.ListForTenantOffset(ctx, principal.TenantID, skip, top, filter)
	if err != nil {
		return Page{}, err
	}
	items, err := s.toViews(ctx, records)
	if err != nil {
		return Page{}, err
	}
	page := Page{Items: items, Total: total}
	s.writeCache(ctx, key, cache.EndpointListEntitled, page)
	return page, nil
}

// GetAgent returns the record and its latest card if visible to
// principal (nil for an unauthenticated caller), else NotFound —
// invisibility is never distinguished from absence on the wire.
func (s *Service) GetAgent(ctx context.Context, agentID string, principal *authz.Principal, version string) (AgentView, error) {
	record, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return AgentView{}, err
	}
	ok, err := s.isVisible(ctx, record, principal)
	if err != nil {
		return AgentView{}, err
	}
	if !ok {
		return AgentView{}, types.NewError(types.ErrNotFound, "agent not found")
	}
	return s.viewOf(ctx, record, version)
}

// GetCard returns just the canonical card for agentID, subject to the
// same visibility rule as GetAgent.
func (s *Service) GetCard(ctx context.Context, agentID string, principal *authz.Principal, version string) (*a2acard.Card, error) {
	view, err := s.GetAgent(ctx, agentID, principal, version)
	if err != nil {
		return nil, err
	}
	return view.Card, nil
}

// Search runs a filtered full-text query, restricting results to what
// principal may see. An unauthenticated caller (principal == nil) only
// ever sees public agents, regardless of Filters.PublicOnly.
func (s *Service) Search(ctx context.Context, principal *authz.Principal, text string, filters SearchFilters, skip, top int) (SearchPage, error) {
	top = store.ClampLimit(top)

	q := search.Query{
		Text:   text,
		Offset: skip,
		Size:   top,
		Filter: search.Filter{
			PublisherID: filters.Publisher,
			Tags:        filters.Tags,
			Transport:   filters.Transport,
			Security:    filters.Security,
		},
	}
	if principal == nil {
		q.Filter.PublicOnly = true
	} else {
		q.Filter.TenantID = principal.TenantID
		if filters.PublicOnly != nil && *filters.PublicOnly {
			q.Filter.PublicOnly = true
		} else {
			q.Filter.VisibleAgentIDs = nil // unrestricted in the index; each hit is checked with isVisible below
		}
	}

	result, err := s.searchSvc.Search(ctx, q)
	if err != nil {
		return SearchPage{}, types.NewError(types.ErrOverloaded, "search is temporarily unavailable").WithCause(err)
	}

	items := make([]AgentView, 0, len(result.Hits))
	for _, hit := range result.Hits {
		record, err := s.agents.GetByID(ctx, hit.AgentID)
		if err != nil {
			continue // vanished between index and store read; skip rather than fail the whole page
		}
		visible, err := s.isVisible(ctx, record, principal)
		if err != nil || !visible {
			continue
		}
		view, err := s.viewOf(ctx, record, "")
		if err != nil {
			continue
		}
		items = append(items, view)
	}
	return SearchPage{Items: items, Total: result.Total}, nil
}

// WellKnownIndexHeader is the stable registry metadata that accompanies
// the well-known paginated index.
type WellKnownIndexHeader struct {
	RegistryURL string `json:"registryUrl"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// WellKnownIndex returns the public agent index plus registry metadata.
// It is cached globally (not per-tenant, since it is public-only).
func (s *Service) WellKnownIndex(ctx context.Context, skip, top int, now time.Time) (WellKnownIndexHeader, Page, error) {
	page, err := s.ListPublic(ctx, skip, top)
	if err != nil {
		return WellKnownIndexHeader{}, Page{}, err
	}
	return WellKnownIndexHeader{RegistryURL: s.registryBase, GeneratedAt: now}, page, nil
}

// WellKnownCard returns a public agent's card, or NotFound for anything
// not public — including agents that exist but are private, which must
// not be distinguishable from nonexistent ones on this unauthenticated
// surface.
func (s *Service) WellKnownCard(ctx context.Context, agentID string) (*a2acard.Card, error) {
	record, err := s.agents.GetByID(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !record.Public {
		return nil, types.NewError(types.ErrNotFound, "agent not found")
	}
	view, err := s.viewOf(ctx, record, "")
	if err != nil {
		return nil, err
	}
	return view.Card, nil
}

// InvalidateTenant clears every cached discovery response for tenant,
// called by the publish service and federation manager after a write
// that could change what a subsequent read observes (§4.8).
func (s *Service) InvalidateTenant(ctx context.Context, tenantID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTenant(ctx, tenantID); err != nil {
		s.logger.Warn("cache invalidation failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}

func (s *Service) isVisible(ctx context.Context, record *store.AgentRecord, principal *authz.Principal) (bool, error) {
	if record.Public {
		return true, nil
	}
	if principal == nil {
		return false, nil
	}
	if principal.TenantID != record.TenantID {
		return false, nil
	}
	return s.entitlements.IsEntitled(ctx, record.TenantID, record.ID, principal.VisibilitySubjects())
}

func (s *Service) viewOf(ctx context.Context, record *store.AgentRecord, version string) (AgentView, error) {
	var (
		v   *store.AgentVersion
		err error
	)
	if version != "" {
		v, err = s.agents.GetVersionByNumber(ctx, record.ID, version)
	} else {
		v, err = s.agents.GetLatest(ctx, record.ID)
	}
	if err != nil {
		return AgentView{}, err
	}

	var c a2acard.Card
	if err := json.Unmarshal(v.CardJSON, &c); err != nil {
		return AgentView{}, types.NewError(types.ErrInternal, "stored card is not valid json").WithCause(err)
	}

	return AgentView{
		AgentID:       record.ID,
		TenantID:      record.TenantID,
		PublisherID:   record.PublisherID,
		Name:          record.Name,
		Version:       v.Version,
		ContentHash:   v.ContentHash,
		Public:        record.Public,
		FederatedFrom: record.FederatedFrom,
		CreatedAt:     record.CreatedAt,
		UpdatedAt:     record.UpdatedAt,
		Card:          &c,
	}, nil
}

func (s *Service) toViews(ctx context.Context, records []store.AgentRecord) ([]AgentView, error) {
	views := make([]AgentView, 0, len(records))
	for i := range records {
		view, err := s.viewOf(ctx, &records[i], "")
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) readCache(ctx context.Context, key string) (Page, bool) {
	if s.cache == nil {
		return Page{}, false
	}
	var page Page
	if err := s.cache.GetJSON(ctx, key, &page); err != nil {
		return Page{}, false
	}
	return page, true
}

func (s *Service) writeCache(ctx context.Context, key string, endpoint cache.Endpoint, page Page) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJSON(ctx, key, endpoint, page, 0); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
