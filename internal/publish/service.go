// Copyright (c) A2A Registry Authors.
// Licensed under the MIT License.

// Package publish implements the Publish Service (C7): the ingestion
// pipeline that turns a submitted or fetched Agent Card into a persisted,
// indexed, discoverable Agent Version. Both entry shapes — by value and
// by URL — converge on the same validate → dedupe/version → persist →
// index → invalidate-cache sequence.
package publish

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/internal/authz"
	"github.com/a2aregistry/registry/internal/card"
	"github.com/a2aregistry/registry/internal/discovery"
	"github.com/a2aregistry/registry/internal/fetch"
	"github.com/a2aregistry/registry/internal/search"
	"github.com/a2aregistry/registry/internal/store"
	"github.com/a2aregistry/registry/pkg/a2acard"
	"github.com/a2aregistry/registry/types"
)

// Result is what a successful publish call returns: the agent and version
// it resolved to, and whether this call actually created a new version
// (false means an idempotent republish of byte-identical content).
type Result struct {
	AgentID   string `json:"agentId"`
	VersionID string `json:"versionId"`
	Created   bool   `json:"created"`
}

// ByValueRequest is the publish_by_value entry shape.
type ByValueRequest struct {
	Principal         authz.Principal
	CardJSON          []byte
	Public            bool
	PublisherOverride string // non-empty only when Principal is Administrator
}

// ByURLRequest is the publish_by_url entry shape: the card is fetched by
// the Publish Service itself rather than supplied directly.
type ByURLRequest struct {
	Principal         authz.Principal
	CardURL           string
	Public            bool
	PublisherOverride string
}

// Service implements the publish pipeline over the Agent Store, Search
// Indexer, Card Fetcher, and AuthZ Gate, invalidating the Discovery
// Service's cache after every state-changing publish.
type Service struct {
	agents                *store.AgentStore
	fetcher               *fetch.Fetcher
	indexer               *search.Service
	discovery             *discovery.Service
	gate                  *authz.Gate
	maxAgentsPerPublisher int
	logger                *zap.Logger
}

// New builds a publish Service. maxAgentsPerPublisher enforces
// MAX_AGENTS_PER_CLIENT (§5): zero disables the quota.
func New(agents *store.AgentStore, fetcher *fetch.Fetcher, indexer *search.Service, discoverySvc *discovery.Service, gate *authz.Gate, maxAgentsPerPublisher int, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		agents:                agents,
		fetcher:               fetcher,
		indexer:               indexer,
		discovery:             discoverySvc,
		gate:                  gate,
		maxAgentsPerPublisher: maxAgentsPerPublisher,
		logger:                logger.With(zap.String("component", "publish")),
	}
}

// PublishByValue validates and persists a card supplied directly in the
// request body.
func (s *Service) PublishByValue(ctx context.Context, req ByValueRequest) (Result, error) {
	if err := s.gate.RequirePublish(req.Principal, req.PublisherOverride != ""); err != nil {
		return Result{}, err
	}

	result := card.Validate(req.CardJSON)
	if !result.OK() {
		return Result{}, result.AsError()
	}

	return s.persist(ctx, req.Principal, result.Card, req.CardJSON, result.ContentHash, store.SourceByValue, nil, req.Public, req.PublisherOverride)
}

// PublishByURL fetches the card from req.CardURL, then runs the same
// validate/persist pipeline as PublishByValue.
func (s *Service) PublishByURL(ctx context.Context, req ByURLRequest) (Result, error) {
	if err := s.gate.RequirePublish(req.Principal, req.PublisherOverride != ""); err != nil {
		return Result{}, err
	}

	fetched, err := s.fetcher.Fetch(ctx, req.CardURL, "", fetch.AnyHost)
	if err != nil {
		return Result{}, err
	}

	result := card.Validate(fetched.Body)
	if !result.OK() {
		return Result{}, result.AsError()
	}

	return s.persist(ctx, req.Principal, result.Card, fetched.Body, result.ContentHash, store.SourceByURL, &req.CardURL, req.Public, req.PublisherOverride)
}

func (s *Service) persist(
	ctx context.Context,
	principal authz.Principal,
	c *a2acard.Card,
	rawCardJSON []byte,
	contentHash string,
	source store.SourceKind,
	sourceURL *string,
	public bool,
	publisherOverride string,
) (Result, error) {
	displayName := principal.ID
	if publisherOverride != "" {
		displayName = publisherOverride
	}

	if err := checkProviderOrganization(c, displayName, principal); err != nil {
		return Result{}, err
	}

	publisher, err := s.agents.GetOrCreatePublisher(ctx, principal.TenantID, displayName)
	if err != nil {
		return Result{}, err
	}

	if err := s.checkAgentQuota(ctx, principal.TenantID, publisher.ID, c.Name); err != nil {
		return Result{}, err
	}

	upsertResult, err := s.agents.UpsertVersion(ctx, principal.TenantID, publisher.ID, c.Name, c, rawCardJSON, contentHash, c.Version, source, sourceURL)
	if err != nil {
		return Result{}, err
	}

	if !upsertResult.Created {
		// Idempotent republish of bytes already on file: nothing changed
		// downstream, so there is nothing to (re)index or invalidate.
		return Result{AgentID: upsertResult.AgentID, VersionID: upsertResult.VersionID, Created: false}, nil
	}

	if err := s.agents.SetVisibility(ctx, upsertResult.AgentID, public); err != nil {
		return Result{}, err
	}
	record, err := s.agents.GetByID(ctx, upsertResult.AgentID)
	if err != nil {
		return Result{}, err
	}

	doc := search.DocumentFor(record, c)
	if err := s.indexer.EnqueueIndex(ctx, doc); err != nil {
		if types.IsCode(err, types.ErrOverloaded) {
			if rollbackErr := s.agents.RollbackVersion(ctx, upsertResult); rollbackErr != nil {
				s.logger.Error("rollback after index backpressure failed",
					zap.String("agent_id", upsertResult.AgentID), zap.Error(rollbackErr))
			}
		}
		return Result{}, err
	}

	if s.discovery != nil {
		s.discovery.InvalidateTenant(ctx, principal.TenantID)
	}

	return Result{AgentID: upsertResult.AgentID, VersionID: upsertResult.VersionID, Created: true}, nil
}

// checkAgentQuota enforces MAX_AGENTS_PER_CLIENT: a publisher that does not
// already own an agent named name may not register a new one once it has
// reached maxAgentsPerPublisher distinct agents. Republishing an existing
// agent's name is never blocked by the quota.
func (s *Service) checkAgentQuota(ctx context.Context, tenantID, publisherID, name string) error {
	if s.maxAgentsPerPublisher <= 0 {
		return nil
	}
	if _, err := s.agents.GetByName(ctx, tenantID, publisherID, name); err == nil {
		return nil
	} else if !types.IsCode(err, types.ErrNotFound) {
		return err
	}

	count, err := s.agents.CountByPublisher(ctx, publisherID)
	if err != nil {
		return err
	}
	if count >= int64(s.maxAgentsPerPublisher) {
		return types.NewError(types.ErrRateLimited, "publisher has reached its agent quota").
			WithDetail(fmt.Sprintf("limit=%d", s.maxAgentsPerPublisher))
	}
	return nil
}

// checkProviderOrganization enforces invariant 4: a card's declared
// provider.organization must match the resolved publisher identity unless
// the caller is an Administrator.
func checkProviderOrganization(c *a2acard.Card, publisherDisplayName string, principal authz.Principal) error {
	if c.Provider == nil || c.Provider.Organization == "" {
		return nil
	}
	if c.Provider.Organization == publisherDisplayName {
		return nil
	}
	if principal.HasRole(authz.RoleAdministrator) {
		return nil
	}
	return types.NewError(types.ErrForbidden, "card provider.organization does not match the publisher; only an Administrator may override")
}

