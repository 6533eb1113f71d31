package authz

import (
	"context"

	"go.uber.org/zap"

	"github.com/a2aregistry/registry/types"
)

// EndpointClass groups endpoints for scope/role enforcement and, via
// internal/ratelimit.Class, for rate-limit budgeting.
type EndpointClass string

const (
	ClassPublicRead EndpointClass = "public-read"
	ClassAuthRead   EndpointClass = "auth-read"
	ClassWrite      EndpointClass = "write"
	ClassSyncAdmin  EndpointClass = "sync-admin"
)

// publicEndpoints lists operations unauthenticated callers may reach.
// get_agent and get_card are included because their visibility is a
// per-record check performed downstream in internal/discovery (a
// public agent is visible with no token at all); every other operation
// requires a verified principal.
var publicEndpoints = map[string]bool{
	"list_public":      true,
	"well_known_index": true,
	"well_known_card":  true,
	"get_agent":        true,
	"get_card":         true,
	"health":           true,
}

// Gate resolves bearer tokens into Principals and enforces the role,
// scope, and tenant-binding rules shared by every core operation.
type Gate struct {
	verifier TokenVerifier
	logger   *zap.Logger
}

// NewGate builds a Gate over the given TokenVerifier.
func NewGate(verifier TokenVerifier, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{verifier: verifier, logger: logger.With(zap.String("component", "authz_gate"))}
}

// Authenticate verifies bearerToken (which may be empty) for the named
// operation. An empty token is accepted only for operations in
// publicEndpoints; everything else requires a valid Principal.
func (g *Gate) Authenticate(ctx context.Context, operation, bearerToken string) (Principal, error) {
	if bearerToken == "" {
		if publicEndpoints[operation] {
			return Principal{}, nil
		}
		return Principal{}, types.NewError(types.ErrUnauthenticated, "this operation requires a bearer token")
	}

	principal, err := g.verifier.Verify(ctx, bearerToken)
	if err != nil {
		return Principal{}, err
	}
	return principal, nil
}

// RequirePublish enforces the publish service's role requirement:
// CatalogManager or Administrator, and Administrator specifically when a
// publisher_override is supplied.
func (g *Gate) RequirePublish(principal Principal, publisherOverride bool) error {
	if !principal.CanPublish() {
		return types.NewError(types.ErrForbidden, "publishing requires the CatalogManager or Administrator role")
	}
	if publisherOverride && !principal.CanOverridePublisher() {
		return types.NewError(types.ErrForbidden, "overriding the publisher requires the Administrator role")
	}
	return nil
}

// RequireTenant enforces tenant binding: a principal's own tenant id is
// authoritative, and any attempt to address a different tenant in the
// request itself is rejected — not silently redirected, not treated as
// NotFound, since the caller is asserting the wrong tenant outright.
func (g *Gate) RequireTenant(principal Principal, requestedTenantID string) error {
	if requestedTenantID != "" && requestedTenantID != principal.TenantID {
		return types.NewError(types.ErrForbidden, "principal is not bound to the requested tenant")
	}
	return nil
}

// RequireAdministrator enforces the Administrator-only operations
// (peer registry management, sync triggers).
func (g *Gate) RequireAdministrator(principal Principal) error {
	if !principal.HasRole(RoleAdministrator) {
		return types.NewError(types.ErrForbidden, "this operation requires the Administrator role")
	}
	return nil
}
