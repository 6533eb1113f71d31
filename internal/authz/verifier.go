package authz

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/a2aregistry/registry/types"
)

// TokenVerifier is the external port that turns a bearer token into a
// Principal. Verification key material (HMAC secret, RSA/JWKS public
// key) is supplied by the caller, not embedded here — the core only
// consumes tokens, it never issues them.
type TokenVerifier interface {
	Verify(ctx context.Context, bearerToken string) (Principal, error)
}

// JWTVerifierConfig configures a JWTVerifier.
type JWTVerifierConfig struct {
	Issuer       string
	Audience     string
	ValidMethods []string // e.g. "HS256", "RS256"
}

// DefaultJWTVerifierConfig accepts HS256 and RS256 with no issuer/audience
// pinning — callers should set Issuer/Audience in production.
func DefaultJWTVerifierConfig() JWTVerifierConfig {
	return JWTVerifierConfig{ValidMethods: []string{"HS256", "RS256"}}
}

// JWTVerifier verifies a bearer token's signature and claims via
// golang-jwt, then maps its claims onto a Principal.
type JWTVerifier struct {
	cfg     JWTVerifierConfig
	keyFunc jwt.Keyfunc
}

// NewJWTVerifier builds a verifier against the given key resolution
// function — typically a JWKS-backed jwt.Keyfunc, or a fixed HMAC secret
// for simpler deployments.
func NewJWTVerifier(cfg JWTVerifierConfig, keyFunc jwt.Keyfunc) *JWTVerifier {
	return &JWTVerifier{cfg: cfg, keyFunc: keyFunc}
}

func (v *JWTVerifier) Verify(ctx context.Context, bearerToken string) (Principal, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods(v.cfg.ValidMethods)}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse(bearerToken, v.keyFunc, opts...)
	if err != nil {
		return Principal{}, types.NewError(types.ErrUnauthenticated, "invalid or expired token").WithCause(err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, types.NewError(types.ErrUnauthenticated, "invalid token claims")
	}

	return principalFromClaims(claims)
}

func principalFromClaims(claims jwt.MapClaims) (Principal, error) {
	sub, _ := claims["sub"].(string)
	tenantID, _ := claims["tenant_id"].(string)
	if sub == "" || tenantID == "" {
		return Principal{}, types.NewError(types.ErrUnauthenticated, "token missing sub or tenant_id claim")
	}

	kind, _ := claims["kind"].(string)
	if kind == "" {
		kind = "user"
	}

	var roles []Role
	if raw, ok := claims["roles"].([]any); ok {
		for _, r := range raw {
			if s, ok := r.(string); ok {
				roles = append(roles, Role(s))
			}
		}
	}

	var scopes []string
	if raw, ok := claims["scopes"].([]any); ok {
		for _, s := range raw {
			if s, ok := s.(string); ok {
				scopes = append(scopes, s)
			}
		}
	}

	return Principal{ID: sub, TenantID: tenantID, Kind: kind, Roles: roles, Scopes: scopes}, nil
}

// requireKey is a convenience Keyfunc constructor for the common HMAC
// single-secret case.
func requireKey(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authz: unexpected signing method %q", token.Method.Alg())
		}
		return secret, nil
	}
}

// NewHMACVerifier builds a JWTVerifier against a single shared secret —
// the simplest deployment, matching the teacher middleware's HS256 path.
func NewHMACVerifier(cfg JWTVerifierConfig, secret []byte) *JWTVerifier {
	return NewJWTVerifier(cfg, requireKey(secret))
}
