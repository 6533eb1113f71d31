package authz

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/a2aregistry/registry/types"
)

const testSecret = "unit-test-secret"

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHMACVerifier_ValidToken(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := signToken(t, jwt.MapClaims{
		"sub":       "alice",
		"tenant_id": "tenant-a",
		"kind":      "user",
		"roles":     []any{"CatalogManager"},
		"scopes":    []any{"agent:publish"},
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	principal, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.ID)
	assert.Equal(t, "tenant-a", principal.TenantID)
	assert.Equal(t, "user", principal.Kind)
	assert.True(t, principal.HasRole(RoleCatalogManager))
	assert.True(t, principal.HasScope("agent:publish"))
}

func TestHMACVerifier_DefaultsKindToUser(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := signToken(t, jwt.MapClaims{
		"sub":       "svc-account",
		"tenant_id": "tenant-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	principal, err := verifier.Verify(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user", principal.Kind)
}

func TestHMACVerifier_MissingSubOrTenant(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := signToken(t, jwt.MapClaims{
		"tenant_id": "tenant-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnauthenticated))
}

func TestHMACVerifier_WrongSecret(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice", "tenant_id": "tenant-a", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("some-other-secret"))
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signed)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnauthenticated))
}

func TestHMACVerifier_ExpiredToken(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := signToken(t, jwt.MapClaims{
		"sub": "alice", "tenant_id": "tenant-a", "exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := verifier.Verify(context.Background(), token)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnauthenticated))
}

func TestHMACVerifier_RejectsUnexpectedSigningMethod(t *testing.T) {
	t.Parallel()
	verifier := NewHMACVerifier(DefaultJWTVerifierConfig(), []byte(testSecret))

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "alice", "tenant_id": "tenant-a", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(context.Background(), signed)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrUnauthenticated))
}

func TestHMACVerifier_IssuerAndAudiencePinning(t *testing.T) {
	t.Parallel()
	cfg := DefaultJWTVerifierConfig()
	cfg.Issuer = "https://registry.example.com"
	cfg.Audience = "registry-api"
	verifier := NewHMACVerifier(cfg, []byte(testSecret))

	wrongIssuer := signToken(t, jwt.MapClaims{
		"sub": "alice", "tenant_id": "tenant-a", "iss": "https://someone-else.example.com",
		"aud": "registry-api", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err := verifier.Verify(context.Background(), wrongIssuer)
	require.Error(t, err)

	matching := signToken(t, jwt.MapClaims{
		"sub": "alice", "tenant_id": "tenant-a", "iss": "https://registry.example.com",
		"aud": "registry-api", "exp": time.Now().Add(time.Hour).Unix(),
	})
	_, err = verifier.Verify(context.Background(), matching)
	require.NoError(t, err)
}

func TestPrincipal_VisibilitySubjects(t *testing.T) {
	t.Parallel()

	user := Principal{ID: "alice", Kind: "user", Roles: []Role{RoleUser}}
	assert.Equal(t, []string{"principal:alice", "role:User"}, user.VisibilitySubjects())

	service := Principal{ID: "svc-1", Kind: "service", Roles: []Role{RoleCatalogManager, RoleAdministrator}}
	assert.Equal(t,
		[]string{"principal:svc-1", "consumer:svc-1", "role:CatalogManager", "role:Administrator"},
		service.VisibilitySubjects(),
	)
}

func TestPrincipal_CanPublishAndOverride(t *testing.T) {
	t.Parallel()

	assert.False(t, Principal{}.CanPublish())
	assert.True(t, Principal{Roles: []Role{RoleCatalogManager}}.CanPublish())
	assert.True(t, Principal{Roles: []Role{RoleAdministrator}}.CanPublish())

	assert.False(t, Principal{Roles: []Role{RoleCatalogManager}}.CanOverridePublisher())
	assert.True(t, Principal{Roles: []Role{RoleAdministrator}}.CanOverridePublisher())
}
