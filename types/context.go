package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyRequestID contextKey = "request_id"
	keyTenantID  contextKey = "tenant_id"
	keyPrincipal contextKey = "principal"
)

// WithRequestID adds the request id to context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, keyRequestID, requestID)
}

// RequestID extracts the request id from context.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok && v != ""
}

// WithTenantID adds the resolved tenant id to context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, keyTenantID, tenantID)
}

// TenantID extracts the tenant id from context.
func TenantID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTenantID).(string)
	return v, ok && v != ""
}

// WithPrincipal adds the authenticated principal to context. The value is
// stored as `any` because the Principal type lives in the authz package,
// which imports types — not the reverse.
func WithPrincipal(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, keyPrincipal, principal)
}

// Principal extracts the authenticated principal from context, if any.
func Principal(ctx context.Context) (any, bool) {
	v := ctx.Value(keyPrincipal)
	return v, v != nil
}
