// Package requestctx carries the request-scoped tenant identity through
// context.Context. The identity is resolved once from the authenticated
// caller and is immutable for the lifetime of the turn; it is never
// inferred from the natural-language question text.
package requestctx

import "context"

// TenantContext is the immutable identity attached to every turn.
type TenantContext struct {
	TenantID  string
	UserID    string
	SessionID string
}

// Valid reports whether the context carries a resolvable tenant and user.
func (tc TenantContext) Valid() bool {
	return tc.TenantID != "" && tc.UserID != ""
}

type contextKey struct{}

var tenantCtxKey = &contextKey{}

// WithTenant stores the tenant context in ctx.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, tenantCtxKey, tc)
}

// Tenant returns the tenant context from ctx. ok is false when no tenant
// identity was attached.
func Tenant(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(tenantCtxKey).(TenantContext)
	return tc, ok
}

// TenantID returns the tenant_id from ctx, or "" if not set.
func TenantID(ctx context.Context) string {
	tc, _ := Tenant(ctx)
	return tc.TenantID
}
