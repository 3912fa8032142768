package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/1274866478-stack/data-agent-sub005/internal/tenant"
)

type authTenantKey struct{}

// authTenant returns the tenant resolved by the auth middleware, or "".
func authTenant(ctx context.Context) string {
	id, _ := ctx.Value(authTenantKey{}).(string)
	return id
}

// AuthMiddleware validates X-API-Key or Authorization: Bearer <key>
// against the tenant registry and stores the resolved tenant in the
// request context. A nil manager disables authentication.
func AuthMiddleware(tm *tenant.Manager) func(http.Handler) http.Handler {
	if tm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
					key = strings.TrimPrefix(auth, "Bearer ")
				}
			}
			if key == "" {
				writeError(w, http.StatusUnauthorized, "unauthorized", "missing API key")
				return
			}
			t, err := tm.Authenticate(key)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), authTenantKey{}, t.ID))
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitMiddleware enforces the per-tenant rate limit for the
// authenticated tenant. Runs after AuthMiddleware; unauthenticated
// requests pass through untouched.
func RateLimitMiddleware(tm *tenant.Manager) func(http.Handler) http.Handler {
	if tm == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := authTenant(r.Context())
			if tenantID == "" {
				next.ServeHTTP(w, r)
				return
			}
			switch err := tm.ValidateRequest(tenantID); err {
			case nil:
				next.ServeHTTP(w, r)
			case tenant.ErrRateLimitExceeded:
				w.Header().Set("Retry-After", "1")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "rate_limit_exceeded",
					"message": err.Error(),
				})
			case tenant.ErrTenantNotFound:
				writeError(w, http.StatusForbidden, "forbidden", err.Error())
			default:
				writeError(w, http.StatusInternalServerError, "internal", err.Error())
			}
		})
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
