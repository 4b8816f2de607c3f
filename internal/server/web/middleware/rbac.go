package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	claimsContextKey contextKey = "claims"
	tenantContextKey contextKey = "tenant"
)

// RequireOrganization rejects callers whose token carries no valid tenant
// and stores the tenant id for TenantFromContext.
func RequireOrganization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := GetClaimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		if claims.OrganizationID == nil || *claims.OrganizationID == "" {
			writeError(w, http.StatusForbidden, "organization membership required")
			return
		}

		tenantID, err := uuid.Parse(*claims.OrganizationID)
		if err != nil {
			writeError(w, http.StatusForbidden, "invalid organization")
			return
		}

		ctx := context.WithValue(r.Context(), tenantContextKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantFromContext returns the tenant set by RequireOrganization.
func TenantFromContext(ctx context.Context) (uuid.UUID, bool) {
	tenantID, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	return tenantID, ok
}

// GetClaimsFromContext retrieves claims from request context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(claimsContextKey).(*Claims); ok {
		return claims
	}
	return nil
}

// SetClaimsInContext stores claims in context (used by auth middleware)
func SetClaimsInContext(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}
