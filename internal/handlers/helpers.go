package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
)

type contextKey string

const tenantContextKey contextKey = "tenant_context"

// WithTenant attaches the resolved tenant context to the request context
func WithTenant(ctx context.Context, tc *models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tc)
}

// TenantFrom extracts the tenant context attached by the auth middleware
func TenantFrom(ctx context.Context) *models.TenantContext {
	tc, _ := ctx.Value(tenantContextKey).(*models.TenantContext)
	return tc
}

// writeJSON writes a JSON response with the given status
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps domain errors onto HTTP statuses
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, tenant.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, tenant.ErrAmbiguousTenant):
		writeError(w, http.StatusUnprocessableEntity, "customer_id required")
	case errors.Is(err, tenant.ErrNoTenant):
		writeError(w, http.StatusUnprocessableEntity, "no tenant resolved")
	case errors.Is(err, tenant.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, jobs.ErrJobNotFound), errors.Is(err, interfaces.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, jobs.ErrJobNotCancellable):
		writeError(w, http.StatusConflict, "job can no longer be cancelled")
	case errors.Is(err, interfaces.ErrStatusConflict), errors.Is(err, interfaces.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "status conflict")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// requireRole gates a handler on the role threshold, writing the error
// response on failure
func requireRole(w http.ResponseWriter, r *http.Request, min models.Role) *models.TenantContext {
	tc := TenantFrom(r.Context())
	if tc == nil || tc.User == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return nil
	}
	if !tc.Role.AtLeast(min) {
		writeError(w, http.StatusForbidden, "forbidden")
		return nil
	}
	return tc
}

// queryInt parses an integer query parameter with a fallback
func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// decodeBody decodes a JSON request body into v
func decodeBody(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
