package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"golang.org/x/time/rate"
)

// AuthHandler handles login and token refresh
type AuthHandler struct {
	tenants      *tenant.Service
	logger       arbor.ILogger
	loginLimiter *rate.Limiter // Throttles credential guessing
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(tenants *tenant.Service, logger arbor.ILogger) *AuthHandler {
	return &AuthHandler{
		tenants:      tenants,
		logger:       logger,
		loginLimiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 10),
	}
}

// LoginHandler exchanges email/password for a token pair
// POST /api/auth/login
func (h *AuthHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.loginLimiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, user, err := h.tenants.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"expires_in":    pair.ExpiresIn,
		"user": map[string]interface{}{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
			"role":  user.Role,
		},
	})
}

// RefreshHandler exchanges a refresh token for a new pair
// POST /api/auth/refresh
func (h *AuthHandler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	pair, err := h.tenants.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

// MeHandler returns the authenticated principal and its tenant scope
// GET /api/auth/me
func (h *AuthHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	tc := TenantFrom(r.Context())
	if tc == nil || tc.User == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":                      tc.User.ID,
		"email":                   tc.User.Email,
		"name":                    tc.User.Name,
		"role":                    tc.Role,
		"customer_id":             tc.CustomerID,
		"accessible_customer_ids": tc.AccessibleCustomerIDs,
	})
}
