package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// SubscriptionHandler manages event subscriptions (webhook, chat, email)
type SubscriptionHandler struct {
	subscriptions interfaces.SubscriptionStorage
	logger        arbor.ILogger
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptions interfaces.SubscriptionStorage, logger arbor.ILogger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions, logger: logger}
}

func validateSubscription(kind models.SubscriptionKind, url, email string) string {
	switch kind {
	case models.SubscriptionWebhook, models.SubscriptionChat:
		if url == "" {
			return "url required for " + string(kind) + " subscriptions"
		}
	case models.SubscriptionEmail:
		if email == "" {
			return "email required for email subscriptions"
		}
	default:
		return "kind must be webhook, chat, or email"
	}
	return ""
}

// SubscriptionsHandler handles GET (list) and POST (create) on
// /api/subscriptions
func (h *SubscriptionHandler) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if tc.CustomerID == "" {
		writeError(w, http.StatusUnprocessableEntity, "customer_id required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		list, err := h.subscriptions.ListSubscriptions(r.Context(), tc.CustomerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": list})
	case http.MethodPost:
		var req struct {
			Kind   models.SubscriptionKind `json:"kind"`
			URL    string                  `json:"url,omitempty"`
			Secret string                  `json:"secret,omitempty"`
			Email  string                  `json:"email,omitempty"`
			Events []models.EventType      `json:"events,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if msg := validateSubscription(req.Kind, req.URL, req.Email); msg != "" {
			writeError(w, http.StatusUnprocessableEntity, msg)
			return
		}

		sub := &models.Subscription{
			ID:         common.NewID(),
			CustomerID: tc.CustomerID,
			Kind:       req.Kind,
			URL:        req.URL,
			Secret:     req.Secret,
			Email:      req.Email,
			Events:     req.Events,
			Enabled:    true,
			CreatedAt:  time.Now().UTC(),
		}
		if err := h.subscriptions.CreateSubscription(r.Context(), sub); err != nil {
			writeServiceError(w, err)
			return
		}
		h.logger.Info().
			Str("subscription_id", sub.ID).
			Str("kind", string(sub.Kind)).
			Msg("Subscription created")
		writeJSON(w, http.StatusCreated, sub)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// SubscriptionRoutesHandler dispatches /api/subscriptions/{id}
func (h *SubscriptionHandler) SubscriptionRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/subscriptions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	sub, err := h.subscriptions.GetSubscription(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tc.CanAccess(sub.CustomerID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, sub)
	case http.MethodPut:
		var req struct {
			URL     string              `json:"url,omitempty"`
			Secret  string              `json:"secret,omitempty"`
			Email   string              `json:"email,omitempty"`
			Events  *[]models.EventType `json:"events,omitempty"`
			Enabled *bool               `json:"enabled,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.URL != "" {
			sub.URL = req.URL
		}
		if req.Secret != "" {
			sub.Secret = req.Secret
		}
		if req.Email != "" {
			sub.Email = req.Email
		}
		if req.Events != nil {
			sub.Events = *req.Events
		}
		if req.Enabled != nil {
			sub.Enabled = *req.Enabled
		}
		if msg := validateSubscription(sub.Kind, sub.URL, sub.Email); msg != "" {
			writeError(w, http.StatusUnprocessableEntity, msg)
			return
		}
		if err := h.subscriptions.UpdateSubscription(r.Context(), sub); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	case http.MethodDelete:
		if err := h.subscriptions.DeleteSubscription(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
