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

// RegionHandler manages worker region registration and health
type RegionHandler struct {
	regions interfaces.RegionStorage
	logger  arbor.ILogger
}

// NewRegionHandler creates a new region handler
func NewRegionHandler(regions interfaces.RegionStorage, logger arbor.ILogger) *RegionHandler {
	return &RegionHandler{regions: regions, logger: logger}
}

// RegionsHandler handles GET (list) and POST (create) on /api/regions
func (h *RegionHandler) RegionsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if requireRole(w, r, models.RoleViewer) == nil {
			return
		}
		list, err := h.regions.ListRegions(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"regions": list})
	case http.MethodPost:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		var req struct {
			Name       string `json:"name"`
			Identifier string `json:"identifier"`
			Priority   int    `json:"priority"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" || req.Identifier == "" {
			writeError(w, http.StatusUnprocessableEntity, "name and identifier required")
			return
		}
		now := time.Now().UTC()
		region := &models.Region{
			ID:         common.NewID(),
			Name:       req.Name,
			Identifier: req.Identifier,
			Priority:   req.Priority,
			Enabled:    true,
			Health:     models.RegionHealthy,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := h.regions.CreateRegion(r.Context(), region); err != nil {
			if strings.Contains(err.Error(), "already exists") {
				writeError(w, http.StatusConflict, err.Error())
				return
			}
			writeServiceError(w, err)
			return
		}
		h.logger.Info().Str("region", region.Identifier).Msg("Region registered")
		writeJSON(w, http.StatusCreated, region)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// RegionRoutesHandler dispatches /api/regions/{id}
func (h *RegionHandler) RegionRoutesHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/regions/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		if requireRole(w, r, models.RoleViewer) == nil {
			return
		}
		region, err := h.regions.GetRegion(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, region)
	case http.MethodPut:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		region, err := h.regions.GetRegion(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		var req struct {
			Name     string              `json:"name,omitempty"`
			Priority *int                `json:"priority,omitempty"`
			Enabled  *bool               `json:"enabled,omitempty"`
			Health   models.RegionHealth `json:"health,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name != "" {
			region.Name = req.Name
		}
		if req.Priority != nil {
			region.Priority = *req.Priority
		}
		if req.Enabled != nil {
			region.Enabled = *req.Enabled
		}
		if req.Health != "" {
			switch req.Health {
			case models.RegionHealthy, models.RegionDegraded, models.RegionOffline:
				region.Health = req.Health
			default:
				writeError(w, http.StatusUnprocessableEntity, "invalid health value")
				return
			}
		}
		region.UpdatedAt = time.Now().UTC()
		if err := h.regions.UpdateRegion(r.Context(), region); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, region)
	case http.MethodDelete:
		if requireRole(w, r, models.RoleAdmin) == nil {
			return
		}
		if err := h.regions.DeleteRegion(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		h.logger.Info().Str("region_id", id).Msg("Region removed")
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
