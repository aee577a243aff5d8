package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// APIHandler serves health, version, and queue introspection endpoints
type APIHandler struct {
	broker  interfaces.Broker
	regions interfaces.RegionStorage
	logger  arbor.ILogger
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(broker interfaces.Broker, regions interfaces.RegionStorage, logger arbor.ILogger) *APIHandler {
	return &APIHandler{broker: broker, regions: regions, logger: logger}
}

// HealthHandler returns health check status
// GET /api/health
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionHandler returns version information
// GET /api/version
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"version":    common.GetVersion(),
		"build":      common.Build,
		"git_commit": common.GitCommit,
	})
}

// QueuesHandler returns per-region queue depth and in-flight counts
// GET /api/queues
func (h *APIHandler) QueuesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if requireRole(w, r, models.RoleViewer) == nil {
		return
	}

	stats, err := h.broker.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	// Attach region metadata where a queue belongs to a registered region
	type queueInfo struct {
		Queue    string `json:"queue"`
		Region   string `json:"region,omitempty"`
		Visible  int    `json:"visible"`
		InFlight int    `json:"in_flight"`
	}
	byQueue := make(map[string]string)
	if regions, err := h.regions.ListRegions(r.Context()); err == nil {
		for _, region := range regions {
			byQueue[region.QueueName()] = region.Name
		}
	}

	queues := make([]queueInfo, 0, len(stats))
	for name, s := range stats {
		queues = append(queues, queueInfo{
			Queue:    name,
			Region:   byQueue[name],
			Visible:  s.Visible,
			InFlight: s.InFlight,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"queues": queues})
}

// NotFoundHandler handles 404 errors with a JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": "not found",
		"path":  r.URL.Path,
	})
}
