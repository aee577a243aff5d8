package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
)

// ScheduleHandler manages recurring job schedules
type ScheduleHandler struct {
	schedules interfaces.ScheduleStorage
	registry  *jobs.Registry
	logger    arbor.ILogger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(schedules interfaces.ScheduleStorage, registry *jobs.Registry, logger arbor.ILogger) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules, registry: registry, logger: logger}
}

// SchedulesHandler handles GET (list) and POST (create) on /api/schedules
func (h *ScheduleHandler) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
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
		list, err := h.schedules.ListSchedules(r.Context(), tc.CustomerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"schedules": list})
	case http.MethodPost:
		var req struct {
			Name     string               `json:"name"`
			Type     models.JobType       `json:"type"`
			Targets  models.TargetFilters `json:"targets"`
			Payload  json.RawMessage      `json:"payload"`
			Cron     string               `json:"cron,omitempty"`
			Interval string               `json:"interval,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusUnprocessableEntity, "name required")
			return
		}
		payload, err := h.registry.ValidatePayload(req.Type, req.Payload)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		now := time.Now().UTC()
		schedule := &models.Schedule{
			ID:         common.NewID(),
			CustomerID: tc.CustomerID,
			UserID:     tc.User.ID,
			Name:       req.Name,
			Template: models.JobTemplate{
				Type:    req.Type,
				Targets: req.Targets,
				Payload: payload,
			},
			Cron:      req.Cron,
			Interval:  req.Interval,
			Enabled:   true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := schedule.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		next, err := schedule.NextAfter(now)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		schedule.NextFireAt = next

		if err := h.schedules.CreateSchedule(r.Context(), schedule); err != nil {
			writeServiceError(w, err)
			return
		}
		h.logger.Info().
			Str("schedule_id", schedule.ID).
			Str("next_fire_at", schedule.NextFireAt.Format(time.RFC3339)).
			Msg("Schedule created")
		writeJSON(w, http.StatusCreated, schedule)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// ScheduleRoutesHandler dispatches /api/schedules/{id}
func (h *ScheduleHandler) ScheduleRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/schedules/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	schedule, err := h.schedules.GetSchedule(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if !tc.CanAccess(schedule.CustomerID) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, schedule)
	case http.MethodPut:
		var req struct {
			Name     string  `json:"name,omitempty"`
			Cron     *string `json:"cron,omitempty"`
			Interval *string `json:"interval,omitempty"`
			Enabled  *bool   `json:"enabled,omitempty"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Name != "" {
			schedule.Name = req.Name
		}
		if req.Cron != nil {
			schedule.Cron = *req.Cron
		}
		if req.Interval != nil {
			schedule.Interval = *req.Interval
		}
		if req.Enabled != nil {
			schedule.Enabled = *req.Enabled
		}
		if err := schedule.Validate(); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if req.Cron != nil || req.Interval != nil {
			next, err := schedule.NextAfter(time.Now().UTC())
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			schedule.NextFireAt = next
		}
		schedule.UpdatedAt = time.Now().UTC()
		if err := h.schedules.UpdateSchedule(r.Context(), schedule); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, schedule)
	case http.MethodDelete:
		if err := h.schedules.DeleteSchedule(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
