package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
)

// JobHandler handles job listing, inspection, and the typed creation
// endpoints
type JobHandler struct {
	jobService *jobs.Service
	logger     arbor.ILogger
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobService *jobs.Service, logger arbor.ILogger) *JobHandler {
	return &JobHandler{jobService: jobService, logger: logger}
}

// ListJobsHandler returns a paginated job list
// GET /api/jobs?status=&type=&hostname=&skip=0&limit=50
func (h *JobHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleViewer)
	if tc == nil {
		return
	}

	opts := interfaces.JobListOptions{
		Type:     models.JobType(r.URL.Query().Get("type")),
		Status:   models.JobStatus(r.URL.Query().Get("status")),
		Hostname: r.URL.Query().Get("hostname"),
		Skip:     queryInt(r, "skip", 0),
		Limit:    queryInt(r, "limit", 50),
	}

	list, total, err := h.jobService.List(r.Context(), tc, opts)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list jobs")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  list,
		"total": total,
		"skip":  opts.Skip,
		"limit": opts.Limit,
	})
}

// JobRoutesHandler dispatches /api/jobs/{id} and its subpaths
func (h *JobHandler) JobRoutesHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleViewer)
	if tc == nil {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	parts := strings.SplitN(path, "/", 2)
	jobID := parts[0]
	if jobID == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getJob(w, r, tc, jobID)
	case action == "logs" && r.Method == http.MethodGet:
		h.getLogs(w, r, tc, jobID)
	case action == "retry" && r.Method == http.MethodPost:
		h.retryJob(w, r, tc, jobID)
	case action == "cancel" && r.Method == http.MethodPost:
		h.cancelJob(w, r, tc, jobID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *JobHandler) getJob(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, jobID string) {
	job, err := h.jobService.Get(r.Context(), tc, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *JobHandler) getLogs(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, jobID string) {
	var since time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}
	limit := queryInt(r, "limit", 500)

	logs, err := h.jobService.Logs(r.Context(), tc, jobID, since, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs, "count": len(logs)})
}

func (h *JobHandler) retryJob(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, jobID string) {
	if tc = requireRole(w, r, models.RoleOperator); tc == nil {
		return
	}
	clone, err := h.jobService.Retry(r.Context(), tc, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": clone.ID, "status": clone.Status})
}

func (h *JobHandler) cancelJob(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, jobID string) {
	if tc = requireRole(w, r, models.RoleOperator); tc == nil {
		return
	}
	job, err := h.jobService.Cancel(r.Context(), tc, jobID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// createRequest is the shared shape of the typed creation endpoints
type createRequest struct {
	Targets      models.TargetFilters `json:"targets"`
	ScheduledFor *time.Time           `json:"scheduled_for,omitempty"`
}

func (h *JobHandler) create(w http.ResponseWriter, r *http.Request, tc *models.TenantContext, jobType models.JobType, targets models.TargetFilters, scheduledFor *time.Time, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	job, err := h.jobService.Create(r.Context(), tc, jobs.CreateRequest{
		Type:         jobType,
		Targets:      targets,
		Payload:      raw,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		if strings.Contains(err.Error(), "invalid payload") {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"job_id": job.ID, "status": job.Status})
}

// RunCommandsHandler creates a run_commands job
// POST /api/commands/run
func (h *JobHandler) RunCommandsHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		Commands []string `json:"commands"`
		Timeout  int      `json:"timeout,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.create(w, r, tc, models.JobTypeRunCommands, req.Targets, req.ScheduledFor,
		models.RunCommandsPayload{Commands: req.Commands, TimeoutSeconds: req.Timeout})
}

// ConfigBackupHandler creates a config_backup job
// POST /api/config/backup
func (h *JobHandler) ConfigBackupHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		SourceLabel string `json:"source_label,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.create(w, r, tc, models.JobTypeConfigBackup, req.Targets, req.ScheduledFor,
		models.ConfigBackupPayload{SourceLabel: req.SourceLabel})
}

// DeployPreviewHandler creates a config_deploy_preview job
// POST /api/config/deploy/preview
func (h *JobHandler) DeployPreviewHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		Mode    models.DeployMode `json:"mode"`
		Snippet string            `json:"snippet"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.create(w, r, tc, models.JobTypeDeployPreview, req.Targets, req.ScheduledFor,
		models.ConfigDeployPayload{Mode: req.Mode, Snippet: req.Snippet})
}

// DeployCommitHandler creates a config_deploy_commit job. The referenced
// preview must exist, be a preview, be successful, and belong to the same
// customer; anything else is a 422 and no job is created.
// POST /api/config/deploy/commit
func (h *JobHandler) DeployCommitHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		Mode          models.DeployMode `json:"mode"`
		Snippet       string            `json:"snippet"`
		PreviousJobID string            `json:"previous_job_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.PreviousJobID == "" {
		writeError(w, http.StatusUnprocessableEntity, "previous_job_id required")
		return
	}
	preview, err := h.jobService.Get(r.Context(), tc, req.PreviousJobID)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "preview job must be successful")
		return
	}
	if preview.Type != models.JobTypeDeployPreview || preview.Status != models.JobStatusSuccess || preview.CustomerID != tc.CustomerID {
		writeError(w, http.StatusUnprocessableEntity, "preview job must be successful")
		return
	}

	h.create(w, r, tc, models.JobTypeDeployCommit, req.Targets, req.ScheduledFor,
		models.ConfigDeployPayload{Mode: req.Mode, Snippet: req.Snippet, PreviousJobID: req.PreviousJobID})
}

// CompliancePolicyRunHandler creates a compliance_check job for a policy
// POST /api/compliance/policies/{id}/run
func (h *JobHandler) CompliancePolicyRunHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/compliance/policies/")
	policyID := strings.TrimSuffix(path, "/run")
	if policyID == "" || policyID == path {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req createRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.create(w, r, tc, models.JobTypeComplianceCheck, req.Targets, req.ScheduledFor,
		models.ComplianceCheckPayload{PolicyID: policyID})
}

// TopologyDiscoverHandler creates a topology_discovery job
// POST /api/topology/discover
func (h *JobHandler) TopologyDiscoverHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		Protocol          models.DiscoveryProtocol `json:"protocol"`
		AutoCreateDevices bool                     `json:"auto_create_devices"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Protocol == "" {
		req.Protocol = models.DiscoveryBoth
	}
	h.create(w, r, tc, models.JobTypeTopologyDiscovery, req.Targets, req.ScheduledFor,
		models.TopologyDiscoveryPayload{Protocol: req.Protocol, AutoCreateDevices: req.AutoCreateDevices})
}

// ReachabilityHandler creates a check_reachability job
// POST /api/devices/reachability
func (h *JobHandler) ReachabilityHandler(w http.ResponseWriter, r *http.Request) {
	tc := requireRole(w, r, models.RoleOperator)
	if tc == nil {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		createRequest
		Timeout int `json:"timeout,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.create(w, r, tc, models.JobTypeCheckReachability, req.Targets, req.ScheduledFor,
		models.CheckReachabilityPayload{TimeoutSeconds: req.Timeout})
}
