package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/fabrica/internal/models"
)

// taskNames maps each job type to the task name workers route on. The
// mapping is the dispatch contract; handlers register under these names.
var taskNames = map[models.JobType]string{
	models.JobTypeRunCommands:       "tasks.run_commands",
	models.JobTypeConfigBackup:      "tasks.config_backup",
	models.JobTypeDeployPreview:     "tasks.config_deploy_preview",
	models.JobTypeDeployCommit:      "tasks.config_deploy_commit",
	models.JobTypeComplianceCheck:   "tasks.compliance_check",
	models.JobTypeTopologyDiscovery: "tasks.topology_discovery",
	models.JobTypeCheckReachability: "tasks.check_reachability",
}

// Registry validates job payloads and builds broker messages per job type.
// Unknown types are rejected at creation, never at execution.
type Registry struct {
	validate *validator.Validate
}

// NewRegistry creates the job type registry
func NewRegistry() *Registry {
	return &Registry{validate: validator.New()}
}

// TaskName returns the worker task name for a job type
func (r *Registry) TaskName(jobType models.JobType) (string, error) {
	name, ok := taskNames[jobType]
	if !ok {
		return "", fmt.Errorf("unknown job type: %s", jobType)
	}
	return name, nil
}

// ValidatePayload decodes and validates the raw payload for the job type,
// returning the normalized payload bytes
func (r *Registry) ValidatePayload(jobType models.JobType, raw json.RawMessage) (json.RawMessage, error) {
	var payload interface{}
	switch jobType {
	case models.JobTypeRunCommands:
		payload = &models.RunCommandsPayload{}
	case models.JobTypeConfigBackup:
		payload = &models.ConfigBackupPayload{}
	case models.JobTypeDeployPreview, models.JobTypeDeployCommit:
		payload = &models.ConfigDeployPayload{}
	case models.JobTypeComplianceCheck:
		payload = &models.ComplianceCheckPayload{}
	case models.JobTypeTopologyDiscovery:
		payload = &models.TopologyDiscoveryPayload{}
	case models.JobTypeCheckReachability:
		payload = &models.CheckReachabilityPayload{}
	default:
		return nil, fmt.Errorf("unknown job type: %s", jobType)
	}

	if len(raw) > 0 {
		if err := json.Unmarshal(raw, payload); err != nil {
			return nil, fmt.Errorf("invalid payload: %w", err)
		}
	}
	if err := r.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	normalized, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	return normalized, nil
}

// BuildMessage constructs the broker message dispatching a job
func (r *Registry) BuildMessage(job *models.Job, queue string) (*models.TaskMessage, error) {
	taskName, err := r.TaskName(job.Type)
	if err != nil {
		return nil, err
	}
	return &models.TaskMessage{
		TaskName: taskName,
		JobID:    job.ID,
		Args:     job.Payload,
		Queue:    queue,
	}, nil
}
