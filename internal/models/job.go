package models

import (
	"encoding/json"
	"time"
)

// JobType identifies the worker-side handler for a job
type JobType string

const (
	JobTypeRunCommands       JobType = "run_commands"
	JobTypeConfigBackup      JobType = "config_backup"
	JobTypeDeployPreview     JobType = "config_deploy_preview"
	JobTypeDeployCommit      JobType = "config_deploy_commit"
	JobTypeComplianceCheck   JobType = "compliance_check"
	JobTypeTopologyDiscovery JobType = "topology_discovery"
	JobTypeCheckReachability JobType = "check_reachability"
)

// JobStatus is the lifecycle state of a job
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSuccess   JobStatus = "success"
	JobStatusPartial   JobStatus = "partial"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// allowedTransitions is the job state machine. Any edge not listed is
// rejected by the store's compare-and-swap write.
var allowedTransitions = map[JobStatus][]JobStatus{
	JobStatusScheduled: {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:    {JobStatusRunning, JobStatusCancelled},
	JobStatusRunning:   {JobStatusSuccess, JobStatusPartial, JobStatusFailed, JobStatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// TargetFilters describes which devices a job was requested against.
// Empty filters target the full customer fleet.
type TargetFilters struct {
	Site      string   `json:"site,omitempty"`
	Role      string   `json:"role,omitempty"`
	Vendor    string   `json:"vendor,omitempty"`
	Hostname  string   `json:"hostname,omitempty"`
	Tag       string   `json:"tag,omitempty"`
	DeviceIDs []string `json:"device_ids,omitempty"`
	IPRange   string   `json:"ip_range,omitempty"` // CIDR
}

// IsEmpty reports whether no filter keys are set
func (f TargetFilters) IsEmpty() bool {
	return f.Site == "" && f.Role == "" && f.Vendor == "" && f.Hostname == "" &&
		f.Tag == "" && len(f.DeviceIDs) == 0 && f.IPRange == ""
}

// HostOutcome is the per-host entry of a result summary
type HostOutcome struct {
	Success     bool   `json:"success"`
	Error       string `json:"error,omitempty"`
	CommandsRun int    `json:"commands_run,omitempty"`
	Failures    int    `json:"failures,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// ResultSummary is the terminal aggregate of a job
type ResultSummary struct {
	Succeeded int                    `json:"succeeded"`
	Failed    int                    `json:"failed"`
	Error     string                 `json:"error,omitempty"`
	Commands  int                    `json:"commands,omitempty"`
	PerHost   map[string]HostOutcome `json:"per_host,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Job is a persistent record of a requested automation action. Rows are
// owned by the job store; all mutation goes through the job service and is
// gated by the CAS transition write.
type Job struct {
	ID         string          `json:"id" badgerhold:"key"`
	Type       JobType         `json:"type" badgerhold:"index"`
	Status     JobStatus       `json:"status" badgerhold:"index"`
	CustomerID string          `json:"customer_id" badgerhold:"index"`
	UserID     string          `json:"user_id"`
	RegionID   string          `json:"region_id,omitempty"` // Set only before dispatch, immutable after
	Targets    TargetFilters   `json:"targets"`
	Payload    json.RawMessage `json:"payload"`
	Result     *ResultSummary  `json:"result,omitempty"`

	RequestedAt  time.Time  `json:"requested_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the job has reached a terminal state
func (j *Job) IsTerminal() bool {
	return j.Status.IsTerminal()
}

// DecodePayload unmarshals the stored payload into a typed struct
func (j *Job) DecodePayload(v interface{}) error {
	if len(j.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(j.Payload, v)
}
