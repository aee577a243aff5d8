package models

// Typed payloads, one per job type. Validated with go-playground/validator
// at the create boundary and decoded again at the execute boundary; the
// persisted form is the JSON column on the Job row.

// RunCommandsPayload parameters for run_commands
type RunCommandsPayload struct {
	Commands       []string `json:"commands" validate:"required,min=1,dive,required"`
	TimeoutSeconds int      `json:"timeout,omitempty" validate:"omitempty,min=1,max=3600"`
}

// ConfigBackupPayload parameters for config_backup
type ConfigBackupPayload struct {
	SourceLabel string `json:"source_label,omitempty"`
}

// DeployMode controls how a snippet is applied
type DeployMode string

const (
	DeployModeMerge   DeployMode = "merge"
	DeployModeReplace DeployMode = "replace"
)

// ConfigDeployPayload parameters for config_deploy_preview and
// config_deploy_commit. PreviousJobID is required for commit and must
// reference a successful preview job in the same customer.
type ConfigDeployPayload struct {
	Mode          DeployMode `json:"mode" validate:"required,oneof=merge replace"`
	Snippet       string     `json:"snippet" validate:"required"`
	PreviousJobID string     `json:"previous_job_id,omitempty"`
}

// ComplianceCheckPayload parameters for compliance_check
type ComplianceCheckPayload struct {
	PolicyID string `json:"policy_id" validate:"required"`
}

// DiscoveryProtocol selects the neighbor protocol(s) queried
type DiscoveryProtocol string

const (
	DiscoveryCDP  DiscoveryProtocol = "cdp"
	DiscoveryLLDP DiscoveryProtocol = "lldp"
	DiscoveryBoth DiscoveryProtocol = "both"
)

// TopologyDiscoveryPayload parameters for topology_discovery
type TopologyDiscoveryPayload struct {
	Protocol          DiscoveryProtocol `json:"protocol" validate:"required,oneof=cdp lldp both"`
	AutoCreateDevices bool              `json:"auto_create_devices"`
}

// CheckReachabilityPayload parameters for check_reachability
type CheckReachabilityPayload struct {
	TimeoutSeconds int `json:"timeout,omitempty" validate:"omitempty,min=1,max=300"`
}
