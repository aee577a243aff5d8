package models

import (
	"time"
)

// ConfigSnapshot is the output of a config_backup job for one device.
// Hash is the lowercase hex SHA-256 of the UTF-8 config text.
type ConfigSnapshot struct {
	ID          string    `json:"id" badgerhold:"key"`
	CustomerID  string    `json:"customer_id" badgerhold:"index"`
	DeviceID    string    `json:"device_id" badgerhold:"index"`
	JobID       string    `json:"job_id" badgerhold:"index"`
	Hostname    string    `json:"hostname"`
	SourceLabel string    `json:"source_label,omitempty"`
	Config      string    `json:"config"`
	Hash        string    `json:"hash"`
	SizeBytes   int       `json:"size_bytes"`
	TakenAt     time.Time `json:"taken_at"`
}

// ComplianceResult is a per-device verdict produced by a compliance_check
// job. Rule evaluation internals live outside the orchestrator; this is the
// opaque typed record it aggregates.
type ComplianceResult struct {
	ID         string    `json:"id" badgerhold:"key"`
	CustomerID string    `json:"customer_id" badgerhold:"index"`
	DeviceID   string    `json:"device_id" badgerhold:"index"`
	JobID      string    `json:"job_id" badgerhold:"index"`
	PolicyID   string    `json:"policy_id"`
	Hostname   string    `json:"hostname"`
	Compliant  bool      `json:"compliant"`
	Violations []string  `json:"violations,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// TopologyLink is a discovered adjacency. Rows are upserted keyed by
// (customer, local device, local interface, remote hostname, remote
// interface).
type TopologyLink struct {
	ID              string    `json:"id" badgerhold:"key"` // Composite upsert key
	CustomerID      string    `json:"customer_id" badgerhold:"index"`
	LocalDeviceID   string    `json:"local_device_id" badgerhold:"index"`
	LocalHostname   string    `json:"local_hostname"`
	LocalInterface  string    `json:"local_interface"`
	RemoteHostname  string    `json:"remote_hostname"`
	RemoteInterface string    `json:"remote_interface"`
	RemoteIP        string    `json:"remote_ip,omitempty"`
	Protocol        string    `json:"protocol"` // "cdp" or "lldp"
	JobID           string    `json:"job_id"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// LinkKey builds the deterministic upsert key for a topology link
func LinkKey(customerID, localDeviceID, localIfc, remoteHost, remoteIfc string) string {
	return customerID + "|" + localDeviceID + "|" + localIfc + "|" + remoteHost + "|" + remoteIfc
}
