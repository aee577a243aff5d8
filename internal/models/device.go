package models

import (
	"time"
)

// Device is a managed network element. Hostname is unique within its
// customer; management IPs are not required to be unique.
type Device struct {
	ID           string    `json:"id" badgerhold:"key"`
	CustomerID   string    `json:"customer_id" badgerhold:"index"`
	Hostname     string    `json:"hostname" badgerhold:"index"`
	ManagementIP string    `json:"management_ip"`
	Vendor       string    `json:"vendor"`
	Platform     string    `json:"platform"`
	Role         string    `json:"role,omitempty"`
	Site         string    `json:"site,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	Enabled      bool      `json:"enabled"`
	RegionID     string    `json:"region_id,omitempty"`
	CredentialID string    `json:"credential_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasTag reports whether the device carries the given tag
func (d *Device) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// RegionHealth is the operational state of a worker pool
type RegionHealth string

const (
	RegionHealthy  RegionHealth = "healthy"
	RegionDegraded RegionHealth = "degraded"
	RegionOffline  RegionHealth = "offline"
)

// Region is a named worker pool identified by a broker queue name, with
// priority and health used for routing.
type Region struct {
	ID         string       `json:"id" badgerhold:"key"`
	Name       string       `json:"name"`
	Identifier string       `json:"identifier" badgerhold:"index"`
	Priority   int          `json:"priority"`
	Enabled    bool         `json:"enabled"`
	Health     RegionHealth `json:"health"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// QueueName returns the broker queue this region's workers consume
func (r *Region) QueueName() string {
	return "region_" + r.Identifier
}

// Available reports whether the region can receive dispatches
func (r *Region) Available() bool {
	return r.Enabled && r.Health != RegionOffline
}

// DiscoveredDevice is an unknown neighbor found during topology discovery,
// held in pending state until an operator promotes or discards it.
type DiscoveredDevice struct {
	ID              string    `json:"id" badgerhold:"key"`
	CustomerID      string    `json:"customer_id" badgerhold:"index"`
	JobID           string    `json:"job_id" badgerhold:"index"`
	Hostname        string    `json:"hostname"`
	ManagementIP    string    `json:"management_ip,omitempty"`
	Platform        string    `json:"platform,omitempty"`
	SeenVia         string    `json:"seen_via"` // Local device hostname that reported the neighbor
	State           string    `json:"state"`    // "pending", "promoted", "discarded"
	FirstDiscovered time.Time `json:"first_discovered"`
	LastSeen        time.Time `json:"last_seen"`
}
