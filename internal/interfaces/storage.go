package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/fabrica/internal/models"
)

// JobListOptions - filters and paging for job listing
type JobListOptions struct {
	CustomerIDs []string // Tenant scope, required
	Type        models.JobType
	Status      models.JobStatus
	Hostname    string // Substring match on target hostnames
	Skip        int
	Limit       int
}

// JobStorage - interface for job persistence
type JobStorage interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	ListJobs(ctx context.Context, opts JobListOptions) ([]*models.Job, int, error)

	// TransitionStatus performs a compare-and-swap status update: the job
	// moves to the new status only if its current status equals expected and
	// the transition is legal. Returns the updated job.
	TransitionStatus(ctx context.Context, id string, expected, next models.JobStatus) (*models.Job, error)

	// ListScheduledDue returns scheduled jobs whose scheduled_for is at or
	// before the cutoff, oldest first, up to limit.
	ListScheduledDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// ListQueuedBefore returns queued jobs whose requested_at precedes the
	// cutoff, for reconciliation.
	ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error)

	// ListRunning returns all running jobs, used for startup reconciliation.
	ListRunning(ctx context.Context) ([]*models.Job, error)
}

// JobLogStorage - interface for append-only job log rows
type JobLogStorage interface {
	// AppendLog assigns the row ID and a UTC millisecond timestamp server-side.
	AppendLog(ctx context.Context, log *models.JobLog) error
	// ListLogs returns rows for a job ascending by timestamp. A zero sinceTS
	// returns from the beginning.
	ListLogs(ctx context.Context, jobID string, sinceTS time.Time, limit int) ([]*models.JobLog, error)
	// DeleteLogsBefore removes rows older than the cutoff, returning the count.
	DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CustomerStorage - interface for customer records
type CustomerStorage interface {
	CreateCustomer(ctx context.Context, customer *models.Customer) error
	GetCustomer(ctx context.Context, id string) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, customer *models.Customer) error
	DeleteCustomer(ctx context.Context, id string) error
	ListCustomers(ctx context.Context) ([]*models.Customer, error)
}

// UserStorage - interface for user accounts
type UserStorage interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, user *models.User) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context, customerID string) ([]*models.User, error)
}

// CredentialStorage - interface for device credential sets
type CredentialStorage interface {
	CreateCredential(ctx context.Context, cred *models.Credential) error
	GetCredential(ctx context.Context, id string) (*models.Credential, error)
	UpdateCredential(ctx context.Context, cred *models.Credential) error
	DeleteCredential(ctx context.Context, id string) error
	ListCredentials(ctx context.Context, customerID string) ([]*models.Credential, error)
}

// DeviceStorage - interface for device inventory
type DeviceStorage interface {
	CreateDevice(ctx context.Context, device *models.Device) error
	GetDevice(ctx context.Context, id string) (*models.Device, error)
	UpdateDevice(ctx context.Context, device *models.Device) error
	DeleteDevice(ctx context.Context, id string) error
	ListDevices(ctx context.Context, customerID string) ([]*models.Device, error)
	// ResolveTargets returns enabled devices in the customer matching the
	// filters. Filters are conjunctive; empty filters target the full
	// enabled fleet.
	ResolveTargets(ctx context.Context, customerID string, filters models.TargetFilters) ([]*models.Device, error)
}

// RegionStorage - interface for execution regions
type RegionStorage interface {
	CreateRegion(ctx context.Context, region *models.Region) error
	GetRegion(ctx context.Context, id string) (*models.Region, error)
	GetRegionByIdentifier(ctx context.Context, identifier string) (*models.Region, error)
	UpdateRegion(ctx context.Context, region *models.Region) error
	DeleteRegion(ctx context.Context, id string) error
	ListRegions(ctx context.Context) ([]*models.Region, error)
}

// IPRangeStorage - interface for customer IP range ownership
type IPRangeStorage interface {
	CreateIPRange(ctx context.Context, r *models.IPRange) error
	DeleteIPRange(ctx context.Context, id string) error
	ListIPRanges(ctx context.Context, customerID string) ([]*models.IPRange, error)
	ListAllIPRanges(ctx context.Context) ([]*models.IPRange, error)
}

// ScheduleStorage - interface for recurrence descriptors
type ScheduleStorage interface {
	CreateSchedule(ctx context.Context, schedule *models.Schedule) error
	GetSchedule(ctx context.Context, id string) (*models.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *models.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, customerID string) ([]*models.Schedule, error)
	// ListDue returns enabled schedules whose next_fire_at is at or before
	// the cutoff.
	ListDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Schedule, error)
}

// SnapshotStorage - interface for config backups
type SnapshotStorage interface {
	CreateSnapshot(ctx context.Context, snap *models.ConfigSnapshot) error
	GetSnapshot(ctx context.Context, id string) (*models.ConfigSnapshot, error)
	// LatestSnapshot returns the most recent snapshot for a device, or nil.
	LatestSnapshot(ctx context.Context, deviceID string) (*models.ConfigSnapshot, error)
	ListSnapshots(ctx context.Context, deviceID string, limit int) ([]*models.ConfigSnapshot, error)
}

// ComplianceStorage - interface for compliance verdicts
type ComplianceStorage interface {
	CreateResult(ctx context.Context, result *models.ComplianceResult) error
	ListResultsByJob(ctx context.Context, jobID string) ([]*models.ComplianceResult, error)
	ListResultsByDevice(ctx context.Context, deviceID string, limit int) ([]*models.ComplianceResult, error)
}

// TopologyStorage - interface for discovered adjacencies
type TopologyStorage interface {
	// UpsertLink inserts the link or refreshes last_seen on the existing row.
	UpsertLink(ctx context.Context, link *models.TopologyLink) error
	ListLinks(ctx context.Context, customerID string) ([]*models.TopologyLink, error)
	ListLinksByDevice(ctx context.Context, deviceID string) ([]*models.TopologyLink, error)
}

// DiscoveredDeviceStorage - interface for discovery staging rows
type DiscoveredDeviceStorage interface {
	UpsertDiscovered(ctx context.Context, d *models.DiscoveredDevice) error
	GetDiscovered(ctx context.Context, id string) (*models.DiscoveredDevice, error)
	UpdateDiscovered(ctx context.Context, d *models.DiscoveredDevice) error
	ListDiscovered(ctx context.Context, customerID string, state string) ([]*models.DiscoveredDevice, error)
}

// SubscriptionStorage - interface for event subscriptions
type SubscriptionStorage interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id string) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	DeleteSubscription(ctx context.Context, id string) error
	ListSubscriptions(ctx context.Context, customerID string) ([]*models.Subscription, error)
}

// DeliveryStorage - interface for durable event delivery rows
type DeliveryStorage interface {
	CreateDelivery(ctx context.Context, d *models.Delivery) error
	UpdateDelivery(ctx context.Context, d *models.Delivery) error
	// ListPendingDue returns pending deliveries whose next_attempt_at is at
	// or before the cutoff.
	ListPendingDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Delivery, error)
}
