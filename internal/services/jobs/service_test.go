package jobs

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/queue"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/storage/badger"
)

const testQueue = "test_default"

func setupTestJobService(t *testing.T) (*Service, *queue.Broker, *badger.Manager) {
	t.Helper()

	logger := arbor.NewLogger()
	stores, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	broker, err := queue.NewBroker(stores.DB().Store().Badger(), logger, &common.BrokerConfig{
		VisibilityTimeout: "5m",
		MaxReceive:        3,
		DefaultQueue:      testQueue,
	})
	require.NoError(t, err)

	service := NewService(
		stores.Jobs,
		stores.JobLogs,
		stores.Regions,
		stores.Customers,
		stores.Devices,
		broker,
		events.NewService(logger),
		NewRegistry(),
		testQueue,
		logger,
	)
	return service, broker, stores
}

func operatorContext(customerID string) *models.TenantContext {
	return &models.TenantContext{
		User:                  &models.User{ID: "user-1", Email: "ops@example.com", Role: models.RoleOperator},
		Role:                  models.RoleOperator,
		CustomerID:            customerID,
		AccessibleCustomerIDs: []string{customerID},
	}
}

func addTestRegion(t *testing.T, stores *badger.Manager, identifier string, priority int) *models.Region {
	t.Helper()
	now := time.Now().UTC()
	region := &models.Region{
		ID:         "reg-" + identifier,
		Name:       identifier,
		Identifier: identifier,
		Priority:   priority,
		Enabled:    true,
		Health:     models.RegionHealthy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, stores.Regions.CreateRegion(context.Background(), region))
	return region
}

func addTestDevice(t *testing.T, stores *badger.Manager, hostname, site, regionID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, stores.Devices.CreateDevice(context.Background(), &models.Device{
		ID:           common.NewID(),
		CustomerID:   "cust-a",
		Hostname:     hostname,
		ManagementIP: "10.20.1.1",
		Vendor:       "cisco",
		Platform:     "ios",
		Site:         site,
		Enabled:      true,
		RegionID:     regionID,
		CredentialID: "cred-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func commandRequest() CreateRequest {
	return CreateRequest{
		Type:    models.JobTypeRunCommands,
		Targets: models.TargetFilters{Site: "syd-dc1"},
		Payload: json.RawMessage(`{"commands":["show version"]}`),
	}
}

func TestCreate_QueuedAndDispatched(t *testing.T) {
	service, broker, _ := setupTestJobService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, operatorContext("cust-a"), commandRequest())
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, "cust-a", job.CustomerID)
	assert.Equal(t, "user-1", job.UserID)

	// No regions configured: the task lands on the default queue
	msg, _, err := broker.Receive(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
	assert.Equal(t, "tasks.run_commands", msg.TaskName)
}

func TestCreate_DeferredStaysScheduled(t *testing.T) {
	service, broker, _ := setupTestJobService(t)
	ctx := context.Background()

	future := time.Now().Add(time.Hour)
	req := commandRequest()
	req.ScheduledFor = &future

	job, err := service.Create(ctx, operatorContext("cust-a"), req)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, job.Status)
	require.NotNil(t, job.ScheduledFor)

	// Deferred jobs are not dispatched; the scheduler releases them
	_, _, err = broker.Receive(ctx, testQueue)
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestCreate_RequiresCustomerScope(t *testing.T) {
	service, _, _ := setupTestJobService(t)

	admin := &models.TenantContext{
		User: &models.User{ID: "admin-1", Role: models.RoleAdmin},
		Role: models.RoleAdmin,
	}
	_, err := service.Create(context.Background(), admin, commandRequest())
	assert.Error(t, err)
}

func TestCreate_InvalidPayloadRejected(t *testing.T) {
	service, _, _ := setupTestJobService(t)

	req := commandRequest()
	req.Payload = json.RawMessage(`{"commands":[]}`)
	_, err := service.Create(context.Background(), operatorContext("cust-a"), req)
	assert.Error(t, err)
}

func TestGet_CrossTenantSeesNotFound(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()

	job, err := service.Create(ctx, operatorContext("cust-a"), commandRequest())
	require.NoError(t, err)

	got, err := service.Get(ctx, operatorContext("cust-a"), job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = service.Get(ctx, operatorContext("cust-b"), job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = service.Get(ctx, operatorContext("cust-a"), "no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestCancel(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()
	tc := operatorContext("cust-a")

	job, err := service.Create(ctx, tc, commandRequest())
	require.NoError(t, err)

	cancelled, err := service.Cancel(ctx, tc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)

	// Cancel is not idempotent: the job is already terminal
	_, err = service.Cancel(ctx, tc, job.ID)
	assert.ErrorIs(t, err, ErrJobNotCancellable)
}

func TestCancel_RunningJobMarkedCancelled(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()
	tc := operatorContext("cust-a")

	job, err := service.Create(ctx, tc, commandRequest())
	require.NoError(t, err)
	_, err = service.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	require.NoError(t, err)

	// The worker observes the cancelled state between hosts
	cancelled, err := service.Cancel(ctx, tc, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.FinishedAt)

	// The worker can no longer finalize a cancelled job
	_, err = service.SetStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusSuccess, nil)
	assert.Error(t, err)
}

func TestRetry(t *testing.T) {
	service, broker, _ := setupTestJobService(t)
	ctx := context.Background()
	tc := operatorContext("cust-a")

	job, err := service.Create(ctx, tc, commandRequest())
	require.NoError(t, err)

	// A queued job cannot be retried
	_, err = service.Retry(ctx, tc, job.ID)
	assert.Error(t, err)

	_, err = service.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	require.NoError(t, err)
	_, err = service.SetStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed, &models.ResultSummary{Failed: 1})
	require.NoError(t, err)

	// Drain the original dispatch before asserting the retry's
	_, receipt, err := broker.Receive(ctx, testQueue)
	require.NoError(t, err)
	require.NoError(t, broker.Delete(ctx, testQueue, receipt))

	clone, err := service.Retry(ctx, tc, job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, clone.ID)
	assert.Equal(t, models.JobStatusQueued, clone.Status)
	assert.Equal(t, job.Type, clone.Type)
	assert.Equal(t, job.Targets, clone.Targets)

	msg, _, err := broker.Receive(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, clone.ID, msg.JobID)
}

func TestSetStatus_StampsResult(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()
	tc := operatorContext("cust-a")

	job, err := service.Create(ctx, tc, commandRequest())
	require.NoError(t, err)
	_, err = service.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	require.NoError(t, err)

	done, err := service.SetStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusSuccess, &models.ResultSummary{Succeeded: 3})
	require.NoError(t, err)
	require.NotNil(t, done.Result)
	assert.Equal(t, 3, done.Result.Succeeded)

	got, err := service.Get(ctx, tc, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Result)
	assert.Equal(t, 3, got.Result.Succeeded)
}

func TestList_TenantScoping(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()

	_, err := service.Create(ctx, operatorContext("cust-a"), commandRequest())
	require.NoError(t, err)
	_, err = service.Create(ctx, operatorContext("cust-b"), commandRequest())
	require.NoError(t, err)

	jobs, total, err := service.List(ctx, operatorContext("cust-a"), interfaces.JobListOptions{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "cust-a", jobs[0].CustomerID)
}

func TestLogs(t *testing.T) {
	service, _, _ := setupTestJobService(t)
	ctx := context.Background()
	tc := operatorContext("cust-a")

	job, err := service.Create(ctx, tc, commandRequest())
	require.NoError(t, err)
	service.AppendLog(ctx, job.ID, models.LogInfo, "sw-01", "Connected")
	service.AppendLog(ctx, job.ID, models.LogError, "sw-02", "Connection refused")

	logs, err := service.Logs(ctx, tc, job.ID, time.Time{}, 50)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	hosts := []string{logs[0].Host, logs[1].Host}
	assert.ElementsMatch(t, []string{"sw-01", "sw-02"}, hosts)

	// Cross-tenant log reads see not-found
	_, err = service.Logs(ctx, operatorContext("cust-b"), job.ID, time.Time{}, 50)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDispatch_RoutesToDeviceRegion(t *testing.T) {
	service, broker, stores := setupTestJobService(t)
	ctx := context.Background()

	// Melbourne outranks Sydney but holds none of the targets
	syd := addTestRegion(t, stores, "syd", 10)
	addTestRegion(t, stores, "mel", 100)
	addTestDevice(t, stores, "sw-01", "syd-dc1", syd.ID)

	job, err := service.Create(ctx, operatorContext("cust-a"), commandRequest())
	require.NoError(t, err)

	routed, err := service.Get(ctx, operatorContext("cust-a"), job.ID)
	require.NoError(t, err)
	assert.Equal(t, syd.ID, routed.RegionID)

	msg, _, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
}

func TestDispatch_UnplacedDevicesUseDefaultQueue(t *testing.T) {
	service, broker, stores := setupTestJobService(t)
	ctx := context.Background()

	// A healthy high-priority region with none of the targets in it must
	// not attract the job
	addTestRegion(t, stores, "mel", 100)
	addTestDevice(t, stores, "sw-01", "syd-dc1", "")

	job, err := service.Create(ctx, operatorContext("cust-a"), commandRequest())
	require.NoError(t, err)

	routed, err := service.Get(ctx, operatorContext("cust-a"), job.ID)
	require.NoError(t, err)
	assert.Empty(t, routed.RegionID)

	msg, _, err := broker.Receive(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
}

func TestDispatch_FleetWideJobStaysOnDefaultQueue(t *testing.T) {
	service, broker, stores := setupTestJobService(t)
	ctx := context.Background()

	syd := addTestRegion(t, stores, "syd", 10)
	addTestDevice(t, stores, "sw-01", "syd-dc1", syd.ID)

	// Empty filters target the whole fleet; no single region preference
	req := commandRequest()
	req.Targets = models.TargetFilters{}
	job, err := service.Create(ctx, operatorContext("cust-a"), req)
	require.NoError(t, err)

	routed, err := service.Get(ctx, operatorContext("cust-a"), job.ID)
	require.NoError(t, err)
	assert.Empty(t, routed.RegionID)

	msg, _, err := broker.Receive(ctx, testQueue)
	require.NoError(t, err)
	assert.Equal(t, job.ID, msg.JobID)
}
