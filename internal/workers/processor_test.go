package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/drivers"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/queue"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"github.com/ternarybob/fabrica/internal/storage/badger"
)

type processorFixture struct {
	processor  *Processor
	jobService *jobs.Service
	stores     *badger.Manager
	broker     *queue.Broker
	events     interfaces.EventService
	tenants    *tenant.Service
	config     *common.Config
	logger     arbor.ILogger
	driver     *drivers.FakeDriver
	tc         *models.TenantContext
}

// withDriver builds a second processor over the fixture's stores with a
// different device driver
func (f *processorFixture) withDriver(driver interfaces.DeviceDriver) *Processor {
	return NewProcessor(f.broker, f.jobService, f.stores, f.tenants, f.events, driver, f.config, f.logger)
}

func setupTestProcessor(t *testing.T) *processorFixture {
	t.Helper()

	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Broker.DefaultQueue = "test_default"
	config.Workers.MaxHostWorkers = 4

	stores, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	broker, err := queue.NewBroker(stores.DB().Store().Badger(), logger, &config.Broker)
	require.NoError(t, err)

	eventService := events.NewService(logger)
	tenants, err := tenant.NewService(stores.Users, stores.Customers, stores.IPRanges, &common.AuthConfig{
		JWTSecret:       "test-secret",
		EncryptionKey:   "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "1h",
		BcryptCost:      4,
	}, logger)
	require.NoError(t, err)

	jobService := jobs.NewService(
		stores.Jobs, stores.JobLogs, stores.Regions, stores.Customers, stores.Devices,
		broker, eventService, jobs.NewRegistry(), config.Broker.DefaultQueue, logger,
	)

	driver := drivers.NewFakeDriver()
	processor := NewProcessor(broker, jobService, stores, tenants, eventService, driver, config, logger)

	tc := &models.TenantContext{
		User:                  &models.User{ID: "user-1", Role: models.RoleOperator},
		Role:                  models.RoleOperator,
		CustomerID:            "cust-a",
		AccessibleCustomerIDs: []string{"cust-a"},
	}

	// A shared credential every test device references
	encrypted, err := tenants.EncryptSecret("device-pass")
	require.NoError(t, err)
	require.NoError(t, stores.Credentials.CreateCredential(context.Background(), &models.Credential{
		ID:                "cred-1",
		CustomerID:        "cust-a",
		Name:              "lab",
		Username:          "netops",
		EncryptedPassword: encrypted,
		CreatedAt:         time.Now().UTC(),
	}))

	return &processorFixture{
		processor:  processor,
		jobService: jobService,
		stores:     stores,
		broker:     broker,
		events:     eventService,
		tenants:    tenants,
		config:     config,
		logger:     logger,
		driver:     driver,
		tc:         tc,
	}
}

func (f *processorFixture) addDevice(t *testing.T, hostname string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, f.stores.Devices.CreateDevice(context.Background(), &models.Device{
		ID:           common.NewID(),
		CustomerID:   "cust-a",
		Hostname:     hostname,
		ManagementIP: "10.20.1.1",
		Vendor:       "cisco",
		Platform:     "ios",
		Site:         "syd-dc1",
		Enabled:      true,
		CredentialID: "cred-1",
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
}

func (f *processorFixture) createCommandJob(t *testing.T, commands ...string) *models.Job {
	t.Helper()
	payload, err := json.Marshal(models.RunCommandsPayload{Commands: commands})
	require.NoError(t, err)
	job, err := f.jobService.Create(context.Background(), f.tc, jobs.CreateRequest{
		Type:    models.JobTypeRunCommands,
		Targets: models.TargetFilters{Site: "syd-dc1"},
		Payload: payload,
	})
	require.NoError(t, err)
	return job
}

func (f *processorFixture) message(job *models.Job) *models.TaskMessage {
	return &models.TaskMessage{
		TaskName:   "tasks.run_commands",
		JobID:      job.ID,
		Queue:      "test_default",
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestProcess_AllHostsSucceed(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	f.addDevice(t, "sw-02")
	f.driver.SetOutput("sw-01", "show version", "IOS 15.2")
	f.driver.SetOutput("sw-02", "show version", "IOS 15.2")

	job := f.createCommandJob(t, "show version")
	f.processor.Process(ctx, f.message(job))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, 2, done.Result.Succeeded)
	assert.Equal(t, 0, done.Result.Failed)
	assert.True(t, done.Result.PerHost["sw-01"].Success)
	assert.Equal(t, []string{"show version"}, f.driver.RanCommands("sw-01"))
}

func TestProcess_PartialWhenOneHostFails(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	f.addDevice(t, "sw-02")
	f.driver.FailConnect("sw-02", "connection refused")

	job := f.createCommandJob(t, "show version")
	f.processor.Process(ctx, f.message(job))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPartial, done.Status)
	assert.Equal(t, 1, done.Result.Succeeded)
	assert.Equal(t, 1, done.Result.Failed)
	assert.False(t, done.Result.PerHost["sw-02"].Success)
	assert.Contains(t, done.Result.PerHost["sw-02"].Error, "connection refused")
}

func TestProcess_FailedWhenAllHostsFail(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	f.driver.FailConnect("sw-01", "connection refused")

	job := f.createCommandJob(t, "show version")
	f.processor.Process(ctx, f.message(job))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
}

func TestProcess_EmptyInventoryFails(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()

	// No device matches the site filter
	job := f.createCommandJob(t, "show version")
	f.processor.Process(ctx, f.message(job))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	require.NotNil(t, done.Result)
	assert.Equal(t, "no devices", done.Result.Error)
}

func TestProcess_DuplicateDeliveryDropped(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	f.driver.SetOutput("sw-01", "show version", "IOS 15.2")

	job := f.createCommandJob(t, "show version")
	msg := f.message(job)
	f.processor.Process(ctx, msg)
	f.processor.Process(ctx, msg)

	// The redelivery must not run the commands a second time
	assert.Equal(t, []string{"show version"}, f.driver.RanCommands("sw-01"))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, done.Status)
}

func TestProcess_UnknownTaskIgnored(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")

	job := f.createCommandJob(t, "show version")
	f.processor.Process(ctx, &models.TaskMessage{
		TaskName: "tasks.defragment_flash",
		JobID:    job.ID,
		Queue:    "test_default",
	})

	// The job was never claimed
	got, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, got.Status)
}

func TestProcess_ConfigBackupLogsSnapshotSize(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	running := "hostname sw-01\ninterface Gi0/1\n"
	f.driver.SetOutput("sw-01", showRunningConfig, running)

	payload, err := json.Marshal(models.ConfigBackupPayload{SourceLabel: "nightly"})
	require.NoError(t, err)
	job, err := f.jobService.Create(ctx, f.tc, jobs.CreateRequest{
		Type:    models.JobTypeConfigBackup,
		Targets: models.TargetFilters{Site: "syd-dc1"},
		Payload: payload,
	})
	require.NoError(t, err)

	f.processor.Process(ctx, &models.TaskMessage{
		TaskName:   "tasks.config_backup",
		JobID:      job.ID,
		Queue:      "test_default",
		EnqueuedAt: time.Now().UTC(),
	})

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, done.Status)

	logs, err := f.stores.JobLogs.ListLogs(ctx, job.ID, time.Time{}, 0)
	require.NoError(t, err)
	messages := make([]string, 0, len(logs))
	for _, entry := range logs {
		messages = append(messages, entry.Message)
	}
	assert.Contains(t, messages, fmt.Sprintf("Backed up config (%d bytes)", len(running)))
	assert.True(t, done.Result.PerHost["sw-01"].Success)
}

// deadlineDriver records how much time remains on the command context when
// each command runs
type deadlineDriver struct {
	mu        sync.Mutex
	remaining []time.Duration
}

func (d *deadlineDriver) Name() string { return "deadline" }

func (d *deadlineDriver) Connect(ctx context.Context, device *models.Device, username, password, enable string) (interfaces.DriverSession, error) {
	return &deadlineSession{driver: d}, nil
}

type deadlineSession struct{ driver *deadlineDriver }

func (s *deadlineSession) Run(ctx context.Context, command string) (string, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	var remaining time.Duration
	if deadline, ok := ctx.Deadline(); ok {
		remaining = time.Until(deadline)
	}
	s.driver.remaining = append(s.driver.remaining, remaining)
	return "ok", nil
}

func (s *deadlineSession) Close() error { return nil }

func TestProcess_PayloadTimeoutBoundsEachCommand(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")

	payload, err := json.Marshal(models.RunCommandsPayload{
		Commands:       []string{"show version"},
		TimeoutSeconds: 120,
	})
	require.NoError(t, err)
	job, err := f.jobService.Create(ctx, f.tc, jobs.CreateRequest{
		Type:    models.JobTypeRunCommands,
		Targets: models.TargetFilters{Site: "syd-dc1"},
		Payload: payload,
	})
	require.NoError(t, err)

	driver := &deadlineDriver{}
	f.withDriver(driver).Process(ctx, f.message(job))

	require.Len(t, driver.remaining, 1)
	assert.Greater(t, driver.remaining[0], 110*time.Second)
	assert.LessOrEqual(t, driver.remaining[0], 120*time.Second)
}

func TestProcess_DefaultCommandTimeoutApplies(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")

	// No timeout in the payload: the configured driver default (30s) bounds
	// the command
	job := f.createCommandJob(t, "show version")
	driver := &deadlineDriver{}
	f.withDriver(driver).Process(ctx, f.message(job))

	require.Len(t, driver.remaining, 1)
	assert.Greater(t, driver.remaining[0], 20*time.Second)
	assert.LessOrEqual(t, driver.remaining[0], 30*time.Second)
}

// cancellingDriver cancels its own job through the service on the first
// command, the way an operator cancel lands mid-run
type cancellingDriver struct {
	fixture *processorFixture
	jobID   string
	mu      sync.Mutex
	runs    int
}

func (d *cancellingDriver) Name() string { return "cancelling" }

func (d *cancellingDriver) Connect(ctx context.Context, device *models.Device, username, password, enable string) (interfaces.DriverSession, error) {
	return &cancellingSession{driver: d}, nil
}

type cancellingSession struct{ driver *cancellingDriver }

func (s *cancellingSession) Run(ctx context.Context, command string) (string, error) {
	d := s.driver
	d.mu.Lock()
	d.runs++
	first := d.runs == 1
	d.mu.Unlock()
	if first {
		if _, err := d.fixture.jobService.Cancel(context.Background(), d.fixture.tc, d.jobID); err != nil {
			return "", err
		}
	}
	return "ok", nil
}

func (s *cancellingSession) Close() error { return nil }

func TestProcess_CancelSkipsRemainingHosts(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.config.Workers.MaxHostWorkers = 1
	f.addDevice(t, "sw-01")
	f.addDevice(t, "sw-02")

	job := f.createCommandJob(t, "show version")
	driver := &cancellingDriver{fixture: f, jobID: job.ID}
	f.withDriver(driver).Process(ctx, f.message(job))

	// Only the first host ran; the cancelled state survives finalization
	assert.Equal(t, 1, driver.runs)
	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, done.Status)
	require.NotNil(t, done.FinishedAt)
}

func TestReconcileStartup(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()

	makeRunning := func() *models.Job {
		job := f.createCommandJob(t, "show version")
		running, err := f.jobService.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
		require.NoError(t, err)
		return running
	}

	fresh := makeRunning()
	orphan := makeRunning()
	stale := time.Now().UTC().Add(-time.Hour)
	orphan.StartedAt = &stale
	require.NoError(t, f.stores.Jobs.UpdateJob(ctx, orphan))

	f.processor.ReconcileStartup(ctx)

	got, err := f.stores.Jobs.GetJob(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, "orphaned by worker restart", got.Result.Error)

	// A recently started job is still its worker's to finish
	got, err = f.stores.Jobs.GetJob(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestProcess_RunsCommandsInOrder(t *testing.T) {
	f := setupTestProcessor(t)
	ctx := context.Background()
	f.addDevice(t, "sw-01")
	f.driver.SetOutput("sw-01", "show version", "IOS 15.2")

	job := f.createCommandJob(t, "show version", "show inventory")
	f.processor.Process(ctx, f.message(job))

	done, err := f.stores.Jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, done.Status)
	assert.Equal(t, []string{"show version", "show inventory"}, f.driver.RanCommands("sw-01"))
	assert.Equal(t, 2, done.Result.PerHost["sw-01"].CommandsRun)
}
