package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"github.com/ternarybob/fabrica/internal/storage/badger"
)

// Handler executes one job type against its resolved inventory and returns
// the result aggregate
type Handler func(ctx context.Context, job *models.Job, devices []*models.Device) (*models.ResultSummary, error)

// Processor is the worker runtime: it polls broker queues, routes messages
// to handlers by task name, and drives the running and terminal job
// transitions. Redeliveries of finished jobs are acknowledged and dropped,
// which is what makes at-least-once delivery safe end to end.
type Processor struct {
	broker     interfaces.Broker
	jobService *jobs.Service
	stores     *badger.Manager
	tenants    *tenant.Service
	events     interfaces.EventService
	driver     interfaces.DeviceDriver
	logger     arbor.ILogger

	queues         []string
	pollInterval   time.Duration
	maxHostWorkers int
	driverTimeout  time.Duration
	staleAfter     time.Duration

	handlers map[string]Handler

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewProcessor creates the worker processor and registers the built-in
// handlers
func NewProcessor(
	broker interfaces.Broker,
	jobService *jobs.Service,
	stores *badger.Manager,
	tenants *tenant.Service,
	events interfaces.EventService,
	driver interfaces.DeviceDriver,
	config *common.Config,
	logger arbor.ILogger,
) *Processor {
	maxHostWorkers := config.Workers.MaxHostWorkers
	if maxHostWorkers <= 0 {
		maxHostWorkers = 20
	}

	queues := append([]string(nil), config.Workers.Queues...)
	hasDefault := false
	for _, q := range queues {
		if q == config.Broker.DefaultQueue {
			hasDefault = true
		}
	}
	if !hasDefault {
		queues = append(queues, config.Broker.DefaultQueue)
	}

	p := &Processor{
		broker:         broker,
		jobService:     jobService,
		stores:         stores,
		tenants:        tenants,
		events:         events,
		driver:         driver,
		logger:         logger,
		queues:         queues,
		pollInterval:   common.Duration(config.Broker.PollInterval, time.Second),
		maxHostWorkers: maxHostWorkers,
		driverTimeout:  common.Duration(config.Workers.DriverTimeout, 30*time.Second),
		staleAfter:     common.Duration(config.Scheduler.ReconciliationThreshold, 2*time.Minute),
		handlers:       make(map[string]Handler),
	}
	p.handlers["tasks.run_commands"] = p.handleRunCommands
	p.handlers["tasks.config_backup"] = p.handleConfigBackup
	p.handlers["tasks.config_deploy_preview"] = p.handleDeployPreview
	p.handlers["tasks.config_deploy_commit"] = p.handleDeployCommit
	p.handlers["tasks.compliance_check"] = p.handleComplianceCheck
	p.handlers["tasks.topology_discovery"] = p.handleTopologyDiscovery
	p.handlers["tasks.check_reachability"] = p.handleCheckReachability
	return p
}

// Start launches one polling goroutine per consumed queue
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("processor already running")
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true

	var wg sync.WaitGroup
	for _, queue := range p.queues {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			p.consume(q)
		}(queue)
	}
	go func() {
		wg.Wait()
		close(p.done)
	}()

	p.logger.Info().
		Int("queues", len(p.queues)).
		Int("max_host_workers", p.maxHostWorkers).
		Msg("Worker processor started")
	return nil
}

// Stop terminates the polling loops and waits for in-flight jobs
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	p.mu.Unlock()
	<-p.done
	p.logger.Info().Msg("Worker processor stopped")
}

func (p *Processor) consume(queue string) {
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		ctx := context.Background()
		msg, receipt, err := p.broker.Receive(ctx, queue)
		if err != nil {
			if err != models.ErrNoMessage {
				p.logger.Error().Err(err).Str("queue", queue).Msg("Broker receive failed")
			}
			select {
			case <-p.stop:
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.Process(ctx, msg)
		if err := p.broker.Delete(ctx, queue, receipt); err != nil {
			p.logger.Warn().Err(err).Str("queue", queue).Str("job_id", msg.JobID).Msg("Failed to ack message")
		}
	}
}

// Process executes one task message end to end. Always returns having
// consumed the message; requeue-worthy failures are expressed by the job's
// status, not by broker redelivery.
func (p *Processor) Process(ctx context.Context, msg *models.TaskMessage) {
	handler, ok := p.handlers[msg.TaskName]
	if !ok {
		p.logger.Error().Str("task_name", msg.TaskName).Str("job_id", msg.JobID).Msg("No handler for task")
		return
	}

	job, err := p.stores.Jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		p.logger.Warn().Err(err).Str("job_id", msg.JobID).Msg("Job not found for message, dropping")
		return
	}

	// Idempotency guard: a redelivered message for a job already claimed or
	// finished is a duplicate, not work.
	if job.Status != models.JobStatusQueued {
		p.logger.Info().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Dropping duplicate delivery for non-queued job")
		return
	}

	job, err = p.jobService.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	if err != nil {
		// Lost the claim race to another worker.
		p.logger.Info().Err(err).Str("job_id", msg.JobID).Msg("Could not claim job, dropping")
		return
	}
	p.jobService.AppendLog(ctx, job.ID, models.LogInfo, "", fmt.Sprintf("Job started (type=%s)", job.Type))

	devices, err := p.stores.Devices.ResolveTargets(ctx, job.CustomerID, job.Targets)
	if err != nil {
		p.finish(ctx, job, &models.ResultSummary{Error: fmt.Sprintf("target resolution failed: %v", err)})
		return
	}
	if len(devices) == 0 {
		p.jobService.AppendLog(ctx, job.ID, models.LogError, "", "No devices matched the target filters")
		p.finish(ctx, job, &models.ResultSummary{Error: "no devices"})
		return
	}

	result, err := handler(ctx, job, devices)
	if err != nil {
		if result == nil {
			result = &models.ResultSummary{}
		}
		if result.Error == "" {
			result.Error = err.Error()
		}
	}
	p.finish(ctx, job, result)
}

// finish derives the terminal status from the aggregate and applies it
func (p *Processor) finish(ctx context.Context, job *models.Job, result *models.ResultSummary) {
	var status models.JobStatus
	switch {
	case result.Error != "" && result.Succeeded == 0:
		status = models.JobStatusFailed
	case result.Failed == 0 && result.Succeeded > 0:
		status = models.JobStatusSuccess
	case result.Succeeded > 0:
		status = models.JobStatusPartial
	default:
		status = models.JobStatusFailed
	}

	if _, err := p.jobService.SetStatus(ctx, job.ID, models.JobStatusRunning, status, result); err != nil {
		// A cancel can land between the last host and finalization; the
		// cancelled state wins and partial work stays in the logs.
		if errors.Is(err, interfaces.ErrStatusConflict) {
			if current, gerr := p.stores.Jobs.GetJob(ctx, job.ID); gerr == nil && current.Status == models.JobStatusCancelled {
				p.jobService.AppendLog(ctx, job.ID, models.LogWarn, "", "Job cancelled during execution")
				return
			}
		}
		p.logger.Error().Err(err).Str("job_id", job.ID).Str("status", string(status)).Msg("Failed to finalize job")
		return
	}
	p.jobService.AppendLog(ctx, job.ID, models.LogInfo, "",
		fmt.Sprintf("Job finished: %s (%d succeeded, %d failed)", status, result.Succeeded, result.Failed))
}

// ReconcileStartup handles jobs left running by a crashed worker. The
// at-least-once broker will redeliver their messages; jobs whose messages
// were consumed before the crash are marked failed so they do not hang
// forever. Runs on worker start, before consuming begins, because only the
// worker tier may drive a job to a terminal state.
func (p *Processor) ReconcileStartup(ctx context.Context) {
	running, err := p.stores.Jobs.ListRunning(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Startup reconciliation failed to list running jobs")
		return
	}
	for _, job := range running {
		if job.StartedAt != nil && time.Since(*job.StartedAt) < p.staleAfter {
			continue
		}
		result := &models.ResultSummary{Error: "orphaned by worker restart"}
		if _, err := p.jobService.SetStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusFailed, result); err != nil {
			p.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to fail orphaned job")
			continue
		}
		p.logger.Info().Str("job_id", job.ID).Msg("Orphaned running job marked failed")
	}
}

// cancelled reports whether the job was cancelled out from under the
// worker. Checked between hosts so cancellation lands at a host boundary.
func (p *Processor) cancelled(ctx context.Context, jobID string) bool {
	job, err := p.stores.Jobs.GetJob(ctx, jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

// hostFn runs a job's work on one connected device session
type hostFn func(ctx context.Context, device *models.Device, session interfaces.DriverSession) models.HostOutcome

// runPerHost fans work out across the inventory with a bounded worker
// pool: min(configured max, host count) goroutines. Each host gets its own
// driver session; outcomes are collected into the result summary.
func (p *Processor) runPerHost(ctx context.Context, job *models.Job, devices []*models.Device, fn hostFn) *models.ResultSummary {
	return p.fanOut(ctx, job, devices, func(ctx context.Context, device *models.Device) models.HostOutcome {
		return p.runHost(ctx, job, device, fn)
	})
}

// runPerHostDirect fans out without opening driver sessions, for probes
// that only need the device record
func (p *Processor) runPerHostDirect(ctx context.Context, job *models.Job, devices []*models.Device, fn func(ctx context.Context, device *models.Device) models.HostOutcome) *models.ResultSummary {
	return p.fanOut(ctx, job, devices, fn)
}

func (p *Processor) fanOut(ctx context.Context, job *models.Job, devices []*models.Device, fn func(ctx context.Context, device *models.Device) models.HostOutcome) *models.ResultSummary {
	workers := p.maxHostWorkers
	if len(devices) < workers {
		workers = len(devices)
	}

	type hostResult struct {
		hostname string
		outcome  models.HostOutcome
	}

	deviceCh := make(chan *models.Device)
	resultCh := make(chan hostResult, len(devices))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for device := range deviceCh {
				if p.cancelled(ctx, job.ID) {
					resultCh <- hostResult{
						hostname: device.Hostname,
						outcome:  models.HostOutcome{Error: "job cancelled"},
					}
					continue
				}
				resultCh <- hostResult{
					hostname: device.Hostname,
					outcome:  fn(ctx, device),
				}
			}
		}()
	}

	dispatched := 0
	for _, device := range devices {
		if p.cancelled(ctx, job.ID) {
			p.jobService.AppendLog(ctx, job.ID, models.LogWarn, "", "Cancellation observed, remaining hosts skipped")
			break
		}
		deviceCh <- device
		dispatched++
	}
	close(deviceCh)
	wg.Wait()
	close(resultCh)

	result := &models.ResultSummary{PerHost: make(map[string]models.HostOutcome)}
	for r := range resultCh {
		result.PerHost[r.hostname] = r.outcome
		result.Commands += r.outcome.CommandsRun
		if r.outcome.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
	}
	if dispatched < len(devices) {
		result.Failed += len(devices) - dispatched
	}
	return result
}

// runHost connects to one device and runs the job's work on it
func (p *Processor) runHost(ctx context.Context, job *models.Job, device *models.Device, fn hostFn) models.HostOutcome {
	username, password, enable, err := p.deviceCredentials(ctx, device)
	if err != nil {
		p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Credential lookup failed: %v", err))
		return models.HostOutcome{Error: fmt.Sprintf("credential lookup failed: %v", err)}
	}

	session, err := p.driver.Connect(ctx, device, username, password, enable)
	if err != nil {
		p.jobService.AppendLog(ctx, job.ID, models.LogError, device.Hostname, fmt.Sprintf("Connect failed: %v", err))
		return models.HostOutcome{Error: err.Error()}
	}
	defer session.Close()

	return fn(ctx, device, session)
}

func (p *Processor) deviceCredentials(ctx context.Context, device *models.Device) (username, password, enable string, err error) {
	cred, err := p.stores.Credentials.GetCredential(ctx, device.CredentialID)
	if err != nil {
		return "", "", "", err
	}
	password, err = p.tenants.DecryptSecret(cred.EncryptedPassword)
	if err != nil {
		return "", "", "", fmt.Errorf("failed to decrypt password: %w", err)
	}
	if cred.EncryptedEnable != "" {
		enable, err = p.tenants.DecryptSecret(cred.EncryptedEnable)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to decrypt enable password: %w", err)
		}
	}
	return cred.Username, password, enable, nil
}
