package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/router"
)

var (
	// ErrJobNotCancellable is returned when cancel hits a job that already
	// reached a terminal state
	ErrJobNotCancellable = errors.New("job can no longer be cancelled")
	// ErrJobNotFound mirrors the storage not-found for handler mapping
	ErrJobNotFound = errors.New("job not found")
)

// CreateRequest carries the inputs of a job creation
type CreateRequest struct {
	Type         models.JobType
	Targets      models.TargetFilters
	Payload      json.RawMessage
	ScheduledFor *time.Time
}

// Service owns the job lifecycle: creation, routed dispatch, the CAS status
// transitions, and the events they emit. Workers and the scheduler mutate
// jobs only through this service.
type Service struct {
	store        interfaces.JobStorage
	logs         interfaces.JobLogStorage
	regions      interfaces.RegionStorage
	customers    interfaces.CustomerStorage
	devices      interfaces.DeviceStorage
	broker       interfaces.Broker
	events       interfaces.EventService
	registry     *Registry
	logger       arbor.ILogger
	defaultQueue string
}

// NewService creates the job service
func NewService(
	store interfaces.JobStorage,
	logs interfaces.JobLogStorage,
	regions interfaces.RegionStorage,
	customers interfaces.CustomerStorage,
	devices interfaces.DeviceStorage,
	broker interfaces.Broker,
	events interfaces.EventService,
	registry *Registry,
	defaultQueue string,
	logger arbor.ILogger,
) *Service {
	return &Service{
		store:        store,
		logs:         logs,
		regions:      regions,
		customers:    customers,
		devices:      devices,
		broker:       broker,
		events:       events,
		registry:     registry,
		logger:       logger,
		defaultQueue: defaultQueue,
	}
}

// Create validates, persists, and (unless deferred) dispatches a new job.
// A broker outage does not fail creation: the job stays queued and the
// scheduler re-dispatches it.
func (s *Service) Create(ctx context.Context, tc *models.TenantContext, req CreateRequest) (*models.Job, error) {
	if tc.CustomerID == "" {
		return nil, fmt.Errorf("job creation requires a customer scope")
	}

	payload, err := s.registry.ValidatePayload(req.Type, req.Payload)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:          common.NewID(),
		Type:        req.Type,
		CustomerID:  tc.CustomerID,
		UserID:      tc.User.ID,
		Targets:     req.Targets,
		Payload:     payload,
		RequestedAt: now,
	}

	deferred := req.ScheduledFor != nil && req.ScheduledFor.After(now)
	if deferred {
		scheduledFor := req.ScheduledFor.UTC()
		job.Status = models.JobStatusScheduled
		job.ScheduledFor = &scheduledFor
	} else {
		job.Status = models.JobStatusQueued
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("customer_id", job.CustomerID).
		Str("status", string(job.Status)).
		Msg("Job created")
	s.publishEvent(ctx, models.EventJobCreated, job)

	if !deferred {
		s.Dispatch(ctx, job)
	}
	return job, nil
}

// CreateFromTemplate creates and dispatches a job on behalf of a schedule.
// No tenant context is in scope; the schedule's stored owner is stamped as
// the requesting user.
func (s *Service) CreateFromTemplate(ctx context.Context, customerID, userID string, tpl models.JobTemplate) (*models.Job, error) {
	payload, err := s.registry.ValidatePayload(tpl.Type, tpl.Payload)
	if err != nil {
		return nil, err
	}

	job := &models.Job{
		ID:          common.NewID(),
		Type:        tpl.Type,
		Status:      models.JobStatusQueued,
		CustomerID:  customerID,
		UserID:      userID,
		Targets:     tpl.Targets,
		Payload:     payload,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("customer_id", customerID).
		Msg("Job created from schedule")
	s.publishEvent(ctx, models.EventJobCreated, job)
	s.Dispatch(ctx, job)
	return job, nil
}

// Dispatch routes a queued job to a region queue and enqueues its task.
// The region decision is stamped on the job before the enqueue so replays
// land on the same queue. Enqueue failure is logged and swallowed; the
// scheduler's reconciliation pass retries it.
func (s *Service) Dispatch(ctx context.Context, job *models.Job) {
	queue := s.defaultQueue
	if job.RegionID != "" {
		// Re-dispatch of an already routed job keeps its original region.
		if region, err := s.regions.GetRegion(ctx, job.RegionID); err == nil {
			queue = region.QueueName()
		}
	} else if selected := s.route(ctx, job); selected != nil {
		queue = selected.QueueName()
		job.RegionID = selected.ID
		if err := s.store.UpdateJob(ctx, job); err != nil {
			s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to stamp region on job")
		}
	}

	msg, err := s.registry.BuildMessage(job, queue)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to build task message")
		return
	}
	if err := s.broker.Enqueue(ctx, msg); err != nil {
		s.logger.Warn().
			Err(err).
			Str("job_id", job.ID).
			Str("queue", queue).
			Msg("Broker enqueue failed, job remains queued for reconciliation")
		return
	}
	s.logger.Debug().Str("job_id", job.ID).Str("queue", queue).Msg("Job dispatched")
}

// route picks the region whose worker pool should run the job. Routing
// follows target placement: the filters are resolved to devices and only
// the regions those devices sit in are candidates. Fleet-wide jobs (empty
// filters) have no single region preference and stay on the default queue.
func (s *Service) route(ctx context.Context, job *models.Job) *models.Region {
	if job.Targets.IsEmpty() {
		return nil
	}
	devices, err := s.devices.ResolveTargets(ctx, job.CustomerID, job.Targets)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Target resolution failed, using default queue")
		return nil
	}
	regions, err := s.regions.ListRegions(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Region lookup failed, using default queue")
		return nil
	}
	return router.Select(devices, regions)
}

// Get returns a job the tenant context may see
func (s *Service) Get(ctx context.Context, tc *models.TenantContext, id string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	if !tc.CanAccess(job.CustomerID) {
		// Cross-tenant probes see not-found, not forbidden.
		return nil, ErrJobNotFound
	}
	return job, nil
}

// List returns jobs visible to the tenant context with filters and paging
func (s *Service) List(ctx context.Context, tc *models.TenantContext, opts interfaces.JobListOptions) ([]*models.Job, int, error) {
	if tc.IsAdmin() && len(opts.CustomerIDs) == 0 {
		if tc.CustomerID != "" {
			opts.CustomerIDs = []string{tc.CustomerID}
		} else {
			customers, err := s.allCustomerIDs(ctx)
			if err != nil {
				return nil, 0, err
			}
			opts.CustomerIDs = customers
		}
	}
	if !tc.IsAdmin() {
		opts.CustomerIDs = tc.AccessibleCustomerIDs
		if tc.CustomerID != "" {
			opts.CustomerIDs = []string{tc.CustomerID}
		}
	}
	return s.store.ListJobs(ctx, opts)
}

func (s *Service) allCustomerIDs(ctx context.Context) ([]string, error) {
	customers, err := s.customers.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(customers))
	for i, c := range customers {
		ids[i] = c.ID
	}
	return ids, nil
}

// Retry clones a terminal job into a fresh queued job with the same type,
// targets, and payload
func (s *Service) Retry(ctx context.Context, tc *models.TenantContext, id string) (*models.Job, error) {
	original, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}
	if !original.IsTerminal() {
		return nil, fmt.Errorf("only finished jobs can be retried")
	}

	clone := &models.Job{
		ID:          common.NewID(),
		Type:        original.Type,
		Status:      models.JobStatusQueued,
		CustomerID:  original.CustomerID,
		UserID:      tc.User.ID,
		Targets:     original.Targets,
		Payload:     original.Payload,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.store.CreateJob(ctx, clone); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("job_id", clone.ID).
		Str("retry_of", original.ID).
		Str("type", string(clone.Type)).
		Msg("Job retried")
	s.publishEvent(ctx, models.EventJobCreated, clone)
	s.Dispatch(ctx, clone)
	return clone, nil
}

// Cancel stops a job. Pre-start jobs cancel immediately; a running job is
// CAS-marked cancelled and the worker observes it cooperatively between
// hosts, leaving partial work in the logs only.
func (s *Service) Cancel(ctx context.Context, tc *models.TenantContext, id string) (*models.Job, error) {
	job, err := s.Get(ctx, tc, id)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case models.JobStatusScheduled, models.JobStatusQueued, models.JobStatusRunning:
	default:
		return nil, ErrJobNotCancellable
	}

	cancelled, err := s.store.TransitionStatus(ctx, id, job.Status, models.JobStatusCancelled)
	if err != nil {
		if errors.Is(err, interfaces.ErrStatusConflict) || errors.Is(err, interfaces.ErrInvalidTransition) {
			return nil, ErrJobNotCancellable
		}
		return nil, err
	}

	s.AppendLog(ctx, id, models.LogInfo, "", fmt.Sprintf("Job cancelled by user %s", tc.User.ID))
	s.logger.Info().Str("job_id", id).Str("user_id", tc.User.ID).Msg("Job cancelled")
	s.publishEvent(ctx, models.EventJobCancelled, cancelled)
	return cancelled, nil
}

// SetStatus performs the CAS transition and emits the matching events.
// Workers call this for running and terminal edges.
func (s *Service) SetStatus(ctx context.Context, id string, expected, next models.JobStatus, result *models.ResultSummary) (*models.Job, error) {
	job, err := s.store.TransitionStatus(ctx, id, expected, next)
	if err != nil {
		return nil, err
	}
	if result != nil {
		job.Result = result
		if err := s.store.UpdateJob(ctx, job); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("job_id", id).
		Str("from", string(expected)).
		Str("to", string(next)).
		Msg("Job status changed")

	s.publishEvent(ctx, models.EventJobUpdated, job)
	switch next {
	case models.JobStatusSuccess:
		s.publishEvent(ctx, models.EventJobSuccess, job)
	case models.JobStatusPartial:
		s.publishEvent(ctx, models.EventJobPartial, job)
	case models.JobStatusFailed:
		s.publishEvent(ctx, models.EventJobFailed, job)
	case models.JobStatusCancelled:
		s.publishEvent(ctx, models.EventJobCancelled, job)
	}
	return job, nil
}

// AppendLog writes a row to the job's trace. Log failures are swallowed;
// losing a log line must not fail the operation that produced it.
func (s *Service) AppendLog(ctx context.Context, jobID string, level models.LogLevel, host, message string) {
	err := s.logs.AppendLog(ctx, &models.JobLog{
		JobID:   jobID,
		Level:   level,
		Host:    host,
		Message: message,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to append job log")
	}
}

// Logs returns the job's trace rows ascending, visible to the tenant
func (s *Service) Logs(ctx context.Context, tc *models.TenantContext, jobID string, sinceTS time.Time, limit int) ([]*models.JobLog, error) {
	if _, err := s.Get(ctx, tc, jobID); err != nil {
		return nil, err
	}
	return s.logs.ListLogs(ctx, jobID, sinceTS, limit)
}

func (s *Service) publishEvent(ctx context.Context, eventType models.EventType, job *models.Job) {
	event := models.Event{
		EventID:    common.NewEventID(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		CustomerID: job.CustomerID,
		Payload: map[string]interface{}{
			"job_id": job.ID,
			"type":   string(job.Type),
			"status": string(job.Status),
		},
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to publish job event")
	}
}
