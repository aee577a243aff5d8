package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
)

// Service is the control-plane maintenance loop. Each tick it releases due
// scheduled jobs, fires due schedules, re-dispatches stale queued jobs, and
// sweeps expired logs. It moves jobs toward execution but never drives a
// terminal state; outcomes belong to workers.
type Service struct {
	jobService *jobs.Service
	jobStore   interfaces.JobStorage
	logStore   interfaces.JobLogStorage
	schedules  interfaces.ScheduleStorage
	logger     arbor.ILogger
	config     *common.SchedulerConfig

	tick         time.Duration
	batchSize    int
	staleAfter   time.Duration
	logRetention time.Duration

	mu      sync.Mutex
	ticking bool
	stop    chan struct{}
	done    chan struct{}
	running bool
}

// NewService creates the scheduler service
func NewService(
	jobService *jobs.Service,
	jobStore interfaces.JobStorage,
	logStore interfaces.JobLogStorage,
	schedules interfaces.ScheduleStorage,
	config *common.SchedulerConfig,
	logger arbor.ILogger,
) *Service {
	batch := config.BatchSize
	if batch <= 0 {
		batch = 50
	}
	return &Service{
		jobService:   jobService,
		jobStore:     jobStore,
		logStore:     logStore,
		schedules:    schedules,
		logger:       logger,
		config:       config,
		tick:         common.Duration(config.TickInterval, 30*time.Second),
		batchSize:    batch,
		staleAfter:   common.Duration(config.ReconciliationThreshold, 2*time.Minute),
		logRetention: common.Duration(config.LogRetention, 720*time.Hour),
	}
}

// Start launches the tick loop
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				s.Tick(context.Background())
			}
		}
	}()

	s.logger.Info().
		Str("tick", s.tick.String()).
		Str("stale_after", s.staleAfter.String()).
		Msg("Scheduler started")
	return nil
}

// Stop terminates the tick loop and waits for the current tick to finish
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	<-s.done
	s.logger.Info().Msg("Scheduler stopped")
}

// Tick runs one maintenance pass. Ticks never overlap; a pass that outlasts
// the interval causes the next tick to be skipped.
func (s *Service) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.ticking {
		s.mu.Unlock()
		return
	}
	s.ticking = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ticking = false
		s.mu.Unlock()
	}()

	now := time.Now().UTC()
	s.releaseDueJobs(ctx, now)
	s.fireDueSchedules(ctx, now)
	s.reconcileStaleJobs(ctx, now)
	s.sweepExpiredLogs(ctx, now)
}

// releaseDueJobs moves due scheduled jobs to queued and dispatches them
func (s *Service) releaseDueJobs(ctx context.Context, now time.Time) {
	due, err := s.jobStore.ListScheduledDue(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due scheduled jobs")
		return
	}
	for _, job := range due {
		released, err := s.jobStore.TransitionStatus(ctx, job.ID, models.JobStatusScheduled, models.JobStatusQueued)
		if err != nil {
			// A concurrent cancel is expected; anything else is worth a log.
			if err != interfaces.ErrStatusConflict {
				s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to release scheduled job")
			}
			continue
		}
		s.logger.Debug().Str("job_id", job.ID).Msg("Scheduled job released")
		s.jobService.Dispatch(ctx, released)
	}
}

// fireDueSchedules creates jobs for due recurrence descriptors and advances
// their next fire time
func (s *Service) fireDueSchedules(ctx context.Context, now time.Time) {
	due, err := s.schedules.ListDue(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list due schedules")
		return
	}
	for _, schedule := range due {
		if _, err := s.jobService.CreateFromTemplate(ctx, schedule.CustomerID, schedule.UserID, schedule.Template); err != nil {
			s.logger.Error().
				Err(err).
				Str("schedule_id", schedule.ID).
				Str("name", schedule.Name).
				Msg("Schedule fire failed")
			// Fall through: the next fire time still advances so a broken
			// template cannot wedge the tick loop.
		}

		next, err := schedule.NextAfter(now)
		if err != nil {
			s.logger.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to compute next fire time, disabling schedule")
			schedule.Enabled = false
		} else {
			schedule.NextFireAt = next
		}
		schedule.UpdatedAt = now
		if err := s.schedules.UpdateSchedule(ctx, schedule); err != nil {
			s.logger.Error().Err(err).Str("schedule_id", schedule.ID).Msg("Failed to advance schedule")
		}
	}
}

// reconcileStaleJobs re-dispatches queued jobs whose message has likely
// been lost. At-least-once delivery makes the duplicate enqueue safe: a
// worker receiving a message for an already running or finished job drops
// it.
func (s *Service) reconcileStaleJobs(ctx context.Context, now time.Time) {
	stale, err := s.jobStore.ListQueuedBefore(ctx, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list stale queued jobs")
		return
	}
	for _, job := range stale {
		s.logger.Info().
			Str("job_id", job.ID).
			Str("requested_at", job.RequestedAt.Format(time.RFC3339)).
			Msg("Re-dispatching stale queued job")
		s.jobService.Dispatch(ctx, job)
	}
}

// sweepExpiredLogs deletes job log rows past the retention window
func (s *Service) sweepExpiredLogs(ctx context.Context, now time.Time) {
	if s.logRetention <= 0 {
		return
	}
	deleted, err := s.logStore.DeleteLogsBefore(ctx, now.Add(-s.logRetention))
	if err != nil {
		s.logger.Error().Err(err).Msg("Log retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("Expired job logs swept")
	}
}
