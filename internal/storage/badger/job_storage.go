package badger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

func (s *JobStorage) CreateJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if err := s.db.Store().Insert(job.ID, job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := s.db.Store().Get(id, &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) UpdateJob(ctx context.Context, job *models.Job) error {
	if err := s.db.Store().Update(job.ID, job); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListJobs(ctx context.Context, opts interfaces.JobListOptions) ([]*models.Job, int, error) {
	if len(opts.CustomerIDs) == 0 {
		return nil, 0, nil
	}

	query := badgerhold.Where("CustomerID").In(badgerhold.Slice(opts.CustomerIDs)...)
	if opts.Type != "" {
		query = query.And("Type").Eq(opts.Type)
	}
	if opts.Status != "" {
		query = query.And("Status").Eq(opts.Status)
	}
	query = query.SortBy("RequestedAt").Reverse()

	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}

	// Hostname is a substring match over the target filters, which badgerhold
	// cannot index; filter and page in memory.
	filtered := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if opts.Hostname != "" && !jobTargetsHostname(&jobs[i], opts.Hostname) {
			continue
		}
		filtered = append(filtered, &jobs[i])
	}

	total := len(filtered)
	if opts.Skip > 0 {
		if opts.Skip >= total {
			return nil, total, nil
		}
		filtered = filtered[opts.Skip:]
	}
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered, total, nil
}

func jobTargetsHostname(job *models.Job, hostname string) bool {
	needle := strings.ToLower(hostname)
	if strings.Contains(strings.ToLower(job.Targets.Hostname), needle) {
		return true
	}
	if job.Result != nil {
		for h := range job.Result.PerHost {
			if strings.Contains(strings.ToLower(h), needle) {
				return true
			}
		}
	}
	return false
}

// TransitionStatus performs the compare-and-swap status update inside a
// single badgerhold transaction. Timestamps move with the edge: entering
// running sets started_at, entering a terminal status sets finished_at.
func (s *JobStorage) TransitionStatus(ctx context.Context, id string, expected, next models.JobStatus) (*models.Job, error) {
	if !models.CanTransition(expected, next) {
		return nil, interfaces.ErrInvalidTransition
	}

	matched := false
	var updated models.Job
	err := s.db.Store().UpdateMatching(&models.Job{},
		badgerhold.Where(badgerhold.Key).Eq(id).And("Status").Eq(expected),
		func(record interface{}) error {
			job, ok := record.(*models.Job)
			if !ok {
				return fmt.Errorf("unexpected record type %T", record)
			}
			now := time.Now().UTC()
			job.Status = next
			if next == models.JobStatusRunning && job.StartedAt == nil {
				job.StartedAt = &now
			}
			if next.IsTerminal() && job.FinishedAt == nil {
				job.FinishedAt = &now
			}
			matched = true
			updated = *job
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to transition job status: %w", err)
	}
	if !matched {
		// Distinguish a missing job from a lost race.
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, interfaces.ErrStatusConflict
	}
	return &updated, nil
}

func (s *JobStorage) ListScheduledDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusScheduled).SortBy("ScheduledFor")); err != nil {
		return nil, fmt.Errorf("failed to list due scheduled jobs: %w", err)
	}

	due := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if jobs[i].ScheduledFor == nil || jobs[i].ScheduledFor.After(cutoff) {
			continue
		}
		due = append(due, &jobs[i])
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}

func (s *JobStorage) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusQueued).SortBy("RequestedAt")); err != nil {
		return nil, fmt.Errorf("failed to list stale queued jobs: %w", err)
	}

	stale := make([]*models.Job, 0, len(jobs))
	for i := range jobs {
		if !jobs[i].RequestedAt.Before(cutoff) {
			continue
		}
		stale = append(stale, &jobs[i])
		if limit > 0 && len(stale) >= limit {
			break
		}
	}
	return stale, nil
}

func (s *JobStorage) ListRunning(ctx context.Context) ([]*models.Job, error) {
	var jobs []models.Job
	if err := s.db.Store().Find(&jobs, badgerhold.Where("Status").Eq(models.JobStatusRunning)); err != nil {
		return nil, fmt.Errorf("failed to list running jobs: %w", err)
	}
	result := make([]*models.Job, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}
