package badger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// JobLogStorage implements the JobLogStorage interface for Badger
type JobLogStorage struct {
	db     *BadgerDB
	logger arbor.ILogger

	mu     sync.Mutex
	lastTS time.Time
}

// NewJobLogStorage creates a new JobLogStorage instance
func NewJobLogStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobLogStorage {
	return &JobLogStorage{
		db:     db,
		logger: logger,
	}
}

// AppendLog stores a log row. The ID and timestamp are assigned here so
// callers cannot produce out-of-order or colliding rows.
func (s *JobLogStorage) AppendLog(ctx context.Context, log *models.JobLog) error {
	if log.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	log.ID = common.NewID()
	log.TS = s.nextTS()
	if log.Level == "" {
		log.Level = models.LogInfo
	}
	if err := s.db.Store().Insert(log.ID, log); err != nil {
		return fmt.Errorf("failed to append job log: %w", err)
	}
	return nil
}

// nextTS returns a strictly increasing timestamp. Concurrent per-host
// appends can land on the same clock reading; bumping past the previous
// stamp keeps since-based tailing complete and the sort order total.
func (s *JobLogStorage) nextTS() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := time.Now().UTC()
	if !ts.After(s.lastTS) {
		ts = s.lastTS.Add(time.Microsecond)
	}
	s.lastTS = ts
	return ts
}

func (s *JobLogStorage) ListLogs(ctx context.Context, jobID string, sinceTS time.Time, limit int) ([]*models.JobLog, error) {
	var logs []models.JobLog
	if err := s.db.Store().Find(&logs, badgerhold.Where("JobID").Eq(jobID).SortBy("TS")); err != nil {
		return nil, fmt.Errorf("failed to list job logs: %w", err)
	}

	result := make([]*models.JobLog, 0, len(logs))
	for i := range logs {
		if !sinceTS.IsZero() && !logs[i].TS.After(sinceTS) {
			continue
		}
		result = append(result, &logs[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *JobLogStorage) DeleteLogsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var logs []models.JobLog
	if err := s.db.Store().Find(&logs, badgerhold.Where("TS").Lt(cutoff)); err != nil {
		return 0, fmt.Errorf("failed to find expired job logs: %w", err)
	}
	deleted := 0
	for i := range logs {
		if err := s.db.Store().Delete(logs[i].ID, &models.JobLog{}); err != nil {
			s.logger.Warn().Err(err).Str("log_id", logs[i].ID).Msg("Failed to delete expired job log")
			continue
		}
		deleted++
	}
	return deleted, nil
}
