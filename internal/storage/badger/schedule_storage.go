package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ScheduleStorage implements the ScheduleStorage interface for Badger
type ScheduleStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewScheduleStorage creates a new ScheduleStorage instance
func NewScheduleStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ScheduleStorage {
	return &ScheduleStorage{db: db, logger: logger}
}

func (s *ScheduleStorage) CreateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := s.db.Store().Insert(schedule.ID, schedule); err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) GetSchedule(ctx context.Context, id string) (*models.Schedule, error) {
	var schedule models.Schedule
	if err := s.db.Store().Get(id, &schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, interfaces.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get schedule: %w", err)
	}
	return &schedule, nil
}

func (s *ScheduleStorage) UpdateSchedule(ctx context.Context, schedule *models.Schedule) error {
	if err := s.db.Store().Update(schedule.ID, schedule); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) DeleteSchedule(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.Schedule{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	return nil
}

func (s *ScheduleStorage) ListSchedules(ctx context.Context, customerID string) ([]*models.Schedule, error) {
	var schedules []models.Schedule
	if err := s.db.Store().Find(&schedules, badgerhold.Where("CustomerID").Eq(customerID).SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	result := make([]*models.Schedule, len(schedules))
	for i := range schedules {
		result[i] = &schedules[i]
	}
	return result, nil
}

func (s *ScheduleStorage) ListDue(ctx context.Context, cutoff time.Time, limit int) ([]*models.Schedule, error) {
	var schedules []models.Schedule
	query := badgerhold.Where("Enabled").Eq(true).SortBy("NextFireAt")
	if err := s.db.Store().Find(&schedules, query); err != nil {
		return nil, fmt.Errorf("failed to list due schedules: %w", err)
	}
	due := make([]*models.Schedule, 0, len(schedules))
	for i := range schedules {
		if schedules[i].NextFireAt.After(cutoff) {
			break
		}
		due = append(due, &schedules[i])
		if limit > 0 && len(due) >= limit {
			break
		}
	}
	return due, nil
}
