package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// JobTemplate is the job a schedule produces at fire time
type JobTemplate struct {
	Type    JobType         `json:"type"`
	Targets TargetFilters   `json:"targets"`
	Payload json.RawMessage `json:"payload"`
}

// Schedule is a recurrence descriptor producing jobs via the job service.
// Either Cron or Interval is set, never both.
type Schedule struct {
	ID         string      `json:"id" badgerhold:"key"`
	CustomerID string      `json:"customer_id" badgerhold:"index"`
	UserID     string      `json:"user_id"`
	Name       string      `json:"name"`
	Template   JobTemplate `json:"template"`
	Cron       string      `json:"cron,omitempty"`
	Interval   string      `json:"interval,omitempty"` // Duration string, e.g. "6h"
	NextFireAt time.Time   `json:"next_fire_at" badgerhold:"index"`
	Enabled    bool        `json:"enabled"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks the recurrence descriptor
func (s *Schedule) Validate() error {
	if s.Cron == "" && s.Interval == "" {
		return fmt.Errorf("schedule requires a cron expression or an interval")
	}
	if s.Cron != "" && s.Interval != "" {
		return fmt.Errorf("schedule cannot have both cron and interval")
	}
	if s.Cron != "" {
		if _, err := cronParser.Parse(s.Cron); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	}
	if s.Interval != "" {
		d, err := time.ParseDuration(s.Interval)
		if err != nil {
			return fmt.Errorf("invalid interval: %w", err)
		}
		if d < 5*time.Minute {
			return fmt.Errorf("interval must be at least 5 minutes, got %s", d)
		}
	}
	return nil
}

// NextAfter computes the fire time following t
func (s *Schedule) NextAfter(t time.Time) (time.Time, error) {
	if s.Cron != "" {
		sched, err := cronParser.Parse(s.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		return sched.Next(t), nil
	}
	d, err := time.ParseDuration(s.Interval)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid interval: %w", err)
	}
	return t.Add(d), nil
}
