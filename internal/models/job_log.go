package models

import (
	"time"
)

// LogLevel of a job log row
type LogLevel string

const (
	LogDebug LogLevel = "DEBUG"
	LogInfo  LogLevel = "INFO"
	LogWarn  LogLevel = "WARN"
	LogError LogLevel = "ERROR"
)

// JobLog is a single immutable row of a job's append-only trace.
// Timestamps are UTC at millisecond precision, assigned by the store.
type JobLog struct {
	ID      string                 `json:"id" badgerhold:"key"`
	JobID   string                 `json:"job_id" badgerhold:"index"`
	TS      time.Time              `json:"ts"`
	Level   LogLevel               `json:"level"`
	Host    string                 `json:"host,omitempty"`
	Message string                 `json:"message"`
	Extra   map[string]interface{} `json:"extra,omitempty"`
}
