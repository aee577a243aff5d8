package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNoMessage is returned when a broker queue is empty
var ErrNoMessage = errors.New("no messages in queue")

// TaskMessage is the broker envelope dispatched to the worker tier.
// TaskName and Args are the contract between the job service's registry and
// the worker handlers; handlers accept arguments in exactly the shape the
// builder produces.
type TaskMessage struct {
	TaskName string          `json:"task_name"`
	JobID    string          `json:"job_id"`
	Args     json.RawMessage `json:"args,omitempty"`
	Queue    string          `json:"queue,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// ToJSON serializes the task message for broker storage
func (m *TaskMessage) ToJSON() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task message: %w", err)
	}
	return data, nil
}

// TaskMessageFromJSON deserializes a task message
func TaskMessageFromJSON(data []byte) (*TaskMessage, error) {
	var msg TaskMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task message: %w", err)
	}
	return &msg, nil
}
