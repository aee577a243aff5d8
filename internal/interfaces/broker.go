package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// Broker - at-least-once message transport between the API tier and workers.
// Queues are named; a message becomes invisible to other consumers for the
// visibility timeout after Receive and reappears unless deleted.
type Broker interface {
	// Enqueue appends the message to its queue. An empty Queue field falls
	// back to the default queue.
	Enqueue(ctx context.Context, msg *models.TaskMessage) error

	// Receive returns the next visible message from the queue, or
	// models.ErrNoMessage when the queue is empty. The returned receipt is
	// passed to Delete or Release.
	Receive(ctx context.Context, queue string) (*models.TaskMessage, string, error)

	// Delete acknowledges a received message, removing it permanently.
	Delete(ctx context.Context, queue string, receipt string) error

	// Release returns a received message to the queue immediately instead of
	// waiting for the visibility timeout.
	Release(ctx context.Context, queue string, receipt string) error

	// Stats returns visible and in-flight counts per queue.
	Stats(ctx context.Context) (map[string]QueueStats, error)

	Close() error
}

// QueueStats - counters for a single queue
type QueueStats struct {
	Visible  int `json:"visible"`
	InFlight int `json:"in_flight"`
}
