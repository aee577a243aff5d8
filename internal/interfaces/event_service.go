package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// EventHandler is a function that handles published events
type EventHandler func(ctx context.Context, event models.Event) error

// EventService manages the in-process pub/sub bus. The publisher service
// subscribes to fan events out to external subscribers; in-process
// consumers (the WebSocket hub, audit logging) subscribe directly.
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType models.EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event models.Event) error

	// PublishSync publishes and waits for all handlers to complete
	PublishSync(ctx context.Context, event models.Event) error

	// Close shuts down the event service
	Close() error
}
