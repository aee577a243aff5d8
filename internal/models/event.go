package models

import (
	"time"
)

// EventType identifies a post-transition notification
type EventType string

const (
	EventJobCreated          EventType = "job.created"
	EventJobUpdated          EventType = "job.updated"
	EventJobSuccess          EventType = "job.success"
	EventJobPartial          EventType = "job.partial"
	EventJobFailed           EventType = "job.failed"
	EventJobCancelled        EventType = "job.cancelled"
	EventDeviceCreated       EventType = "device.created"
	EventDeviceUpdated       EventType = "device.updated"
	EventComplianceViolation EventType = "compliance.violation"
	EventDriftDetected       EventType = "drift.detected"
)

// Event is a single post-transition notification. EventID is stable across
// delivery retries so subscribers can deduplicate.
type Event struct {
	EventID    string                 `json:"event_id"`
	Type       EventType              `json:"event_type"`
	Timestamp  time.Time              `json:"timestamp"`
	CustomerID string                 `json:"customer_id"`
	Payload    map[string]interface{} `json:"payload"`
}

// SubscriptionKind selects the delivery adapter
type SubscriptionKind string

const (
	SubscriptionWebhook SubscriptionKind = "webhook"
	SubscriptionChat    SubscriptionKind = "chat"
	SubscriptionEmail   SubscriptionKind = "email"
)

// Subscription is a registered external receiver for events
type Subscription struct {
	ID         string           `json:"id" badgerhold:"key"`
	CustomerID string           `json:"customer_id" badgerhold:"index"`
	Kind       SubscriptionKind `json:"kind"`
	URL        string           `json:"url,omitempty"`    // Webhook endpoint or chat webhook URL
	Secret     string           `json:"-"`                // HMAC shared secret (webhook)
	Email      string           `json:"email,omitempty"`  // Email target
	Events     []EventType      `json:"events,omitempty"` // Empty = all events
	Enabled    bool             `json:"enabled"`
	CreatedAt  time.Time        `json:"created_at"`
}

// Wants reports whether the subscription is interested in the event type
func (s *Subscription) Wants(t EventType) bool {
	if len(s.Events) == 0 {
		return true
	}
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// DeliveryStatus of a single event delivery attempt chain
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is the durable per-subscriber delivery record. The publisher is
// a pull loop over pending rows, so retry state survives restarts.
type Delivery struct {
	ID             string         `json:"id" badgerhold:"key"`
	SubscriptionID string         `json:"subscription_id" badgerhold:"index"`
	CustomerID     string         `json:"customer_id" badgerhold:"index"`
	Event          Event          `json:"event"`
	Status         DeliveryStatus `json:"status" badgerhold:"index"`
	Attempts       int            `json:"attempts"`
	LastError      string         `json:"last_error,omitempty"`
	NextAttemptAt  time.Time      `json:"next_attempt_at" badgerhold:"index"`
	CreatedAt      time.Time      `json:"created_at"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
}
