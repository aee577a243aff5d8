package common

import (
	"github.com/google/uuid"
)

// NewID generates a unique identifier for a domain entity
func NewID() string {
	return uuid.New().String()
}

// NewEventID generates a unique event ID with the "evt_" prefix
// Format: evt_<uuid>
func NewEventID() string {
	return "evt_" + uuid.New().String()
}
