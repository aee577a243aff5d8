package interfaces

import "errors"

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrStatusConflict is returned when a compare-and-swap transition finds
	// the job in a different status than expected
	ErrStatusConflict = errors.New("job status conflict")

	// ErrInvalidTransition is returned when the requested status change is
	// not a legal edge of the job state machine
	ErrInvalidTransition = errors.New("invalid status transition")
)
