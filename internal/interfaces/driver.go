package interfaces

import (
	"context"

	"github.com/ternarybob/fabrica/internal/models"
)

// DriverSession - an open management session to a single device. Commands
// run sequentially on the session; implementations are not safe for
// concurrent use.
type DriverSession interface {
	// Run executes one command and returns its output.
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// DeviceDriver - vendor-facing transport used by worker handlers. The
// orchestrator treats drivers as opaque; all platform-specific behavior
// lives behind this interface.
type DeviceDriver interface {
	// Connect opens a session to the device using the decrypted credential.
	Connect(ctx context.Context, device *models.Device, username, password, enable string) (DriverSession, error)
	// Name identifies the driver in logs.
	Name() string
}
