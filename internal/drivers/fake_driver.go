package drivers

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

// FakeDriver returns canned outputs keyed by hostname and command. Hosts
// listed in FailHosts refuse connections. Used in tests and local runs
// without reachable devices.
type FakeDriver struct {
	mu        sync.Mutex
	Outputs   map[string]map[string]string // hostname -> command -> output
	FailHosts map[string]string            // hostname -> connect error
	Commands  map[string][]string          // hostname -> commands run, recorded
}

// NewFakeDriver creates an empty fake driver
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		Outputs:   make(map[string]map[string]string),
		FailHosts: make(map[string]string),
		Commands:  make(map[string][]string),
	}
}

// Name identifies the driver in logs
func (d *FakeDriver) Name() string { return "fake" }

// SetOutput registers the canned output for a command on a host
func (d *FakeDriver) SetOutput(hostname, command, output string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Outputs[hostname] == nil {
		d.Outputs[hostname] = make(map[string]string)
	}
	d.Outputs[hostname][command] = output
}

// FailConnect makes every connection to the host fail with the message
func (d *FakeDriver) FailConnect(hostname, message string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.FailHosts[hostname] = message
}

// RanCommands returns the commands executed against a host
func (d *FakeDriver) RanCommands(hostname string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.Commands[hostname]...)
}

// Connect returns a session over the canned outputs
func (d *FakeDriver) Connect(ctx context.Context, device *models.Device, username, password, enable string) (interfaces.DriverSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if msg, ok := d.FailHosts[device.Hostname]; ok {
		return nil, fmt.Errorf("connect to %s failed: %s", device.Hostname, msg)
	}
	return &fakeSession{driver: d, hostname: device.Hostname}, nil
}

type fakeSession struct {
	driver   *FakeDriver
	hostname string
}

func (s *fakeSession) Run(ctx context.Context, command string) (string, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.Commands[s.hostname] = append(s.driver.Commands[s.hostname], command)
	if outputs, ok := s.driver.Outputs[s.hostname]; ok {
		if out, ok := outputs[command]; ok {
			return out, nil
		}
	}
	return "", nil
}

func (s *fakeSession) Close() error { return nil }
