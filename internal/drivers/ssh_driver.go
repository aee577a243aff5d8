package drivers

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"golang.org/x/crypto/ssh"
)

// SSHDriver connects to devices over SSH and runs commands in exec
// sessions. It is the default transport for every platform that exposes a
// CLI over port 22.
type SSHDriver struct {
	logger         arbor.ILogger
	connectTimeout time.Duration
	commandTimeout time.Duration
}

// NewSSHDriver creates the SSH device driver
func NewSSHDriver(logger arbor.ILogger, commandTimeout time.Duration) *SSHDriver {
	if commandTimeout <= 0 {
		commandTimeout = 30 * time.Second
	}
	return &SSHDriver{
		logger:         logger,
		connectTimeout: 10 * time.Second,
		commandTimeout: commandTimeout,
	}
}

// Name identifies the driver in logs
func (d *SSHDriver) Name() string { return "ssh" }

// Connect opens an SSH client to the device management IP
func (d *SSHDriver) Connect(ctx context.Context, device *models.Device, username, password, enable string) (interfaces.DriverSession, error) {
	config := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(name, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		// Network devices rotate host keys on RMA and re-image; pinning is
		// handled at the network boundary, not per-connection.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.connectTimeout,
	}

	addr := net.JoinHostPort(device.ManagementIP, "22")
	dialer := &net.Dialer{Timeout: d.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", device.Hostname, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	d.logger.Debug().
		Str("hostname", device.Hostname).
		Str("addr", addr).
		Msg("SSH session established")

	return &sshSession{
		client:         client,
		hostname:       device.Hostname,
		commandTimeout: d.commandTimeout,
	}, nil
}

type sshSession struct {
	client         *ssh.Client
	hostname       string
	commandTimeout time.Duration
}

// Run executes one command in a fresh exec session with a per-command
// timeout
func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open session on %s: %w", s.hostname, err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, s.commandTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- session.Run(command)
	}()

	select {
	case <-runCtx.Done():
		session.Close()
		return stdout.String(), fmt.Errorf("command timed out on %s: %s", s.hostname, command)
	case err := <-errCh:
		if err != nil {
			return stdout.String(), fmt.Errorf("command failed on %s: %w (stderr: %s)", s.hostname, err, stderr.String())
		}
		return stdout.String(), nil
	}
}

func (s *sshSession) Close() error {
	return s.client.Close()
}
