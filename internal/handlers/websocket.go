package handlers

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin enforcement is left to the fronting proxy
	},
}

// wsFrame is the envelope for every server-to-client message
type wsFrame struct {
	Type       string      `json:"type"`
	Job        interface{} `json:"job,omitempty"`
	Log        interface{} `json:"log,omitempty"`
	Status     string      `json:"status,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Output     string      `json:"output,omitempty"`
	Message    string      `json:"message,omitempty"`
}

// wsCommand is the client-to-server message on the device SSH channel
type wsCommand struct {
	Type    string `json:"type"`
	Command string `json:"command"`
}

// WebSocketHandler serves the job log stream and the interactive device
// session channels.
type WebSocketHandler struct {
	jobs        *jobs.Service
	devices     interfaces.DeviceStorage
	credentials interfaces.CredentialStorage
	tenants     *tenant.Service
	driver      interfaces.DeviceDriver
	logger      arbor.ILogger

	replayLimit     int
	pollInterval    time.Duration
	keepalive       time.Duration
	writeTimeout    time.Duration
	allowTokenInURL bool

	mu       sync.Mutex
	sshInUse map[string]bool // "userID|deviceID" -> active session
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	jobService *jobs.Service,
	devices interfaces.DeviceStorage,
	credentials interfaces.CredentialStorage,
	tenants *tenant.Service,
	driver interfaces.DeviceDriver,
	config *common.Config,
	logger arbor.ILogger,
) *WebSocketHandler {
	h := &WebSocketHandler{
		jobs:            jobService,
		devices:         devices,
		credentials:     credentials,
		tenants:         tenants,
		driver:          driver,
		logger:          logger,
		replayLimit:     config.WebSocket.ReplayLimit,
		pollInterval:    parseDurationOr(config.WebSocket.PollInterval, time.Second),
		keepalive:       parseDurationOr(config.WebSocket.KeepaliveInterval, 30*time.Second),
		writeTimeout:    parseDurationOr(config.WebSocket.WriteTimeout, 10*time.Second),
		allowTokenInURL: config.Auth.AllowTokenInURL,
		sshInUse:        make(map[string]bool),
	}
	if h.replayLimit <= 0 {
		h.replayLimit = 100
	}
	if h.keepalive < 5*time.Second {
		h.keepalive = 5 * time.Second
	}
	return h
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// authenticate resolves the tenant context for a WebSocket request. Browser
// clients cannot set the Authorization header on an upgrade, so a ?token=
// query parameter is accepted when enabled.
func (h *WebSocketHandler) authenticate(r *http.Request) (*models.TenantContext, error) {
	token := ""
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	} else if h.allowTokenInURL {
		token = r.URL.Query().Get("token")
	}
	if token == "" {
		return nil, tenant.ErrUnauthenticated
	}
	user, err := h.tenants.Authenticate(r.Context(), token)
	if err != nil {
		return nil, err
	}
	return h.tenants.ResolveContext(r.Context(), user, r.URL.Query().Get("customer_id"))
}

func (h *WebSocketHandler) writeFrame(conn *websocket.Conn, mu *sync.Mutex, frame wsFrame) error {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	return conn.WriteJSON(frame)
}

func (h *WebSocketHandler) closeWith(conn *websocket.Conn, mu *sync.Mutex, code int, reason string) {
	mu.Lock()
	defer mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	conn.Close()
}

// JobLogsHandler streams job logs over a WebSocket.
// GET /ws/jobs/{id}
//
// The stream opens with a status frame, replays recent logs, then tails the
// log store until the job reaches a terminal status, at which point a
// complete frame is sent and the connection closes normally.
func (h *WebSocketHandler) JobLogsHandler(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimPrefix(r.URL.Path, "/ws/jobs/")
	if jobID == "" || strings.Contains(jobID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	tc, authErr := h.authenticate(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	writeMu := &sync.Mutex{}

	if authErr != nil {
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "unauthenticated")
		return
	}

	job, err := h.jobs.Get(r.Context(), tc, jobID)
	if err != nil {
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "not found")
		return
	}

	// Reader goroutine: drain client frames so pings/pongs and close frames
	// are processed; the client never sends data on this channel.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(1024)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.writeFrame(conn, writeMu, wsFrame{Type: "status", Job: job}); err != nil {
		conn.Close()
		return
	}

	// Replay the most recent logs, then tail from the last timestamp
	var sinceTS time.Time
	logs, err := h.jobs.Logs(r.Context(), tc, jobID, time.Time{}, 0)
	if err != nil {
		h.closeWith(conn, writeMu, websocket.CloseInternalServerErr, "log read failed")
		return
	}
	if len(logs) > h.replayLimit {
		logs = logs[len(logs)-h.replayLimit:]
	}
	for _, entry := range logs {
		if err := h.writeFrame(conn, writeMu, wsFrame{Type: "log", Log: entry}); err != nil {
			conn.Close()
			return
		}
		sinceTS = entry.TS
	}

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	ping := time.NewTicker(h.keepalive)
	defer ping.Stop()

	for {
		select {
		case <-done:
			conn.Close()
			return
		case <-ping.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				conn.Close()
				return
			}
		case <-poll.C:
			logs, err := h.jobs.Logs(r.Context(), tc, jobID, sinceTS, 0)
			if err != nil {
				h.closeWith(conn, writeMu, websocket.CloseInternalServerErr, "log read failed")
				return
			}
			for _, entry := range logs {
				if err := h.writeFrame(conn, writeMu, wsFrame{Type: "log", Log: entry}); err != nil {
					conn.Close()
					return
				}
				sinceTS = entry.TS
			}

			job, err := h.jobs.Get(r.Context(), tc, jobID)
			if err != nil {
				h.closeWith(conn, writeMu, websocket.CloseInternalServerErr, "job read failed")
				return
			}
			if job.IsTerminal() {
				h.writeFrame(conn, writeMu, wsFrame{Type: "complete", Status: string(job.Status), FinishedAt: job.FinishedAt})
				h.closeWith(conn, writeMu, websocket.CloseNormalClosure, "job complete")
				return
			}
		}
	}
}

// DeviceSSHHandler bridges a WebSocket to an interactive device session.
// GET /ws/devices/{id}/ssh
//
// The client sends command frames; each is executed on the device and
// answered with an output frame. "exit", "quit", and "logout" end the
// session. One session per user per device.
func (h *WebSocketHandler) DeviceSSHHandler(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/ws/devices/")
	deviceID := strings.TrimSuffix(path, "/ssh")
	if deviceID == "" || deviceID == path || strings.Contains(deviceID, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	tc, authErr := h.authenticate(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	writeMu := &sync.Mutex{}

	if authErr != nil {
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "unauthenticated")
		return
	}
	if !tc.Role.AtLeast(models.RoleOperator) {
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "forbidden")
		return
	}

	device, err := h.devices.GetDevice(r.Context(), deviceID)
	if err != nil || !tc.CanAccess(device.CustomerID) {
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "not found")
		return
	}

	sessionKey := tc.User.ID + "|" + device.ID
	h.mu.Lock()
	if h.sshInUse[sessionKey] {
		h.mu.Unlock()
		h.closeWith(conn, writeMu, websocket.ClosePolicyViolation, "session already active for this device")
		return
	}
	h.sshInUse[sessionKey] = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.sshInUse, sessionKey)
		h.mu.Unlock()
	}()

	username, password, enable, err := h.deviceCredentials(r.Context(), device)
	if err != nil {
		h.writeFrame(conn, writeMu, wsFrame{Type: "error", Message: err.Error()})
		h.closeWith(conn, writeMu, websocket.CloseInternalServerErr, "credential resolution failed")
		return
	}

	session, err := h.driver.Connect(r.Context(), device, username, password, enable)
	if err != nil {
		h.writeFrame(conn, writeMu, wsFrame{Type: "error", Message: err.Error()})
		h.closeWith(conn, writeMu, websocket.CloseInternalServerErr, "device connection failed")
		return
	}
	defer session.Close()

	h.logger.Info().
		Str("user_id", tc.User.ID).
		Str("device", device.Hostname).
		Msg("Interactive device session opened")
	h.writeFrame(conn, writeMu, wsFrame{Type: "connected", Message: device.Hostname})

	conn.SetReadLimit(64 * 1024)
	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			session.Close()
			conn.Close()
			return
		}
		if cmd.Type != "command" {
			continue
		}

		trimmed := strings.TrimSpace(strings.ToLower(cmd.Command))
		if trimmed == "exit" || trimmed == "quit" || trimmed == "logout" {
			h.writeFrame(conn, writeMu, wsFrame{Type: "closed"})
			h.closeWith(conn, writeMu, websocket.CloseNormalClosure, "session ended")
			h.logger.Info().
				Str("user_id", tc.User.ID).
				Str("device", device.Hostname).
				Msg("Interactive device session closed")
			return
		}

		output, err := session.Run(r.Context(), cmd.Command)
		if err != nil {
			h.writeFrame(conn, writeMu, wsFrame{Type: "error", Message: err.Error()})
			continue
		}
		if err := h.writeFrame(conn, writeMu, wsFrame{Type: "output", Output: output}); err != nil {
			session.Close()
			conn.Close()
			return
		}
	}
}

func (h *WebSocketHandler) deviceCredentials(ctx context.Context, device *models.Device) (string, string, string, error) {
	cred, err := h.credentials.GetCredential(ctx, device.CredentialID)
	if err != nil {
		return "", "", "", err
	}
	password, err := h.tenants.DecryptSecret(cred.EncryptedPassword)
	if err != nil {
		return "", "", "", err
	}
	enable := ""
	if cred.EncryptedEnable != "" {
		if enable, err = h.tenants.DecryptSecret(cred.EncryptedEnable); err != nil {
			return "", "", "", err
		}
	}
	return cred.Username, password, enable, nil
}
