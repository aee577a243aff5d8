package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/drivers"
	"github.com/ternarybob/fabrica/internal/models"
	"github.com/ternarybob/fabrica/internal/queue"
	"github.com/ternarybob/fabrica/internal/services/events"
	"github.com/ternarybob/fabrica/internal/services/jobs"
	"github.com/ternarybob/fabrica/internal/services/tenant"
	"github.com/ternarybob/fabrica/internal/storage/badger"
)

type wsFixture struct {
	server     *httptest.Server
	jobService *jobs.Service
	stores     *badger.Manager
	tc         *models.TenantContext
	token      string
}

func setupTestWebSocket(t *testing.T) *wsFixture {
	t.Helper()
	ctx := context.Background()

	logger := arbor.NewLogger()
	config := common.NewDefaultConfig()
	config.Broker.DefaultQueue = "test_default"
	config.WebSocket.PollInterval = "10ms"

	stores, err := badger.NewManager(logger, &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { stores.Close() })

	broker, err := queue.NewBroker(stores.DB().Store().Badger(), logger, &config.Broker)
	require.NoError(t, err)

	tenants, err := tenant.NewService(stores.Users, stores.Customers, stores.IPRanges, &common.AuthConfig{
		JWTSecret:       "test-secret",
		EncryptionKey:   "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:  "15m",
		RefreshTokenTTL: "1h",
		AllowTokenInURL: true,
		BcryptCost:      4,
	}, logger)
	require.NoError(t, err)

	jobService := jobs.NewService(
		stores.Jobs, stores.JobLogs, stores.Regions, stores.Customers, stores.Devices,
		broker, events.NewService(logger), jobs.NewRegistry(), config.Broker.DefaultQueue, logger,
	)

	hash, err := tenants.HashPassword("secret")
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, stores.Users.CreateUser(ctx, &models.User{
		ID:           "user-1",
		Email:        "op@example.com",
		Name:         "Operator",
		Role:         models.RoleOperator,
		PasswordHash: hash,
		Active:       true,
		CustomerIDs:  []string{"cust-a"},
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	pair, _, err := tenants.Login(ctx, "op@example.com", "secret")
	require.NoError(t, err)

	handler := NewWebSocketHandler(jobService, stores.Devices, stores.Credentials, tenants, drivers.NewFakeDriver(), config, logger)
	server := httptest.NewServer(http.HandlerFunc(handler.JobLogsHandler))
	t.Cleanup(server.Close)

	return &wsFixture{
		server:     server,
		jobService: jobService,
		stores:     stores,
		token:      pair.AccessToken,
		tc: &models.TenantContext{
			User:                  &models.User{ID: "user-1", Role: models.RoleOperator},
			Role:                  models.RoleOperator,
			CustomerID:            "cust-a",
			AccessibleCustomerIDs: []string{"cust-a"},
		},
	}
}

func (f *wsFixture) dial(t *testing.T, jobID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/jobs/" + jobID + "?token=" + f.token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestJobLogsStream_CompleteFrameCarriesFinishedAt(t *testing.T) {
	f := setupTestWebSocket(t)
	ctx := context.Background()

	job, err := f.jobService.Create(ctx, f.tc, jobs.CreateRequest{
		Type:    models.JobTypeRunCommands,
		Targets: models.TargetFilters{Site: "syd-dc1"},
		Payload: json.RawMessage(`{"commands":["show version"]}`),
	})
	require.NoError(t, err)
	_, err = f.jobService.SetStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning, nil)
	require.NoError(t, err)
	_, err = f.jobService.SetStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusSuccess, &models.ResultSummary{Succeeded: 1})
	require.NoError(t, err)

	conn := f.dial(t, job.ID)

	// Status frame, log replay, then the complete frame with the terminal
	// status and finish time
	deadline := time.Now().Add(5 * time.Second)
	sawStatus := false
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		var frame struct {
			Type       string     `json:"type"`
			Status     string     `json:"status"`
			FinishedAt *time.Time `json:"finished_at"`
		}
		require.NoError(t, conn.ReadJSON(&frame))
		switch frame.Type {
		case "status":
			sawStatus = true
		case "complete":
			assert.True(t, sawStatus, "status frame precedes complete")
			assert.Equal(t, string(models.JobStatusSuccess), frame.Status)
			require.NotNil(t, frame.FinishedAt)
			assert.False(t, frame.FinishedAt.IsZero())
			return
		}
	}
}
