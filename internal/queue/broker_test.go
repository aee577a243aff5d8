package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/models"
)

func setupTestBroker(t *testing.T, config *common.BrokerConfig) *Broker {
	t.Helper()

	opts := badger.DefaultOptions(filepath.Join(t.TempDir(), "queue"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if config == nil {
		config = &common.BrokerConfig{
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			DefaultQueue:      "test_default",
		}
	}
	broker, err := NewBroker(db, arbor.NewLogger(), config)
	require.NoError(t, err)
	return broker
}

func newTestMessage(queue string) *models.TaskMessage {
	return &models.TaskMessage{
		TaskName:   "tasks.run_commands",
		JobID:      common.NewID(),
		Queue:      queue,
		EnqueuedAt: time.Now().UTC(),
	}
}

func TestBroker_EnqueueReceiveDelete(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	msg := newTestMessage("region_syd")
	require.NoError(t, broker.Enqueue(ctx, msg))

	got, receipt, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, got.JobID)
	assert.NotEmpty(t, receipt)

	require.NoError(t, broker.Delete(ctx, "region_syd", receipt))

	_, _, err = broker.Receive(ctx, "region_syd")
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestBroker_QueuesAreIsolated(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, newTestMessage("region_syd")))

	_, _, err := broker.Receive(ctx, "region_mel")
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestBroker_EmptyQueueFallsBackToDefault(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	msg := newTestMessage("")
	require.NoError(t, broker.Enqueue(ctx, msg))

	got, _, err := broker.Receive(ctx, "test_default")
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, got.JobID)
}

func TestBroker_VisibilityTimeout(t *testing.T) {
	broker := setupTestBroker(t, &common.BrokerConfig{
		VisibilityTimeout: "50ms",
		MaxReceive:        5,
		DefaultQueue:      "test_default",
	})
	ctx := context.Background()

	msg := newTestMessage("region_syd")
	require.NoError(t, broker.Enqueue(ctx, msg))

	_, _, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)

	// In flight: not visible to a second consumer
	_, _, err = broker.Receive(ctx, "region_syd")
	assert.ErrorIs(t, err, models.ErrNoMessage)

	// After the visibility timeout the message reappears
	time.Sleep(80 * time.Millisecond)
	got, _, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, got.JobID)
}

func TestBroker_ReleaseMakesMessageVisible(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	msg := newTestMessage("region_syd")
	require.NoError(t, broker.Enqueue(ctx, msg))

	_, receipt, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	require.NoError(t, broker.Release(ctx, "region_syd", receipt))

	got, _, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, msg.JobID, got.JobID)
}

func TestBroker_PoisonMessageDropped(t *testing.T) {
	broker := setupTestBroker(t, &common.BrokerConfig{
		VisibilityTimeout: "5m",
		MaxReceive:        2,
		DefaultQueue:      "test_default",
	})
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, newTestMessage("region_syd")))

	for i := 0; i < 2; i++ {
		_, receipt, err := broker.Receive(ctx, "region_syd")
		require.NoError(t, err)
		require.NoError(t, broker.Release(ctx, "region_syd", receipt))
	}

	// Third receive exceeds the cap: the message is dropped, not delivered
	_, _, err := broker.Receive(ctx, "region_syd")
	assert.ErrorIs(t, err, models.ErrNoMessage)
}

func TestBroker_FIFOWithinQueue(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	first := newTestMessage("region_syd")
	require.NoError(t, broker.Enqueue(ctx, first))
	time.Sleep(2 * time.Millisecond)
	second := newTestMessage("region_syd")
	require.NoError(t, broker.Enqueue(ctx, second))

	got, receipt, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, first.JobID, got.JobID)
	require.NoError(t, broker.Delete(ctx, "region_syd", receipt))

	got, _, err = broker.Receive(ctx, "region_syd")
	require.NoError(t, err)
	assert.Equal(t, second.JobID, got.JobID)
}

func TestBroker_Stats(t *testing.T) {
	broker := setupTestBroker(t, nil)
	ctx := context.Background()

	require.NoError(t, broker.Enqueue(ctx, newTestMessage("region_syd")))
	require.NoError(t, broker.Enqueue(ctx, newTestMessage("region_syd")))
	_, _, err := broker.Receive(ctx, "region_syd")
	require.NoError(t, err)

	stats, err := broker.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["region_syd"].Visible)
	assert.Equal(t, 1, stats["region_syd"].InFlight)
}
