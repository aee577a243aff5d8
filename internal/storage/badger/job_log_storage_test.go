package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/models"
)

func TestAppendLog_TimestampsStrictlyIncrease(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		require.NoError(t, storage.AppendLog(ctx, &models.JobLog{
			JobID:   "job-1",
			Level:   models.LogInfo,
			Message: "tick",
		}))
	}

	logs, err := storage.ListLogs(ctx, "job-1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, logs, 20)
	for i := 1; i < len(logs); i++ {
		assert.True(t, logs[i].TS.After(logs[i-1].TS), "row %d does not advance past row %d", i, i-1)
	}
}

func TestListLogs_SinceTailIsComplete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobLogStorage(db, arbor.NewLogger())
	ctx := context.Background()

	first := &models.JobLog{JobID: "job-1", Level: models.LogInfo, Host: "sw-01", Message: "Connected"}
	require.NoError(t, storage.AppendLog(ctx, first))
	// Appended in the same clock instant as far as the wall clock is
	// concerned; the tail must still pick it up
	second := &models.JobLog{JobID: "job-1", Level: models.LogInfo, Host: "sw-02", Message: "Connected"}
	require.NoError(t, storage.AppendLog(ctx, second))

	tail, err := storage.ListLogs(ctx, "job-1", first.TS, 0)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "sw-02", tail[0].Host)
}
