package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
	"github.com/ternarybob/fabrica/internal/models"
)

func newTestJob(customerID string, status models.JobStatus) *models.Job {
	return &models.Job{
		ID:          common.NewID(),
		Type:        models.JobTypeRunCommands,
		Status:      status,
		CustomerID:  customerID,
		UserID:      "user-1",
		RequestedAt: time.Now().UTC(),
	}
}

func TestTransitionStatus_HappyPath(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("cust-1", models.JobStatusQueued)
	require.NoError(t, storage.CreateJob(ctx, job))

	updated, err := storage.TransitionStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, updated.Status)
	require.NotNil(t, updated.StartedAt)
	assert.Nil(t, updated.FinishedAt)

	updated, err = storage.TransitionStatus(ctx, job.ID, models.JobStatusRunning, models.JobStatusSuccess)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSuccess, updated.Status)
	require.NotNil(t, updated.FinishedAt)
}

func TestTransitionStatus_IllegalEdge(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("cust-1", models.JobStatusQueued)
	require.NoError(t, storage.CreateJob(ctx, job))

	// queued -> success skips running and must be rejected before any write
	_, err := storage.TransitionStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusSuccess)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)

	stored, err := storage.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusQueued, stored.Status)
}

func TestTransitionStatus_LostRace(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("cust-1", models.JobStatusQueued)
	require.NoError(t, storage.CreateJob(ctx, job))

	// A concurrent cancel already moved the job out of queued
	_, err := storage.TransitionStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusCancelled)
	require.NoError(t, err)

	_, err = storage.TransitionStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusRunning)
	assert.ErrorIs(t, err, interfaces.ErrStatusConflict)
}

func TestTransitionStatus_MissingJob(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())

	_, err := storage.TransitionStatus(context.Background(), "missing", models.JobStatusQueued, models.JobStatusRunning)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestTransitionStatus_TerminalIsFinal(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	job := newTestJob("cust-1", models.JobStatusQueued)
	require.NoError(t, storage.CreateJob(ctx, job))

	_, err := storage.TransitionStatus(ctx, job.ID, models.JobStatusQueued, models.JobStatusCancelled)
	require.NoError(t, err)

	_, err = storage.TransitionStatus(ctx, job.ID, models.JobStatusCancelled, models.JobStatusQueued)
	assert.ErrorIs(t, err, interfaces.ErrInvalidTransition)
}

func TestListJobs_TenantScopeAndFilters(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	jobA := newTestJob("cust-a", models.JobStatusQueued)
	jobA.Targets.Hostname = "core-sw-01"
	jobB := newTestJob("cust-a", models.JobStatusSuccess)
	jobB.Type = models.JobTypeConfigBackup
	jobC := newTestJob("cust-b", models.JobStatusQueued)
	for _, job := range []*models.Job{jobA, jobB, jobC} {
		require.NoError(t, storage.CreateJob(ctx, job))
	}

	// Scope: only cust-a rows come back
	jobs, total, err := storage.ListJobs(ctx, interfaces.JobListOptions{CustomerIDs: []string{"cust-a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, jobs, 2)

	// Type filter
	jobs, total, err = storage.ListJobs(ctx, interfaces.JobListOptions{
		CustomerIDs: []string{"cust-a"},
		Type:        models.JobTypeConfigBackup,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobB.ID, jobs[0].ID)

	// Hostname substring filter matches the target descriptor
	jobs, _, err = storage.ListJobs(ctx, interfaces.JobListOptions{
		CustomerIDs: []string{"cust-a"},
		Hostname:    "core-sw",
	})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, jobA.ID, jobs[0].ID)

	// No scope means no rows, never a full scan
	jobs, total, err = storage.ListJobs(ctx, interfaces.JobListOptions{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, jobs)
}

func TestListJobs_Pagination(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := newTestJob("cust-a", models.JobStatusQueued)
		job.RequestedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, storage.CreateJob(ctx, job))
	}

	jobs, total, err := storage.ListJobs(ctx, interfaces.JobListOptions{
		CustomerIDs: []string{"cust-a"},
		Skip:        2,
		Limit:       2,
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 2)
	// Newest first
	assert.True(t, jobs[0].RequestedAt.After(jobs[1].RequestedAt))
}

func TestListScheduledDue(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	storage := NewJobStorage(db, arbor.NewLogger())
	ctx := context.Background()
	now := time.Now().UTC()

	due := newTestJob("cust-a", models.JobStatusScheduled)
	past := now.Add(-time.Minute)
	due.ScheduledFor = &past

	future := newTestJob("cust-a", models.JobStatusScheduled)
	later := now.Add(time.Hour)
	future.ScheduledFor = &later

	require.NoError(t, storage.CreateJob(ctx, due))
	require.NoError(t, storage.CreateJob(ctx, future))

	jobs, err := storage.ListScheduledDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)
}
