package database

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// openTestDB connects to SURVWATCH_TEST_DSN, or skips.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	dsn := os.Getenv("SURVWATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("SURVWATCH_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.Init(ctx))
	t.Cleanup(func() { db.Close() })
	return db
}

func TestJobLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &models.Job{ID: uuid.NewString(), CameraID: "3", VideoKey: "3/2025-01-15/video_233000.mp4"}
	require.NoError(t, db.CreateJob(ctx, job))
	require.NoError(t, db.CreateJob(ctx, job), "duplicate create is a no-op")

	got, err := db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.JobQueued, got.Status)

	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, models.JobProcessing))
	require.NoError(t, db.TouchJob(ctx, job.ID, 42))
	assert.ErrorIs(t, db.UpdateJobStatus(ctx, job.ID, models.JobProcessing), ErrInvalidTransition)

	stuck, err := db.FindStuckJobs(ctx, -time.Minute)
	require.NoError(t, err)
	assert.Contains(t, jobIDs(stuck), job.ID)

	require.NoError(t, db.UpdateJobStatus(ctx, job.ID, models.JobDone))
	got, err = db.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobDone, got.Status)
	assert.Equal(t, int64(42), got.FramesDone)

	missing, err := db.GetJob(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestThreatsAndOutboxInOneTx(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	job := &models.Job{ID: uuid.NewString(), CameraID: "3", VideoKey: "k"}
	require.NoError(t, db.CreateJob(ctx, job))

	records := []models.ThreatRecord{{
		FrameNumber: 100,
		Timestamp:   time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC),
		ObjectClass: "person",
		Confidence:  0.85,
		BBox:        []float64{100, 100, 200, 300},
		ThreatLevel: models.ThreatHigh,
		Alert:       true,
		Reason:      "Person detected (HIGH threat)",
	}}

	var outboxID string
	require.NoError(t, db.InTx(ctx, func(ctx context.Context) error {
		if err := db.SaveThreats(ctx, job.ID, job.CameraID, records); err != nil {
			return err
		}
		var err error
		outboxID, err = db.AddToOutbox(ctx, job.ID, job.CameraID, []byte(`{"job_id":"x"}`))
		return err
	}))

	saved, err := db.GetThreats(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, records[0].BBox, saved[0].BBox)
	assert.True(t, saved[0].Timestamp.Equal(records[0].Timestamp))

	pending, err := db.GetPendingOutboxMessages(ctx, 100)
	require.NoError(t, err)
	require.Contains(t, outboxIDs(pending), outboxID)
	require.NoError(t, db.MarkOutboxMessageAsProcessed(ctx, outboxID))
	pending, err = db.GetPendingOutboxMessages(ctx, 100)
	require.NoError(t, err)
	assert.NotContains(t, outboxIDs(pending), outboxID)

	// A failing transaction leaves nothing behind.
	rollback := errors.New("rollback")
	err = db.InTx(ctx, func(ctx context.Context) error {
		if err := db.SaveThreats(ctx, job.ID, job.CameraID, records); err != nil {
			return err
		}
		return rollback
	})
	assert.ErrorIs(t, err, rollback)
	saved, err = db.GetThreats(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func jobIDs(jobs []models.Job) []string {
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	return ids
}

func outboxIDs(msgs []models.OutboxMessage) []string {
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	return ids
}
