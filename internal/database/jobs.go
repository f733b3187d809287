package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

const jobColumns = `id, camera_id, video_key, status, frames_done, created_at, updated_at`

// CreateJob inserts a queued job. An existing job with the same id is kept.
func (d *Database) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	job.Status = models.JobQueued
	job.CreatedAt = now
	job.UpdatedAt = now

	_, err := d.querier(ctx).ExecContext(ctx,
		`INSERT INTO video_jobs (`+jobColumns+`) VALUES ($1, $2, $3, $4, 0, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
		job.ID,
		job.CameraID,
		job.VideoKey,
		job.Status,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob returns nil without error when the job does not exist.
func (d *Database) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := d.querier(ctx).QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus moves a job to status if the transition is allowed.
func (d *Database) UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error {
	return d.InTx(ctx, func(ctx context.Context) error {
		var current models.JobStatus
		err := d.querier(ctx).QueryRowContext(ctx,
			`SELECT status FROM video_jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&current)
		if err != nil {
			return fmt.Errorf("read status of job %s: %w", jobID, err)
		}
		if err := checkTransition(jobID, current, status); err != nil {
			return err
		}

		_, err = d.querier(ctx).ExecContext(ctx,
			`UPDATE video_jobs SET status = $1, updated_at = $2 WHERE id = $3`,
			status, time.Now().UTC(), jobID)
		return err
	})
}

// TouchJob records progress; updated_at doubles as the job heartbeat.
func (d *Database) TouchJob(ctx context.Context, jobID string, framesDone int64) error {
	_, err := d.querier(ctx).ExecContext(ctx,
		`UPDATE video_jobs SET frames_done = $1, updated_at = $2 WHERE id = $3`,
		framesDone, time.Now().UTC(), jobID)
	return err
}

// FindStuckJobs returns processing jobs without a heartbeat for longer than
// interval.
func (d *Database) FindStuckJobs(ctx context.Context, interval time.Duration) ([]models.Job, error) {
	rows, err := d.querier(ctx).QueryContext(ctx,
		`SELECT `+jobColumns+` FROM video_jobs WHERE status = $1 AND updated_at < $2`,
		models.JobProcessing, time.Now().UTC().Add(-interval))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (*models.Job, error) {
	var job models.Job
	err := s.Scan(
		&job.ID,
		&job.CameraID,
		&job.VideoKey,
		&job.Status,
		&job.FramesDone,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}
