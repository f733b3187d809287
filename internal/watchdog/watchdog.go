// Package watchdog requeues batch jobs whose runner stopped reporting.
package watchdog

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type JobStore interface {
	FindStuckJobs(ctx context.Context, interval time.Duration) ([]models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error
}

type JobPublisher interface {
	SendJob(job models.VideoJob) error
}

type Watchdog struct {
	db            JobStore
	publisher     JobPublisher
	watchInterval time.Duration
	staleAfter    time.Duration
}

// New returns a watchdog that checks every watchInterval for processing jobs
// silent for longer than staleAfter.
func New(db JobStore, publisher JobPublisher, watchInterval, staleAfter time.Duration) *Watchdog {
	return &Watchdog{
		db:            db,
		publisher:     publisher,
		watchInterval: watchInterval,
		staleAfter:    staleAfter,
	}
}

func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Watchdog stopped")
			return
		case <-ticker.C:
			w.CheckJobs(ctx)
		}
	}
}

// CheckJobs requeues stuck jobs and returns how many were restarted.
func (w *Watchdog) CheckJobs(ctx context.Context) int {
	jobs, err := w.db.FindStuckJobs(ctx, w.staleAfter)
	if err != nil {
		log.Error().Err(err).Msg("Watchdog: failed to find stuck jobs")
		return 0
	}

	restarted := 0
	for _, job := range jobs {
		log.Warn().Str("job", job.ID).Time("last_heartbeat", job.UpdatedAt).Msg("Watchdog: found stuck job, requeueing")

		if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobQueued); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("Watchdog: failed to update job status")
			continue
		}

		if err := w.publisher.SendJob(models.VideoJob{
			JobID:    job.ID,
			CameraID: job.CameraID,
			VideoKey: job.VideoKey,
		}); err != nil {
			log.Error().Err(err).Str("job", job.ID).Msg("Watchdog: failed to republish job")
			continue
		}
		restarted++
	}
	return restarted
}
