// Package runner analyzes recorded footage: it consumes VideoJob commands
// from Kafka and turns each video into a threat report, clips and a
// notification.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/kafka"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

const (
	retries           = 5
	heartbeatInterval = 5 * time.Second
)

type Storage interface {
	DownloadVideo(ctx context.Context, key, dest string) error
	UploadJSON(ctx context.Context, key string, v any) error
	UploadFile(ctx context.Context, key, filePath, contentType string) error
	Location(prefix string) string
	SaveDetectionResults(ctx context.Context, jobID string, frameIndex int, detections []models.Detection) error
	LoadDetectionResults(ctx context.Context, jobID string) (map[int][]models.Detection, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status models.JobStatus) error
	TouchJob(ctx context.Context, jobID string, framesDone int64) error
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
	SaveThreats(ctx context.Context, jobID, cameraID string, records []models.ThreatRecord) error
	AddToOutbox(ctx context.Context, jobID, cameraID string, payload []byte) (string, error)
}

type Publisher interface {
	SendHeartbeat(hb models.Heartbeat) error
}

type Detector interface {
	Detect(ctx context.Context, jpeg []byte, source string) ([]models.Detection, error)
}

type ConfigProvider interface {
	Get(ctx context.Context, cameraID string) *models.DetectionConfig
}

type MessageSource interface {
	Messages() <-chan kafka.Message
}

type Settings struct {
	// SampleFPS is how many frames per second of footage are analyzed.
	SampleFPS float64
	// DefaultFPS is used when the video frame rate cannot be probed.
	DefaultFPS  float64
	ClipSeconds float64
	// WorkDir holds per-job temporary files; empty means the OS temp dir.
	WorkDir       string
	MaxConcurrent int
}

type Deps struct {
	DB        JobStore
	Storage   Storage
	Detector  Detector
	Configs   ConfigProvider
	Producer  Publisher
	Consumer  MessageSource
	Media     Media
	Now       func() time.Time
	Heartbeat time.Duration
}

type Runner struct {
	deps     Deps
	settings Settings
	slots    chan struct{}

	activeRunners map[string]context.CancelFunc
	mu            sync.Mutex
	wg            sync.WaitGroup
}

func New(deps Deps, settings Settings) *Runner {
	if deps.Media == nil {
		deps.Media = FFmpeg{}
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = heartbeatInterval
	}
	if settings.SampleFPS <= 0 {
		settings.SampleFPS = 1
	}
	if settings.DefaultFPS <= 0 {
		settings.DefaultFPS = 30
	}
	if settings.ClipSeconds <= 0 {
		settings.ClipSeconds = 30
	}
	if settings.MaxConcurrent <= 0 {
		settings.MaxConcurrent = 1
	}
	return &Runner{
		deps:          deps,
		settings:      settings,
		slots:         make(chan struct{}, settings.MaxConcurrent),
		activeRunners: make(map[string]context.CancelFunc),
	}
}

// ListenAndRun starts a job for every consumed command. A message is
// acknowledged only once its job was accepted.
func (r *Runner) ListenAndRun(ctx context.Context) {
	log.Info().Msg("Runner: listening for video jobs")
	defer r.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Runner: shutting down")
			return
		case msg, ok := <-r.deps.Consumer.Messages():
			if !ok {
				log.Info().Msg("Runner: consumer closed")
				return
			}
			var job models.VideoJob
			if err := json.Unmarshal(msg.Value, &job); err != nil {
				log.Error().Err(err).Msg("Runner: invalid message format")
				continue
			}
			log.Info().Str("job", job.JobID).Str("video", job.VideoKey).Msg("Runner: received video job")

			if err := r.Start(ctx, job); err != nil {
				log.Error().Err(err).Str("job", job.JobID).Msg("Runner: error starting job")
				continue
			}
			msg.Ack()
		}
	}
}

// Start registers the job and processes it in the background. It blocks
// while all job slots are busy.
func (r *Runner) Start(ctx context.Context, job models.VideoJob) error {
	if job.JobID == "" || job.VideoKey == "" {
		return fmt.Errorf("job %q: missing job id or video key", job.JobID)
	}

	r.mu.Lock()
	_, running := r.activeRunners[job.JobID]
	r.mu.Unlock()
	if running {
		log.Info().Str("job", job.JobID).Msg("Runner: job already running")
		return nil
	}

	proceed, err := r.claim(ctx, job)
	if err != nil || !proceed {
		return err
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	r.mu.Lock()
	childCtx, cancel := context.WithCancel(ctx)
	r.activeRunners[job.JobID] = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			<-r.slots
			r.mu.Lock()
			delete(r.activeRunners, job.JobID)
			r.mu.Unlock()
			cancel()
			log.Info().Str("job", job.JobID).Msg("Runner: job finished")
		}()

		r.run(childCtx, job)
	}()
	return nil
}

// claim moves the job to processing. Finished jobs are skipped.
func (r *Runner) claim(ctx context.Context, job models.VideoJob) (bool, error) {
	existing, err := r.deps.DB.GetJob(ctx, job.JobID)
	if err != nil {
		return false, err
	}

	switch {
	case existing == nil:
		if err := r.deps.DB.CreateJob(ctx, &models.Job{ID: job.JobID, CameraID: job.CameraID, VideoKey: job.VideoKey}); err != nil {
			return false, err
		}
	case existing.Status == models.JobDone:
		log.Info().Str("job", job.JobID).Msg("Runner: job already done, skipping")
		return false, nil
	case existing.Status == models.JobProcessing:
		log.Info().Str("job", job.JobID).Msg("Runner: job is processed elsewhere, skipping")
		return false, nil
	case existing.Status == models.JobFailed:
		if err := r.deps.DB.UpdateJobStatus(ctx, job.JobID, models.JobQueued); err != nil {
			return false, err
		}
	}

	if err := r.deps.DB.UpdateJobStatus(ctx, job.JobID, models.JobProcessing); err != nil {
		return false, err
	}
	r.heartbeat(job.JobID, models.JobProcessing, 0)
	return true, nil
}

func (r *Runner) run(ctx context.Context, job models.VideoJob) {
	summary, err := r.ProcessJob(ctx, job)
	switch {
	case err == nil:
		metrics.JobsCompleted.WithLabelValues(string(models.JobDone)).Inc()
		r.heartbeat(job.JobID, models.JobDone, int64(summary.FramesAnalyzed))
		log.Info().Str("job", job.JobID).Int("threats", summary.ThreatSummary.TotalThreats).
			Int("alerts", summary.AlertsToSend).Float64("seconds", summary.ProcessingTimeSeconds).
			Msg("Runner: job done")
	case errors.Is(err, context.Canceled):
		// left in processing; the watchdog requeues it
		log.Warn().Str("job", job.JobID).Msg("Runner: job interrupted")
	default:
		metrics.JobsCompleted.WithLabelValues(string(models.JobFailed)).Inc()
		log.Error().Err(err).Str("job", job.JobID).Msg("Runner: job failed")
		if err := r.deps.DB.UpdateJobStatus(context.WithoutCancel(ctx), job.JobID, models.JobFailed); err != nil {
			log.Error().Err(err).Str("job", job.JobID).Msg("Runner: error marking job failed")
		}
		r.heartbeat(job.JobID, models.JobFailed, 0)
	}
}

func (r *Runner) heartbeat(jobID string, status models.JobStatus, frame int64) {
	if err := r.deps.Producer.SendHeartbeat(models.Heartbeat{
		JobID:     jobID,
		Status:    status,
		Frame:     frame,
		TimeStamp: r.deps.Now().UTC(),
	}); err != nil {
		log.Error().Err(err).Str("job", jobID).Msg("Runner: error sending heartbeat")
	}
}

// Stop cancels a running job and reports whether it was running.
func (r *Runner) Stop(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancel, ok := r.activeRunners[jobID]; ok {
		cancel()
		log.Info().Str("job", jobID).Msg("Runner: job stopped")
		return true
	}
	return false
}

// Wait blocks until every started job has returned.
func (r *Runner) Wait() {
	r.wg.Wait()
}
