package runner

import (
	"context"
	"fmt"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/s3"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/threat"
)

// ParseVideoKey reads the camera id and recording start from a footage key
// of the form "<camera-id>/<YYYY-MM-DD>/video_<HHMMSS>.mp4". The time is a
// wall clock reading in loc.
func ParseVideoKey(key string, loc *time.Location) (cameraID string, start time.Time, ok bool) {
	parts := strings.Split(key, "/")
	if len(parts) < 3 {
		return "", time.Time{}, false
	}
	cameraID = parts[0]

	name := strings.TrimSuffix(parts[len(parts)-1], path.Ext(parts[len(parts)-1]))
	_, clock, found := strings.Cut(name, "_")
	if !found || len(clock) < 6 {
		return cameraID, time.Time{}, false
	}

	start, err := time.ParseInLocation("2006-01-02 150405", parts[len(parts)-2]+" "+clock[:6], loc)
	if err != nil {
		return cameraID, time.Time{}, false
	}
	return cameraID, start, true
}

// FrameNumber maps the index of a sampled frame to its frame number in the
// source video.
func FrameNumber(sampleIndex int, videoFPS, sampleFPS float64) int64 {
	return int64(math.Round(float64(sampleIndex) * videoFPS / sampleFPS))
}

// FrameTime is the wall clock time of a frame given the recording start.
func FrameTime(start time.Time, frameNumber int64, videoFPS float64) time.Time {
	return start.Add(time.Duration(float64(frameNumber) / videoFPS * float64(time.Second)))
}

// resolve fills the camera id and start time of a job from its key when
// the command does not carry them.
func (r *Runner) resolve(ctx context.Context, job models.VideoJob) (string, time.Time, *models.DetectionConfig, error) {
	cameraID := job.CameraID
	if cameraID == "" {
		cameraID, _, _ = ParseVideoKey(job.VideoKey, time.UTC)
	}
	if cameraID == "" {
		return "", time.Time{}, nil, fmt.Errorf("cannot tell camera of %q", job.VideoKey)
	}

	cfg := r.deps.Configs.Get(ctx, cameraID)
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}

	if job.VideoStart != nil {
		return cameraID, *job.VideoStart, cfg, nil
	}
	if _, start, ok := ParseVideoKey(job.VideoKey, loc); ok {
		return cameraID, start, cfg, nil
	}
	now := r.deps.Now().In(loc)
	log.Warn().Str("job", job.JobID).Str("video", job.VideoKey).Time("fallback", now).
		Msg("Runner: cannot parse recording time from key, using now")
	return cameraID, now, cfg, nil
}

// ProcessJob runs the whole analysis of one video.
func (r *Runner) ProcessJob(ctx context.Context, job models.VideoJob) (*models.ProcessingSummary, error) {
	began := r.deps.Now()

	cameraID, videoStart, cfg, err := r.resolve(ctx, job)
	if err != nil {
		return nil, err
	}

	workDir, err := os.MkdirTemp(r.settings.WorkDir, "job-")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	videoPath := filepath.Join(workDir, path.Base(job.VideoKey))
	log.Info().Str("job", job.JobID).Str("video", job.VideoKey).Msg("Runner: downloading video")
	if err := r.deps.Storage.DownloadVideo(ctx, job.VideoKey, videoPath); err != nil {
		return nil, err
	}

	fps := job.FPS
	if fps <= 0 {
		fps = r.deps.Media.ProbeFPS(ctx, videoPath, r.settings.DefaultFPS)
	}

	framesDir := filepath.Join(workDir, "frames")
	if err := os.MkdirAll(framesDir, 0o755); err != nil {
		return nil, err
	}
	frames, err := r.deps.Media.ExtractFrames(ctx, videoPath, framesDir, r.settings.SampleFPS)
	if err != nil {
		return nil, err
	}

	batches, err := r.detectFrames(ctx, job.JobID, cameraID, frames, videoStart, fps)
	if err != nil {
		return nil, err
	}

	records := threat.NewEngine(cfg).Analyze(batches)
	report := threat.NewReport(records)
	prefix := s3.AnalysisPrefix(cameraID, videoStart)
	if err := r.deps.Storage.UploadJSON(ctx, s3.ReportKey(prefix), report); err != nil {
		return nil, err
	}

	alerts := threat.AlertWorthy(records)
	clipsDir := filepath.Join(workDir, "flagged_clips")
	if err := os.MkdirAll(clipsDir, 0o755); err != nil {
		return nil, err
	}
	clips := r.cutClips(ctx, job.JobID, videoPath, clipsDir, prefix, alerts, fps)

	summary := &models.ProcessingSummary{
		VideoKey:              job.VideoKey,
		CameraID:              cameraID,
		VideoDatetime:         videoStart,
		ProcessedAt:           r.deps.Now().UTC(),
		ProcessingTimeSeconds: math.Round(r.deps.Now().Sub(began).Seconds()*10) / 10,
		FramesAnalyzed:        len(batches),
		ThreatSummary:         report.Summary,
		ClipsExtracted:        clips,
		AlertsToSend:          len(alerts),
	}
	if err := r.deps.Storage.UploadJSON(ctx, s3.SummaryKey(prefix), summary); err != nil {
		return nil, err
	}

	var notification []byte
	if len(alerts) > 0 {
		notification, err = json.Marshal(models.ThreatNotification{
			JobID:           job.JobID,
			CameraID:        cameraID,
			VideoStart:      videoStart,
			ResultsLocation: r.deps.Storage.Location(prefix),
			Summary:         report.Summary,
			Threats:         alerts,
		})
		if err != nil {
			return nil, err
		}
	}

	err = r.deps.DB.InTx(ctx, func(ctx context.Context) error {
		if err := r.deps.DB.SaveThreats(ctx, job.JobID, cameraID, records); err != nil {
			return err
		}
		if notification != nil {
			if _, err := r.deps.DB.AddToOutbox(ctx, job.JobID, cameraID, notification); err != nil {
				return err
			}
		}
		return r.deps.DB.UpdateJobStatus(ctx, job.JobID, models.JobDone)
	})
	if err != nil {
		return nil, fmt.Errorf("persist results: %w", err)
	}
	return summary, nil
}

// detectFrames sends every sampled frame to the model and returns one batch
// per frame that was detected. Results cached by an earlier attempt of the
// same job are reused.
func (r *Runner) detectFrames(ctx context.Context, jobID, cameraID string, frames []string, start time.Time, fps float64) ([]models.FrameBatch, error) {
	cached, err := r.deps.Storage.LoadDetectionResults(ctx, jobID)
	if err != nil {
		log.Warn().Err(err).Str("job", jobID).Msg("Runner: cannot load cached detections")
		cached = nil
	}
	if len(cached) > 0 {
		log.Info().Str("job", jobID).Int("cached", len(cached)).Msg("Runner: resuming from cached detections")
	}

	timer := time.NewTicker(r.deps.Heartbeat)
	defer timer.Stop()

	batches := make([]models.FrameBatch, 0, len(frames))
	for idx, frame := range frames {
		detections, ok := cached[idx]
		if !ok {
			detections, ok = r.detectWithRetries(ctx, jobID, cameraID, frame)
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !ok {
				log.Warn().Str("job", jobID).Int("frame", idx).Msg("Runner: failed to process frame, skipped")
				continue
			}
			if err := r.deps.Storage.SaveDetectionResults(ctx, jobID, idx, detections); err != nil {
				log.Warn().Err(err).Str("job", jobID).Int("frame", idx).Msg("Runner: save detection error")
			}
		}

		frameNumber := FrameNumber(idx, fps, r.settings.SampleFPS)
		batches = append(batches, models.FrameBatch{
			FrameNumber: frameNumber,
			Timestamp:   FrameTime(start, frameNumber, fps),
			Detections:  detections,
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			if err := r.deps.DB.TouchJob(ctx, jobID, int64(idx+1)); err != nil {
				log.Error().Err(err).Str("job", jobID).Msg("Runner: error updating job heartbeat")
			}
			r.heartbeat(jobID, models.JobProcessing, int64(idx+1))
		default:
		}
	}
	return batches, nil
}

func (r *Runner) detectWithRetries(ctx context.Context, jobID, cameraID, framePath string) ([]models.Detection, bool) {
	data, err := os.ReadFile(framePath)
	if err != nil {
		log.Error().Err(err).Str("job", jobID).Str("frame", framePath).Msg("Runner: cannot read frame")
		return nil, false
	}

	for attempt := 0; attempt < retries; attempt++ {
		if ctx.Err() != nil {
			return nil, false
		}
		detections, err := r.deps.Detector.Detect(ctx, data, cameraID)
		if err != nil {
			log.Warn().Err(err).Str("job", jobID).Int("attempt", attempt+1).Msg("Runner: detection error")
			continue
		}
		return detections, true
	}
	return nil, false
}

// cutClips extracts and uploads one clip per group of alert-worthy records
// and returns how many made it. A failed clip is logged and skipped.
func (r *Runner) cutClips(ctx context.Context, jobID, videoPath, dir, prefix string, alerts []models.ThreatRecord, fps float64) int {
	clips := threat.PlanClips(alerts, r.settings.ClipSeconds, fps)
	if len(clips) > 0 {
		log.Info().Str("job", jobID).Int("clips", len(clips)).Msg("Runner: extracting threat clips")
	}

	done := 0
	for _, clip := range clips {
		out := filepath.Join(dir, clip.Label+".mp4")
		if err := r.deps.Media.ExtractClip(ctx, videoPath, out, clip.StartSeconds, clip.DurationSeconds); err != nil {
			log.Error().Err(err).Str("job", jobID).Str("clip", clip.Label).Msg("Runner: clip extraction failed")
			continue
		}
		if err := r.deps.Storage.UploadFile(ctx, s3.ClipKey(prefix, clip.Label), out, "video/mp4"); err != nil {
			log.Error().Err(err).Str("job", jobID).Str("clip", clip.Label).Msg("Runner: clip upload failed")
			continue
		}
		done++
	}
	return done
}
