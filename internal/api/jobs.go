package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type createJobRequest struct {
	CameraID   string     `json:"camera_id"`
	VideoKey   string     `json:"video_key"`
	VideoStart *time.Time `json:"video_start"`
	FPS        float64    `json:"fps"`
}

type jobResponse struct {
	Job     *models.Job           `json:"job"`
	Threats []models.ThreatRecord `json:"threats,omitempty"`
}

// CreateJobHandler queues the analysis of a video already in the footage
// bucket.
func (h *Handlers) CreateJobHandler(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.VideoKey == "" {
		http.Error(w, "video_key is required", http.StatusBadRequest)
		return
	}
	if req.FPS < 0 {
		http.Error(w, "fps must not be negative", http.StatusBadRequest)
		return
	}

	job := &models.Job{
		ID:       uuid.New().String(),
		CameraID: req.CameraID,
		VideoKey: req.VideoKey,
	}
	if err := h.jobs.CreateJob(r.Context(), job); err != nil {
		log.Error().Err(err).Msg("API: failed to create job")
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := h.publisher.SendJob(models.VideoJob{
		JobID:      job.ID,
		CameraID:   req.CameraID,
		VideoKey:   req.VideoKey,
		VideoStart: req.VideoStart,
		FPS:        req.FPS,
	}); err != nil {
		// the job row stays queued; resubmitting the key creates a new job
		log.Error().Err(err).Str("job", job.ID).Msg("API: failed to publish job")
		http.Error(w, "Failed to queue job", http.StatusBadGateway)
		return
	}

	log.Info().Str("job", job.ID).Str("video", job.VideoKey).Msg("API: job queued")
	writeJSON(w, http.StatusAccepted, jobResponse{Job: job})
}

// GetJobHandler returns a job and, once done, its threat records.
func (h *Handlers) GetJobHandler(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["job_id"]

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	resp := jobResponse{Job: job}
	if job.Status == models.JobDone {
		resp.Threats, err = h.jobs.GetThreats(r.Context(), jobID)
		if err != nil {
			http.Error(w, "Failed to fetch threats", http.StatusInternalServerError)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
