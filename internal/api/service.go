// Package api serves the operations HTTP interface: health, metrics, camera
// loop status, detection config overrides and batch job submission.
package api

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/camera"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type CameraLister interface {
	Cameras() []camera.Status
}

type ConfigStore interface {
	Current(cameraID string) (*models.DetectionConfig, bool)
	SetPayload(cameraID string, p *models.DetectionConfigPayload) (*models.DetectionConfig, error)
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	GetThreats(ctx context.Context, jobID string) ([]models.ThreatRecord, error)
}

type JobPublisher interface {
	SendJob(job models.VideoJob) error
}

type Handlers struct {
	cameras   CameraLister
	configs   ConfigStore
	jobs      JobStore
	publisher JobPublisher
}

// NewHandlers wires the live pipeline endpoints. Job endpoints are added
// with WithJobs when the batch runner is enabled.
func NewHandlers(cameras CameraLister, configs ConfigStore) *Handlers {
	return &Handlers{cameras: cameras, configs: configs}
}

func (h *Handlers) WithJobs(jobs JobStore, publisher JobPublisher) *Handlers {
	h.jobs = jobs
	h.publisher = publisher
	return h
}

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.HealthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/cameras", h.ListCamerasHandler).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{camera_id}/config", h.GetConfigHandler).Methods(http.MethodGet)
	r.HandleFunc("/cameras/{camera_id}/config", h.PutConfigHandler).Methods(http.MethodPut)
	if h.jobs != nil && h.publisher != nil {
		r.HandleFunc("/jobs", h.CreateJobHandler).Methods(http.MethodPost)
		r.HandleFunc("/jobs/{job_id}", h.GetJobHandler).Methods(http.MethodGet)
	}
	return r
}

func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) ListCamerasHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.cameras.Cameras())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("API: failed to encode response")
	}
}
