package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/detectconfig"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

const maxConfigBody = 1 << 20

// GetConfigHandler returns the snapshot a camera currently runs with.
func (h *Handlers) GetConfigHandler(w http.ResponseWriter, r *http.Request) {
	cameraID := mux.Vars(r)["camera_id"]

	cfg, ok := h.configs.Current(cameraID)
	if !ok {
		http.Error(w, "No config loaded for camera", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, detectconfig.ToPayload(cfg))
}

// PutConfigHandler replaces a camera's snapshot. A rejected payload leaves
// the current snapshot in place.
func (h *Handlers) PutConfigHandler(w http.ResponseWriter, r *http.Request) {
	cameraID := mux.Vars(r)["camera_id"]

	var payload models.DetectionConfigPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxConfigBody)).Decode(&payload); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	cfg, err := h.configs.SetPayload(cameraID, &payload)
	if err != nil {
		if errors.Is(err, detectconfig.ErrMalformedConfig) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		http.Error(w, "Failed to apply config", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, detectconfig.ToPayload(cfg))
}
