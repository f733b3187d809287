// Package backend is the client of the camera management backend: active
// camera list, per-camera detection config and alert intake.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// ErrBackendUnavailable is returned while the circuit breaker is open.
var ErrBackendUnavailable = errors.New("backend unavailable")

const breakerName = "camera-backend"

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	metrics.BackendCircuitState.WithLabelValues(breakerName).Set(0)

	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// 4xx answers mean the backend is up.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			return err == nil || (errors.As(err, &se) && se.Code < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Backend circuit state changed")
			metrics.BackendCircuitState.WithLabelValues(name).Set(stateValue(to))
		},
	})

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		cb:      cb,
	}
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

type cameraPayload struct {
	ID      json.Number `json:"id"`
	Name    string      `json:"name"`
	RTSPURL string      `json:"rtsp_url"`
}

// ActiveCameras lists the cameras the pipeline should watch.
func (c *Client) ActiveCameras(ctx context.Context) ([]models.Camera, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/active-cameras/", nil)
	if err != nil {
		return nil, fmt.Errorf("active cameras: %w", err)
	}

	var payload []cameraPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode active cameras: %w", err)
	}

	cameras := make([]models.Camera, 0, len(payload))
	for _, p := range payload {
		if p.ID == "" || p.RTSPURL == "" {
			log.Warn().Str("camera", p.ID.String()).Msg("Skipping camera without id or stream url")
			continue
		}
		cameras = append(cameras, models.Camera{ID: p.ID.String(), Name: p.Name, RTSPURL: p.RTSPURL})
	}
	return cameras, nil
}

// DetectionConfig fetches the raw config payload of one camera.
func (c *Client) DetectionConfig(ctx context.Context, cameraID string) (*models.DetectionConfigPayload, error) {
	path := fmt.Sprintf("/api/cameras/%s/detection-config/", url.PathEscape(cameraID))
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("detection config %s: %w", cameraID, err)
	}

	var p models.DetectionConfigPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode detection config %s: %w", cameraID, err)
	}
	return &p, nil
}

// SendAlert delivers one alert. The caller decides what to do on failure.
func (c *Client) SendAlert(ctx context.Context, alert models.AlertRequest) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if _, err := c.do(ctx, http.MethodPost, "/api/send-alert/", data); err != nil {
		return fmt.Errorf("send alert for camera %s: %w", alert.CameraID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Token "+c.token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("http request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
		}
		return data, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return body, err
}

func stateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
