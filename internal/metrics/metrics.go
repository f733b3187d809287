// Package metrics holds the Prometheus instruments of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_frames_processed_total",
			Help: "Frames that passed the time-window gate and were analyzed",
		},
		[]string{"camera"},
	)

	FramesGated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_frames_gated_total",
			Help: "Frames skipped because they fell inside the active window",
		},
		[]string{"camera"},
	)

	ThreatsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_threats_total",
			Help: "Threat records created, by level",
		},
		[]string{"camera", "level"},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_alerts_emitted_total",
			Help: "Outbound alerts decided by the cooldown selector",
		},
		[]string{"camera", "alert_type"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_alerts_suppressed_total",
			Help: "Alert-worthy frames suppressed by the per-camera cooldown",
		},
		[]string{"camera"},
	)

	AlertDeliveryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_alert_delivery_errors_total",
			Help: "Outbound alerts the backend did not accept",
		},
		[]string{"camera"},
	)

	// TimezoneFallbacks counts gate evaluations that used the frame's own wall
	// clock because the configured timezone could not be loaded.
	TimezoneFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_timezone_fallbacks_total",
			Help: "Gate evaluations done without the configured timezone",
		},
		[]string{"timezone"},
	)

	ConfigFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_config_fetches_total",
			Help: "Detection config lookups by outcome (fresh, cached, stale, default, malformed)",
		},
		[]string{"outcome"},
	)

	ActiveCameras = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "survwatch_active_camera_loops",
			Help: "Camera processing loops currently running",
		},
	)

	BackendCircuitState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "survwatch_backend_circuit_state",
			Help: "Backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "survwatch_video_jobs_total",
			Help: "Batch video jobs finished, by status",
		},
		[]string{"status"},
	)

	DetectionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "survwatch_detection_request_seconds",
			Help:    "Latency of detection model requests",
			Buckets: prometheus.DefBuckets,
		},
	)
)
