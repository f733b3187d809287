// Package camera runs the live processing loop of one camera stream:
// read, gate, detect, classify, cooldown, alert.
package camera

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/threat"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/video"
)

type Detector interface {
	Detect(ctx context.Context, jpeg []byte, source string) ([]models.Detection, error)
}

type AlertSender interface {
	SendAlert(ctx context.Context, alert models.AlertRequest) error
}

type ConfigProvider interface {
	Get(ctx context.Context, cameraID string) *models.DetectionConfig
}

// Opener starts decoding a stream at sampleFPS frames per second. The source
// must stop when ctx ends.
type Opener func(ctx context.Context, url string, sampleFPS float64) (video.Source, error)

// Prober reports the native frame rate of a stream, or 0 if unknown.
type Prober func(ctx context.Context, url string) float64

// errResample ends a stream whose frame_skip no longer matches its rate.
var errResample = errors.New("frame skip changed")

type Settings struct {
	// StreamTimeout bounds the wait for each frame.
	StreamTimeout time.Duration
	// ReconnectDelay is the pause between a disconnect and the next attempt.
	ReconnectDelay time.Duration
	AlertCooldown  time.Duration
	// NativeFPS is assumed when the stream rate cannot be probed.
	NativeFPS float64
	// RequestTimeout bounds detection, config and alert calls.
	RequestTimeout time.Duration
}

type Deps struct {
	Detector Detector
	Alerts   AlertSender
	Configs  ConfigProvider
	Open     Opener
	// Probe is optional; without it every stream runs at NativeFPS.
	Probe Prober
	// Now defaults to time.Now.
	Now func() time.Time
}

// Status is a point-in-time view of a loop for the ops API.
type Status struct {
	CameraID        string     `json:"camera_id"`
	Name            string     `json:"name,omitempty"`
	Connected       bool       `json:"connected"`
	FramesRead      int64      `json:"frames_read"`
	FramesProcessed int64      `json:"frames_processed"`
	AlertsSent      int64      `json:"alerts_sent"`
	LastAlert       *time.Time `json:"last_alert,omitempty"`
	Degraded        bool       `json:"timezone_degraded"`
}

// Loop owns all mutable state of one camera: its cooldown and the compiled
// engine of the config snapshot in use. Only Run's goroutine touches them.
type Loop struct {
	camera   models.Camera
	deps     Deps
	settings Settings
	logger   zerolog.Logger

	cooldown *threat.Cooldown
	cfg      *models.DetectionConfig
	engine   *threat.Engine

	mu     sync.Mutex
	status Status
}

func NewLoop(cam models.Camera, deps Deps, settings Settings) *Loop {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if settings.StreamTimeout <= 0 {
		settings.StreamTimeout = 10 * time.Second
	}
	if settings.RequestTimeout <= 0 {
		settings.RequestTimeout = 10 * time.Second
	}
	if settings.NativeFPS <= 0 {
		settings.NativeFPS = 30
	}
	return &Loop{
		camera:   cam,
		deps:     deps,
		settings: settings,
		logger:   log.With().Str("camera", cam.ID).Logger(),
		cooldown: threat.NewCooldownWithClock(settings.AlertCooldown, deps.Now),
		status:   Status{CameraID: cam.ID, Name: cam.Name},
	}
}

func (l *Loop) Camera() models.Camera {
	return l.camera
}

// Inherit carries the alert cooldown of a loop that ran for the same camera,
// so a restart does not open a new cooldown window. prev must have exited.
func (l *Loop) Inherit(prev *Loop) {
	l.cooldown = prev.cooldown
	last := prev.Status()
	l.mu.Lock()
	l.status.AlertsSent = last.AlertsSent
	l.status.LastAlert = last.LastAlert
	l.mu.Unlock()
}

func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

// Run processes the stream until ctx is done, reconnecting after every
// disconnect.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info().Msg("Camera loop started")
	defer l.logger.Info().Msg("Camera loop stopped")

	for {
		err := l.stream(ctx)
		l.setConnected(false)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errResample) {
			l.logger.Info().Int("frame_skip", l.cfg.FrameSkip).Msg("Frame skip changed, reopening stream")
			continue
		}
		l.logger.Warn().Err(err).Dur("retry_in", l.settings.ReconnectDelay).Msg("Stream disconnected")

		select {
		case <-ctx.Done():
			return
		case <-time.After(l.settings.ReconnectDelay):
		}
	}
}

func (l *Loop) stream(ctx context.Context) error {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.refreshConfig(ctx)
	skip := frameSkip(l.cfg)
	native := l.nativeFPS(streamCtx)
	sampleFPS := native / float64(skip)

	l.logger.Info().Float64("native_fps", native).Int("frame_skip", skip).
		Float64("sample_fps", sampleFPS).Msg("Connecting to stream")
	src, err := l.deps.Open(streamCtx, l.camera.RTSPURL, sampleFPS)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("Stream close")
		}
	}()

	for {
		frame, err := l.next(streamCtx, src)
		if err != nil {
			return err
		}
		l.setConnected(true)
		l.ProcessFrame(ctx, frame)
		if frameSkip(l.cfg) != skip {
			return errResample
		}
	}
}

func (l *Loop) nativeFPS(ctx context.Context) float64 {
	if l.deps.Probe == nil {
		return l.settings.NativeFPS
	}
	probeCtx, cancel := context.WithTimeout(ctx, l.settings.StreamTimeout)
	defer cancel()
	if fps := l.deps.Probe(probeCtx, l.camera.RTSPURL); fps > 0 {
		return fps
	}
	return l.settings.NativeFPS
}

// frameSkip is the decimation applied to the native stream: one frame in
// every FrameSkip is decoded.
func frameSkip(cfg *models.DetectionConfig) int {
	if cfg == nil || cfg.FrameSkip < 1 {
		return 1
	}
	return cfg.FrameSkip
}

func (l *Loop) next(ctx context.Context, src video.Source) (video.Frame, error) {
	readCtx, cancel := context.WithTimeout(ctx, l.settings.StreamTimeout)
	defer cancel()
	return src.Next(readCtx)
}

// ProcessFrame runs one already sampled frame through the pipeline and
// reports what was decided. Failures are logged; they never stop the loop.
func (l *Loop) ProcessFrame(ctx context.Context, frame video.Frame) ([]models.ThreatRecord, threat.Decision) {
	l.mu.Lock()
	l.status.FramesRead++
	l.mu.Unlock()

	engine := l.refreshConfig(ctx)
	if !engine.ShouldProcess(frame.Timestamp) {
		metrics.FramesGated.WithLabelValues(l.camera.ID).Inc()
		return nil, threat.NoAlert
	}

	detections, err := l.detect(ctx, frame)
	if err != nil {
		l.logger.Warn().Err(err).Int64("frame", frame.Number).Msg("Detection failed, frame skipped")
		return nil, threat.NoAlert
	}

	records, _ := engine.AnalyzeFrame(models.FrameBatch{
		FrameNumber: frame.Number,
		Timestamp:   frame.Timestamp,
		Detections:  detections,
	})
	metrics.FramesProcessed.WithLabelValues(l.camera.ID).Inc()
	for _, r := range records {
		metrics.ThreatsRecorded.WithLabelValues(l.camera.ID, string(r.ThreatLevel)).Inc()
		l.logger.Info().Int64("frame", r.FrameNumber).Str("class", r.ObjectClass).
			Str("level", string(r.ThreatLevel)).Bool("alert", r.Alert).Msg(r.Reason)
	}
	l.mu.Lock()
	l.status.FramesProcessed++
	l.mu.Unlock()

	best, decision := l.cooldown.Select(records)
	switch decision {
	case threat.Suppressed:
		metrics.AlertsSuppressed.WithLabelValues(l.camera.ID).Inc()
	case threat.Emit:
		l.emit(ctx, best, frame.JPEG)
	}
	return records, decision
}

func (l *Loop) refreshConfig(ctx context.Context) *threat.Engine {
	reqCtx, cancel := context.WithTimeout(ctx, l.settings.RequestTimeout)
	defer cancel()

	cfg := l.deps.Configs.Get(reqCtx, l.camera.ID)
	if cfg != l.cfg || l.engine == nil {
		l.cfg = cfg
		l.engine = threat.NewEngine(cfg)
		l.mu.Lock()
		l.status.Degraded = l.engine.Gate().Degraded()
		l.mu.Unlock()
		l.logger.Debug().Str("mode", string(cfg.MonitorMode)).Int("rules", len(cfg.Rules)).
			Msg("Detection config applied")
	}
	return l.engine
}

func (l *Loop) detect(ctx context.Context, frame video.Frame) ([]models.Detection, error) {
	if len(frame.JPEG) == 0 {
		return nil, errors.New("empty frame")
	}
	reqCtx, cancel := context.WithTimeout(ctx, l.settings.RequestTimeout)
	defer cancel()
	return l.deps.Detector.Detect(reqCtx, frame.JPEG, l.camera.ID)
}

func (l *Loop) emit(ctx context.Context, r models.ThreatRecord, jpeg []byte) {
	alert := threat.BuildAlert(l.camera.ID, r, jpeg)
	metrics.AlertsEmitted.WithLabelValues(l.camera.ID, alert.AlertType).Inc()

	reqCtx, cancel := context.WithTimeout(ctx, l.settings.RequestTimeout)
	defer cancel()
	if err := l.deps.Alerts.SendAlert(reqCtx, alert); err != nil {
		metrics.AlertDeliveryErrors.WithLabelValues(l.camera.ID).Inc()
		l.logger.Error().Err(err).Str("class", r.ObjectClass).Msg("Alert delivery failed")
		return
	}

	at, _ := l.cooldown.LastAlert()
	l.mu.Lock()
	l.status.AlertsSent++
	l.status.LastAlert = &at
	l.mu.Unlock()
	l.logger.Info().Str("alert_type", alert.AlertType).Str("class", r.ObjectClass).
		Float64("confidence", r.Confidence).Msg("Alert sent")
}

func (l *Loop) setConnected(v bool) {
	l.mu.Lock()
	l.status.Connected = v
	l.mu.Unlock()
}
