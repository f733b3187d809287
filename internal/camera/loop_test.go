package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/threat"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/video"
)

type fakeDetector struct {
	detections []models.Detection
	err        error
	calls      int
}

func (d *fakeDetector) Detect(context.Context, []byte, string) ([]models.Detection, error) {
	d.calls++
	return d.detections, d.err
}

type fakeAlerts struct {
	mu   sync.Mutex
	sent []models.AlertRequest
	err  error
}

func (a *fakeAlerts) SendAlert(_ context.Context, alert models.AlertRequest) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, alert)
	return a.err
}

func (a *fakeAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sent)
}

type fixedConfig struct{ cfg *models.DetectionConfig }

func (f *fixedConfig) Get(context.Context, string) *models.DetectionConfig { return f.cfg }

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func nightConfig() *models.DetectionConfig {
	minConf := 0.5
	return &models.DetectionConfig{
		MonitorMode:         models.MonitorAfterHours,
		ActiveStart:         models.MustClock("06:00:00"),
		ActiveEnd:           models.MustClock("22:00:00"),
		Timezone:            "UTC",
		ConfidenceThreshold: 0.6,
		FrameSkip:           1,
		Rules: map[string]models.Rule{
			"person": {ObjectClass: "person", ThreatLevel: models.ThreatHigh, ShouldAlert: true, MinConfidence: &minConf},
			"dog":    {ObjectClass: "dog", ThreatLevel: models.ThreatLow},
		},
		RuleOrder: []string{"person", "dog"},
	}
}

type fixture struct {
	loop     *Loop
	detector *fakeDetector
	alerts   *fakeAlerts
	config   *fixedConfig
	clock    *clock
}

func newFixture() *fixture {
	f := &fixture{
		detector: &fakeDetector{detections: []models.Detection{{Class: "person", Confidence: 0.9, BBox: []float64{1, 2, 3, 4}}}},
		alerts:   &fakeAlerts{},
		config:   &fixedConfig{cfg: nightConfig()},
		clock:    &clock{t: time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC)},
	}
	f.loop = NewLoop(models.Camera{ID: "3", RTSPURL: "rtsp://cam3"}, Deps{
		Detector: f.detector,
		Alerts:   f.alerts,
		Configs:  f.config,
		Now:      f.clock.now,
	}, Settings{AlertCooldown: 5 * time.Second, ReconnectDelay: 10 * time.Millisecond})
	return f
}

func (f *fixture) frame(n int64) video.Frame {
	return video.Frame{Number: n, Timestamp: f.clock.t, JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}}
}

func TestProcessFrame_EmitsAlert(t *testing.T) {
	f := newFixture()

	records, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	require.Len(t, records, 1)
	assert.Equal(t, threat.Emit, decision)
	require.Equal(t, 1, f.alerts.count())

	alert := f.alerts.sent[0]
	assert.Equal(t, "3", alert.CameraID)
	assert.Equal(t, "intrusion", alert.AlertType)
	assert.Equal(t, "person detected - Person detected (HIGH threat)", alert.Description)
	assert.NotEmpty(t, alert.ImageBase64)

	st := f.loop.Status()
	assert.Equal(t, int64(1), st.AlertsSent)
	require.NotNil(t, st.LastAlert)
	assert.Equal(t, f.clock.t, *st.LastAlert)
}

func TestProcessFrame_Cooldown(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.loop.ProcessFrame(ctx, f.frame(0))
	f.clock.t = f.clock.t.Add(2 * time.Second)
	_, decision := f.loop.ProcessFrame(ctx, f.frame(1))
	assert.Equal(t, threat.Suppressed, decision)
	assert.Equal(t, 1, f.alerts.count())

	f.clock.t = f.clock.t.Add(4 * time.Second)
	_, decision = f.loop.ProcessFrame(ctx, f.frame(2))
	assert.Equal(t, threat.Emit, decision)
	assert.Equal(t, 2, f.alerts.count())
}

func TestProcessFrame_GatedFrameSkipsDetection(t *testing.T) {
	f := newFixture()
	f.clock.t = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)

	records, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	assert.Empty(t, records)
	assert.Equal(t, threat.NoAlert, decision)
	assert.Zero(t, f.detector.calls)
}

func TestProcessFrame_EveryFrameIsEvaluated(t *testing.T) {
	f := newFixture()
	cfg := nightConfig()
	cfg.FrameSkip = 30
	f.config.cfg = cfg

	for n := int64(0); n < 7; n++ {
		f.loop.ProcessFrame(context.Background(), f.frame(n))
	}
	assert.Equal(t, 7, f.detector.calls)
}

func TestProcessFrame_LowThreatDoesNotAlert(t *testing.T) {
	f := newFixture()
	f.detector.detections = []models.Detection{{Class: "dog", Confidence: 0.95}}

	records, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	require.Len(t, records, 1)
	assert.Equal(t, threat.NoAlert, decision)
	assert.Zero(t, f.alerts.count())
}

func TestProcessFrame_DeliveryFailureKeepsGoing(t *testing.T) {
	f := newFixture()
	f.alerts.err = errors.New("backend down")

	_, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	assert.Equal(t, threat.Emit, decision)
	assert.Zero(t, f.loop.Status().AlertsSent)

	f.clock.t = f.clock.t.Add(6 * time.Second)
	_, decision = f.loop.ProcessFrame(context.Background(), f.frame(1))
	assert.Equal(t, threat.Emit, decision)
}

func TestProcessFrame_DetectionErrorSkipsFrame(t *testing.T) {
	f := newFixture()
	f.detector.err = errors.New("model timeout")

	records, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	assert.Empty(t, records)
	assert.Equal(t, threat.NoAlert, decision)
	assert.Equal(t, int64(0), f.loop.Status().FramesProcessed)
}

func TestProcessFrame_PicksUpNewConfig(t *testing.T) {
	f := newFixture()
	f.clock.t = time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC)
	f.loop.ProcessFrame(context.Background(), f.frame(0))
	assert.Zero(t, f.detector.calls)

	cfg := nightConfig()
	cfg.MonitorMode = models.MonitorAlways
	f.config.cfg = cfg
	_, decision := f.loop.ProcessFrame(context.Background(), f.frame(1))
	assert.Equal(t, threat.Emit, decision)
}

// scriptedSource yields its frames, then fails with err.
type scriptedSource struct {
	frames []video.Frame
	err    error
	closed bool
}

func (s *scriptedSource) Next(ctx context.Context) (video.Frame, error) {
	if len(s.frames) == 0 {
		return video.Frame{}, s.err
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *scriptedSource) Close() error {
	s.closed = true
	return nil
}

func TestRun_ReconnectsAfterDisconnect(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	var opened []*scriptedSource
	f.loop.deps.Open = func(context.Context, string, float64) (video.Source, error) {
		mu.Lock()
		defer mu.Unlock()
		src := &scriptedSource{frames: []video.Frame{f.frame(0)}, err: video.ErrStreamClosed}
		opened = append(opened, src)
		if len(opened) == 2 {
			cancel()
		}
		return src, nil
	}

	done := make(chan struct{})
	go func() {
		f.loop.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, opened, 2)
	assert.True(t, opened[0].closed)
	assert.True(t, opened[1].closed)
	assert.False(t, f.loop.Status().Connected)
}

func TestRun_OpenFailureRetries(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := make(chan struct{}, 10)
	f.loop.deps.Open = func(context.Context, string, float64) (video.Source, error) {
		attempts <- struct{}{}
		return nil, errors.New("connection refused")
	}

	go f.loop.Run(ctx)
	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatal("no reconnect attempt")
		}
	}
}

func runUntilDone(t *testing.T, ctx context.Context, l *Loop) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRun_PersonVisibleForSecondsReachesDetector(t *testing.T) {
	f := newFixture()
	cfg := nightConfig()
	cfg.FrameSkip = 30
	f.config.cfg = cfg
	f.loop.deps.Probe = func(context.Context, string) float64 { return 30 }
	ctx, cancel := context.WithCancel(context.Background())

	var rates []float64
	f.loop.deps.Open = func(_ context.Context, _ string, sampleFPS float64) (video.Source, error) {
		rates = append(rates, sampleFPS)
		if len(rates) > 1 {
			cancel()
			return &scriptedSource{err: video.ErrStreamClosed}, nil
		}
		// a person in view from t=1s to t=14s, decoded at sampleFPS
		var frames []video.Frame
		step := time.Duration(float64(time.Second) / sampleFPS)
		start := f.clock.t.Add(time.Second)
		for n, ts := int64(0), start; !ts.After(start.Add(13 * time.Second)); n, ts = n+1, ts.Add(step) {
			frames = append(frames, video.Frame{Number: n, Timestamp: ts, JPEG: []byte{0xff, 0xd8, 0xff, 0xd9}})
		}
		return &scriptedSource{frames: frames, err: video.ErrStreamClosed}, nil
	}

	runUntilDone(t, ctx, f.loop)

	require.NotEmpty(t, rates)
	assert.Equal(t, 1.0, rates[0])
	assert.Equal(t, 14, f.detector.calls)
	assert.Equal(t, 1, f.alerts.count())
}

func TestRun_UnknownNativeRateUsesDefault(t *testing.T) {
	f := newFixture()
	cfg := nightConfig()
	cfg.FrameSkip = 15
	f.config.cfg = cfg
	f.loop.deps.Probe = func(context.Context, string) float64 { return 0 }
	ctx, cancel := context.WithCancel(context.Background())

	var rates []float64
	f.loop.deps.Open = func(_ context.Context, _ string, sampleFPS float64) (video.Source, error) {
		rates = append(rates, sampleFPS)
		cancel()
		return &scriptedSource{err: video.ErrStreamClosed}, nil
	}

	runUntilDone(t, ctx, f.loop)
	assert.Equal(t, []float64{2}, rates)
}

func TestRun_ReopensWhenFrameSkipChanges(t *testing.T) {
	f := newFixture()
	cfg := nightConfig()
	cfg.FrameSkip = 30
	f.config.cfg = cfg
	f.loop.settings.ReconnectDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())

	var rates []float64
	f.loop.deps.Open = func(_ context.Context, _ string, sampleFPS float64) (video.Source, error) {
		rates = append(rates, sampleFPS)
		if len(rates) == 1 {
			faster := nightConfig()
			faster.FrameSkip = 15
			f.config.cfg = faster
			return &scriptedSource{frames: []video.Frame{f.frame(0), f.frame(1)}, err: video.ErrStreamClosed}, nil
		}
		cancel()
		return &scriptedSource{err: video.ErrStreamClosed}, nil
	}

	runUntilDone(t, ctx, f.loop)

	// reopened right away, not after the reconnect delay
	assert.Equal(t, []float64{1, 2}, rates)
	assert.Equal(t, 1, f.detector.calls)
}

func TestInherit_KeepsCooldown(t *testing.T) {
	f := newFixture()
	_, decision := f.loop.ProcessFrame(context.Background(), f.frame(0))
	require.Equal(t, threat.Emit, decision)

	next := NewLoop(models.Camera{ID: "3", RTSPURL: "rtsp://moved"}, f.loop.deps, f.loop.settings)
	next.Inherit(f.loop)

	f.clock.t = f.clock.t.Add(2 * time.Second)
	_, decision = next.ProcessFrame(context.Background(), f.frame(1))
	assert.Equal(t, threat.Suppressed, decision)
	assert.Equal(t, 1, f.alerts.count())
	assert.Equal(t, int64(1), next.Status().AlertsSent)

	f.clock.t = f.clock.t.Add(4 * time.Second)
	_, decision = next.ProcessFrame(context.Background(), f.frame(2))
	assert.Equal(t, threat.Emit, decision)
}
