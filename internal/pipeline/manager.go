// Package pipeline keeps one camera loop running per active camera.
package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/camera"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type CameraLister interface {
	ActiveCameras(ctx context.Context) ([]models.Camera, error)
}

// Runner is the part of a camera loop the manager drives.
type Runner interface {
	Run(ctx context.Context)
	Status() camera.Status
}

// NewRunner builds the loop of cam. prev is the camera's previous loop when
// it is being replaced, after that loop has exited; nil otherwise.
type NewRunner func(cam models.Camera, prev Runner) Runner

type activeLoop struct {
	camera models.Camera
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

type Manager struct {
	lister       CameraLister
	newRunner    NewRunner
	pollInterval time.Duration
	maxCameras   int

	activeLoops map[string]*activeLoop
	mu          sync.Mutex
	wg          sync.WaitGroup
}

// NewManager returns a manager that polls lister every pollInterval.
// maxCameras <= 0 means no limit.
func NewManager(lister CameraLister, newRunner NewRunner, pollInterval time.Duration, maxCameras int) *Manager {
	return &Manager{
		lister:       lister,
		newRunner:    newRunner,
		pollInterval: pollInterval,
		maxCameras:   maxCameras,
		activeLoops:  make(map[string]*activeLoop),
	}
}

// Run syncs immediately and then on every tick. On return all loops have
// exited.
func (m *Manager) Run(ctx context.Context) {
	log.Info().Dur("interval", m.pollInterval).Msg("Pipeline: polling active cameras")
	m.Sync(ctx)

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.stopAll()
			log.Info().Msg("Pipeline: all camera loops stopped")
			return
		case <-ticker.C:
			m.Sync(ctx)
		}
	}
}

// Sync reconciles running loops with the backend's active camera list. A
// failed listing keeps the current loops untouched.
func (m *Manager) Sync(ctx context.Context) {
	cameras, err := m.lister.ActiveCameras(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Pipeline: fetching active cameras failed, keeping current loops")
		return
	}
	if m.maxCameras > 0 && len(cameras) > m.maxCameras {
		log.Warn().Int("active", len(cameras)).Int("max", m.maxCameras).Msg("Pipeline: camera limit reached")
		cameras = cameras[:m.maxCameras]
	}
	wanted := lo.KeyBy(cameras, func(c models.Camera) string { return c.ID })

	m.mu.Lock()
	defer m.mu.Unlock()

	replaced := make(map[string]Runner)
	for id, l := range m.activeLoops {
		cam, ok := wanted[id]
		switch {
		case !ok:
			log.Info().Str("camera", id).Msg("Pipeline: camera no longer active")
			m.stopLocked(id, l)
		case cam.RTSPURL != l.camera.RTSPURL:
			log.Info().Str("camera", id).Msg("Pipeline: stream url changed, restarting")
			m.stopLocked(id, l)
			// the old loop must be gone before its successor takes over its state
			<-l.done
			replaced[id] = l.runner
		case isDone(l.done):
			log.Warn().Str("camera", id).Msg("Pipeline: camera loop exited, restarting")
			delete(m.activeLoops, id)
			replaced[id] = l.runner
		}
	}

	for _, cam := range cameras {
		if _, running := m.activeLoops[cam.ID]; running {
			continue
		}
		m.startLocked(ctx, cam, replaced[cam.ID])
	}
	metrics.ActiveCameras.Set(float64(len(m.activeLoops)))
}

func (m *Manager) startLocked(ctx context.Context, cam models.Camera, prev Runner) {
	childCtx, cancel := context.WithCancel(ctx)
	l := &activeLoop{
		camera: cam,
		runner: m.newRunner(cam, prev),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.activeLoops[cam.ID] = l

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(l.done)
		l.runner.Run(childCtx)
	}()
	log.Info().Str("camera", cam.ID).Msg("Pipeline: camera loop started")
}

func (m *Manager) stopLocked(id string, l *activeLoop) {
	l.cancel()
	delete(m.activeLoops, id)
}

func (m *Manager) stopAll() {
	m.mu.Lock()
	for id, l := range m.activeLoops {
		m.stopLocked(id, l)
	}
	metrics.ActiveCameras.Set(0)
	m.mu.Unlock()

	m.wg.Wait()
}

// Cameras reports the status of every running loop, ordered by camera id.
func (m *Manager) Cameras() []camera.Status {
	m.mu.Lock()
	loops := lo.Values(m.activeLoops)
	m.mu.Unlock()

	out := lo.Map(loops, func(l *activeLoop, _ int) camera.Status {
		return l.runner.Status()
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CameraID < out[j].CameraID })
	return out
}

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
