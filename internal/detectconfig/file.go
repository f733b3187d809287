package detectconfig

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// ErrUnknownCamera is returned by FileFetcher for cameras missing from the file.
var ErrUnknownCamera = errors.New("camera not in config file")

type fileDocument struct {
	Cameras map[string]*fileCamera `yaml:"cameras"`
}

type fileCamera struct {
	Name      string `yaml:"name"`
	StreamURL string `yaml:"stream_url"`

	models.DetectionConfigPayload `yaml:",inline"`
}

// FileFetcher serves payloads from a local YAML file. Cameras with a
// stream_url are also listed as active:
//
//	cameras:
//	  "3":
//	    stream_url: rtsp://10.0.0.3/stream1
//	    monitor_mode: after_hours
//	    rules:
//	      - {object_class: person, threat_level: HIGH, should_alert: true}
type FileFetcher struct {
	path string

	mu      sync.RWMutex
	cameras map[string]*fileCamera
}

func NewFileFetcher(path string) (*FileFetcher, error) {
	f := &FileFetcher{path: path}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Reload re-reads the file. On error the previous contents stay in place.
func (f *FileFetcher) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read detection config file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedConfig, f.path, err)
	}
	for id, c := range doc.Cameras {
		if c == nil {
			doc.Cameras[id] = &fileCamera{}
		}
	}

	f.mu.Lock()
	f.cameras = doc.Cameras
	f.mu.Unlock()
	return nil
}

func (f *FileFetcher) DetectionConfig(_ context.Context, cameraID string) (*models.DetectionConfigPayload, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	c, ok := f.cameras[cameraID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCamera, cameraID)
	}
	p := c.DetectionConfigPayload
	return &p, nil
}

// CameraIDs lists the cameras present in the file, sorted.
func (f *FileFetcher) CameraIDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.cameras))
	for id := range f.cameras {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ActiveCameras lists the cameras of the file that have a stream URL.
func (f *FileFetcher) ActiveCameras(context.Context) ([]models.Camera, error) {
	ids := f.CameraIDs()

	f.mu.RLock()
	defer f.mu.RUnlock()
	cameras := make([]models.Camera, 0, len(ids))
	for _, id := range ids {
		c, ok := f.cameras[id]
		if !ok || c.StreamURL == "" {
			continue
		}
		cameras = append(cameras, models.Camera{ID: id, Name: c.Name, RTSPURL: c.StreamURL})
	}
	return cameras, nil
}

// Watch reloads the file whenever it changes and pushes every camera's new
// snapshot into store. It blocks until ctx is done.
func (f *FileFetcher) Watch(ctx context.Context, store *Store) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("watch %s: %w", f.path, err)
	}
	target := filepath.Clean(f.path)
	log.Info().Str("path", target).Msg("Watching detection config file")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f.apply(store)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Detection config watcher error")
		}
	}
}

func (f *FileFetcher) apply(store *Store) {
	if err := f.Reload(); err != nil {
		log.Error().Err(err).Str("path", f.path).Msg("Detection config reload failed")
		return
	}

	for _, id := range f.CameraIDs() {
		p, _ := f.DetectionConfig(context.Background(), id)
		if _, err := store.SetPayload(id, p); err != nil {
			log.Error().Err(err).Str("camera", id).Msg("Detection config rejected, using safe default")
			store.Set(id, SafeDefault())
		}
	}
}
