package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/api"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/backend"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/camera"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/config"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/detectconfig"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/logging"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/pipeline"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/services/detection"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/video"
)

func main() {
	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatal().Err(err).Msg("Main: failed to load config")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	log.Info().Msg("Main: init...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	backendClient := backend.NewClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	detector := detection.NewClient(cfg.Detection.Endpoint, cfg.Detection.Timeout)

	// Detection configs and the camera list come from the backend, or from a
	// local file for offline runs.
	var (
		fetcher detectconfig.Fetcher  = backendClient
		lister  pipeline.CameraLister = backendClient
		alerts  camera.AlertSender    = backendClient
	)
	var file *detectconfig.FileFetcher
	if cfg.Pipeline.ConfigFile != "" {
		file, err = detectconfig.NewFileFetcher(cfg.Pipeline.ConfigFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Main: failed to read detection config file")
		}
		fetcher, lister = file, file
		if cfg.Backend.URL == "" {
			alerts = logAlerts{}
		}
	}
	store := detectconfig.NewStore(fetcher, cfg.Pipeline.ConfigTTL)
	if file != nil {
		goRun(func() {
			if err := file.Watch(ctx, store); err != nil {
				log.Error().Err(err).Msg("Main: detection config watcher stopped")
			}
		})
	}

	settings := camera.Settings{
		StreamTimeout:  cfg.Pipeline.StreamTimeout,
		ReconnectDelay: cfg.Pipeline.ReconnectDelay,
		AlertCooldown:  cfg.Pipeline.AlertCooldown,
		NativeFPS:      cfg.Pipeline.NativeFPS,
		RequestTimeout: cfg.Detection.Timeout,
	}
	deps := camera.Deps{
		Detector: detector,
		Alerts:   alerts,
		Configs:  store,
		Open: func(ctx context.Context, url string, sampleFPS float64) (video.Source, error) {
			src, err := video.Open(ctx, url, video.Options{SampleFPS: sampleFPS})
			if err != nil {
				return nil, err
			}
			return src, nil
		},
		Probe: func(ctx context.Context, url string) float64 {
			return video.ProbeFPS(ctx, url, cfg.Pipeline.NativeFPS)
		},
	}
	manager := pipeline.NewManager(lister, func(cam models.Camera, prev pipeline.Runner) pipeline.Runner {
		loop := camera.NewLoop(cam, deps, settings)
		if p, ok := prev.(*camera.Loop); ok {
			loop.Inherit(p)
		}
		return loop
	}, cfg.Pipeline.PollInterval, cfg.Pipeline.MaxCameras)

	if cfg.Pipeline.Enabled {
		goRun(func() { manager.Run(ctx) })
	}

	handlers := api.NewHandlers(manager, store)
	if cfg.Batch.Enabled {
		b, err := startBatch(ctx, cfg, store, detector, goRun)
		if err != nil {
			log.Fatal().Err(err).Msg("Main: failed to start batch runner")
		}
		defer b.Close()
		handlers.WithJobs(b.db, b.producer)
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	goRun(func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("Main: starting ops API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Main: ops API server failed")
			stop()
		}
	})

	<-ctx.Done()
	log.Info().Msg("Main: shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Main: ops API shutdown")
	}
	wg.Wait()
	log.Info().Msg("Main: stopped")
}

// logAlerts stands in for the backend when running from a local file.
type logAlerts struct{}

func (logAlerts) SendAlert(_ context.Context, alert models.AlertRequest) error {
	log.Warn().Str("camera", alert.CameraID).Str("alert_type", alert.AlertType).
		Float64("confidence", alert.Confidence).Msg(alert.Description)
	return nil
}
