package detectconfig

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// Fetcher loads the current payload of one camera from its source of truth.
type Fetcher interface {
	DetectionConfig(ctx context.Context, cameraID string) (*models.DetectionConfigPayload, error)
}

type entry struct {
	cfg       *models.DetectionConfig
	fetchedAt time.Time
}

// Store caches one snapshot per camera. Get never fails: it returns a fresh
// snapshot, the last one that was fetched successfully, or SafeDefault.
// Snapshots are replaced as a whole, so a reader never sees a partial update.
type Store struct {
	fetcher Fetcher
	ttl     time.Duration
	now     func() time.Time
	// fresh entries expire after ttl; lastGood entries never expire.
	fresh    *cache.Cache
	lastGood *cache.Cache
}

func NewStore(fetcher Fetcher, ttl time.Duration) *Store {
	return NewStoreWithClock(fetcher, ttl, time.Now)
}

func NewStoreWithClock(fetcher Fetcher, ttl time.Duration, now func() time.Time) *Store {
	return &Store{
		fetcher:  fetcher,
		ttl:      ttl,
		now:      now,
		fresh:    cache.New(ttl, 2*ttl),
		lastGood: cache.New(cache.NoExpiration, 0),
	}
}

// Get returns the snapshot to use for cameraID.
func (s *Store) Get(ctx context.Context, cameraID string) *models.DetectionConfig {
	if e, ok := s.lookup(s.fresh, cameraID); ok && s.now().Sub(e.fetchedAt) < s.ttl {
		metrics.ConfigFetches.WithLabelValues("cached").Inc()
		return e.cfg
	}

	payload, err := s.fetcher.DetectionConfig(ctx, cameraID)
	if err != nil {
		return s.fallback(cameraID, err)
	}

	cfg, err := Parse(payload)
	if err != nil {
		// A broken config converges to alert-on-nothing instead of the
		// previous rules.
		log.Error().Err(err).Str("camera", cameraID).Msg("Detection config rejected, using safe default")
		metrics.ConfigFetches.WithLabelValues("malformed").Inc()
		cfg = SafeDefault()
		s.Set(cameraID, cfg)
		return cfg
	}

	metrics.ConfigFetches.WithLabelValues("fresh").Inc()
	s.Set(cameraID, cfg)
	return cfg
}

func (s *Store) fallback(cameraID string, err error) *models.DetectionConfig {
	if errors.Is(err, context.Canceled) {
		log.Debug().Str("camera", cameraID).Msg("Detection config fetch canceled")
	} else {
		log.Warn().Err(err).Str("camera", cameraID).Msg("Detection config fetch failed")
	}

	if e, ok := s.lookup(s.lastGood, cameraID); ok {
		metrics.ConfigFetches.WithLabelValues("stale").Inc()
		return e.cfg
	}
	metrics.ConfigFetches.WithLabelValues("default").Inc()
	return SafeDefault()
}

// Set replaces the snapshot of cameraID. cfg must not be modified afterwards.
func (s *Store) Set(cameraID string, cfg *models.DetectionConfig) {
	e := &entry{cfg: cfg, fetchedAt: s.now()}
	s.fresh.Set(cameraID, e, cache.DefaultExpiration)
	s.lastGood.Set(cameraID, e, cache.NoExpiration)
}

// SetPayload parses p and stores it. The stored snapshot is left alone when p
// is malformed.
func (s *Store) SetPayload(cameraID string, p *models.DetectionConfigPayload) (*models.DetectionConfig, error) {
	cfg, err := Parse(p)
	if err != nil {
		return nil, err
	}
	s.Set(cameraID, cfg)
	log.Info().Str("camera", cameraID).Int("rules", len(cfg.Rules)).Msg("Detection config replaced")
	return cfg, nil
}

// Current returns the last snapshot stored for cameraID without fetching.
func (s *Store) Current(cameraID string) (*models.DetectionConfig, bool) {
	e, ok := s.lookup(s.lastGood, cameraID)
	if !ok {
		return nil, false
	}
	return e.cfg, true
}

// Forget drops everything cached for cameraID.
func (s *Store) Forget(cameraID string) {
	s.fresh.Delete(cameraID)
	s.lastGood.Delete(cameraID)
}

func (s *Store) lookup(c *cache.Cache, cameraID string) (*entry, bool) {
	v, found := c.Get(cameraID)
	if !found {
		return nil, false
	}
	e, ok := v.(*entry)
	return e, ok
}
