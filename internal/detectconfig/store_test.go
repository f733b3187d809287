package detectconfig

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type stubFetcher struct {
	payload *models.DetectionConfigPayload
	err     error
	calls   int
}

func (f *stubFetcher) DetectionConfig(context.Context, string) (*models.DetectionConfigPayload, error) {
	f.calls++
	return f.payload, f.err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newStore(f Fetcher) (*Store, *clock) {
	c := &clock{t: time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)}
	return NewStoreWithClock(f, time.Minute, c.now), c
}

func TestStore_CachesWithinTTL(t *testing.T) {
	f := &stubFetcher{payload: samplePayload()}
	s, c := newStore(f)

	first := s.Get(context.Background(), "3")
	c.t = c.t.Add(30 * time.Second)
	second := s.Get(context.Background(), "3")

	assert.Equal(t, 1, f.calls)
	assert.Same(t, first, second)
}

func TestStore_RefetchesAfterTTL(t *testing.T) {
	f := &stubFetcher{payload: samplePayload()}
	s, c := newStore(f)

	first := s.Get(context.Background(), "3")
	c.t = c.t.Add(61 * time.Second)
	f.payload = &models.DetectionConfigPayload{MonitorMode: "always"}
	second := s.Get(context.Background(), "3")

	assert.Equal(t, 2, f.calls)
	assert.Equal(t, models.MonitorAfterHours, first.MonitorMode, "old snapshot is untouched")
	assert.Equal(t, models.MonitorAlways, second.MonitorMode)
}

func TestStore_StaleOnBackendFailure(t *testing.T) {
	f := &stubFetcher{payload: samplePayload()}
	s, c := newStore(f)

	good := s.Get(context.Background(), "3")
	c.t = c.t.Add(time.Hour)
	f.err = errors.New("connection refused")

	assert.Same(t, good, s.Get(context.Background(), "3"))
	assert.Equal(t, 2, f.calls)
}

func TestStore_SafeDefaultWithoutHistory(t *testing.T) {
	s, _ := newStore(&stubFetcher{err: errors.New("timeout")})

	cfg := s.Get(context.Background(), "7")
	assert.Equal(t, SafeDefault(), cfg)
	_, ok := s.Current("7")
	assert.False(t, ok, "defaults are not remembered as last good")
}

func TestStore_MalformedFallsBackToSafeDefault(t *testing.T) {
	f := &stubFetcher{payload: samplePayload()}
	s, c := newStore(f)
	s.Get(context.Background(), "3")

	c.t = c.t.Add(2 * time.Minute)
	f.payload = &models.DetectionConfigPayload{ActiveHoursStart: "noon"}
	cfg := s.Get(context.Background(), "3")

	assert.Empty(t, cfg.Rules)
	assert.Equal(t, SafeDefault(), cfg)
}

func TestStore_CamerasAreIndependent(t *testing.T) {
	f := &stubFetcher{payload: samplePayload()}
	s, _ := newStore(f)

	s.Get(context.Background(), "1")
	s.Get(context.Background(), "2")
	assert.Equal(t, 2, f.calls)
}

func TestStore_SetPayload(t *testing.T) {
	f := &stubFetcher{err: errors.New("offline")}
	s, _ := newStore(f)

	cfg, err := s.SetPayload("3", samplePayload())
	require.NoError(t, err)
	assert.Same(t, cfg, s.Get(context.Background(), "3"))
	assert.Zero(t, f.calls)

	_, err = s.SetPayload("3", &models.DetectionConfigPayload{MonitorMode: "never"})
	assert.ErrorIs(t, err, ErrMalformedConfig)
	current, ok := s.Current("3")
	require.True(t, ok)
	assert.Same(t, cfg, current, "rejected payload leaves the snapshot alone")
}

func TestStore_Forget(t *testing.T) {
	s, _ := newStore(&stubFetcher{payload: samplePayload()})
	s.Get(context.Background(), "3")
	s.Forget("3")
	_, ok := s.Current("3")
	assert.False(t, ok)
}
