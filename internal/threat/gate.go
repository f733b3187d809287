package threat

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/metrics"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// Gate decides whether a frame timestamp falls in the part of the day a camera
// is monitored. AFTER_HOURS and CUSTOM process frames outside the active window.
type Gate struct {
	mode  models.MonitorMode
	start models.ClockTime
	end   models.ClockTime
	tz    string
	// loc is nil when the configured timezone could not be loaded.
	loc *time.Location
}

func NewGate(cfg *models.DetectionConfig) *Gate {
	g := &Gate{
		mode:  cfg.MonitorMode,
		start: cfg.ActiveStart,
		end:   cfg.ActiveEnd,
		tz:    cfg.Timezone,
	}
	if g.mode == models.MonitorAlways {
		return g
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", cfg.Timezone).
			Msg("Gate: timezone not loadable, using frame wall clock")
		return g
	}
	g.loc = loc
	return g
}

// Degraded reports whether the gate runs without its configured timezone.
func (g *Gate) Degraded() bool {
	return g.mode != models.MonitorAlways && g.loc == nil
}

// ShouldProcess reports whether a frame taken at ts is evaluated. Timestamps
// without zone information are expected to be in UTC (see ParseTimestamp).
func (g *Gate) ShouldProcess(ts time.Time) bool {
	switch g.mode {
	case models.MonitorAfterHours, models.MonitorCustom:
		return !InWindow(g.clock(ts), g.start, g.end)
	default:
		return true
	}
}

func (g *Gate) clock(ts time.Time) models.ClockTime {
	if g.loc == nil {
		metrics.TimezoneFallbacks.WithLabelValues(g.tz).Inc()
		return models.ClockOf(ts)
	}
	return models.ClockOf(ts.In(g.loc))
}

// InWindow reports whether t lies in [start, end). A window with start > end
// wraps past midnight; start == end is an empty window.
func InWindow(t, start, end models.ClockTime) bool {
	switch {
	case start < end:
		return start <= t && t < end
	case start > end:
		return t >= start || t < end
	default:
		return false
	}
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp of a frame. Values without an offset are
// taken as UTC. ok is false for empty or unparseable input.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
