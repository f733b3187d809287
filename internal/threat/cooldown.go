package threat

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type Decision int

const (
	// NoAlert: the frame had no alert-worthy record.
	NoAlert Decision = iota
	// Suppressed: an alert was due but the camera is cooling down.
	Suppressed
	// Emit: exactly one alert goes out for the frame.
	Emit
)

func (d Decision) String() string {
	switch d {
	case Suppressed:
		return "suppressed"
	case Emit:
		return "emit"
	default:
		return "no_alert"
	}
}

// Cooldown limits one camera to one alert per window. The window is measured
// from the last emitted alert. Not safe for concurrent use; each camera loop
// owns its own Cooldown.
type Cooldown struct {
	window time.Duration
	now    func() time.Time
	last   time.Time
	fired  bool
}

func NewCooldown(window time.Duration) *Cooldown {
	return NewCooldownWithClock(window, time.Now)
}

func NewCooldownWithClock(window time.Duration, now func() time.Time) *Cooldown {
	return &Cooldown{window: window, now: now}
}

// Select picks the record to alert on for one frame: the highest priority level,
// then the highest confidence. The cooldown only restarts when Emit is returned.
func (c *Cooldown) Select(records []models.ThreatRecord) (models.ThreatRecord, Decision) {
	candidates := lo.Filter(records, func(r models.ThreatRecord, _ int) bool {
		return r.Alert
	})
	if len(candidates) == 0 {
		return models.ThreatRecord{}, NoAlert
	}

	now := c.now()
	if c.fired && now.Sub(c.last) < c.window {
		return models.ThreatRecord{}, Suppressed
	}

	best := lo.MaxBy(candidates, outranks)
	c.last = now
	c.fired = true
	return best, Emit
}

// LastAlert returns the time of the last emitted alert; ok is false if none yet.
func (c *Cooldown) LastAlert() (time.Time, bool) {
	return c.last, c.fired
}

func outranks(a, b models.ThreatRecord) bool {
	ra, rb := PriorityRank(a.ThreatLevel), PriorityRank(b.ThreatLevel)
	if ra != rb {
		return ra > rb
	}
	return a.Confidence > b.Confidence
}

func PriorityRank(level models.ThreatLevel) int {
	switch level {
	case models.ThreatHigh:
		return 3
	case models.ThreatMedium:
		return 2
	case models.ThreatLow:
		return 1
	default:
		return 0
	}
}

var alertTypes = map[models.ThreatLevel]string{
	models.ThreatHigh:   "intrusion",
	models.ThreatMedium: "intrusion",
	models.ThreatLow:    "suspicious",
}

func AlertTypeFor(level models.ThreatLevel) string {
	if t, ok := alertTypes[level]; ok {
		return t
	}
	return "suspicious"
}

// BuildAlert renders the backend alert for a selected record. jpeg may be nil.
func BuildAlert(cameraID string, r models.ThreatRecord, jpeg []byte) models.AlertRequest {
	req := models.AlertRequest{
		CameraID:    cameraID,
		AlertType:   AlertTypeFor(r.ThreatLevel),
		Confidence:  r.Confidence,
		Description: fmt.Sprintf("%s detected - %s", r.ObjectClass, r.Reason),
	}
	if len(jpeg) > 0 {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(jpeg)
	}
	return req
}
