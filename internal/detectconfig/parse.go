// Package detectconfig turns backend detection-config payloads into immutable
// snapshots and caches them per camera.
package detectconfig

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

var ErrMalformedConfig = errors.New("malformed detection config")

const (
	DefaultConfidence = 0.6
	DefaultFrameSkip  = 30
	DefaultTimezone   = "UTC"
)

var (
	defaultStart = models.MustClock("09:00:00")
	defaultEnd   = models.MustClock("17:00:00")
)

// SafeDefault is used when a camera has no usable config. It has no rules, so
// every detection classifies as IGNORE and nothing alerts.
func SafeDefault() *models.DetectionConfig {
	return &models.DetectionConfig{
		MonitorMode:         models.MonitorAfterHours,
		ActiveStart:         defaultStart,
		ActiveEnd:           defaultEnd,
		Timezone:            DefaultTimezone,
		ConfidenceThreshold: DefaultConfidence,
		FrameSkip:           DefaultFrameSkip,
		Rules:               map[string]models.Rule{},
	}
}

// Parse validates p and builds a new snapshot. Missing fields take the safe
// default values. Every error wraps ErrMalformedConfig.
func Parse(p *models.DetectionConfigPayload) (*models.DetectionConfig, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedConfig)
	}
	cfg := SafeDefault()

	if p.MonitorMode != "" {
		mode, err := parseMode(p.MonitorMode)
		if err != nil {
			return nil, err
		}
		cfg.MonitorMode = mode
	}

	var err error
	if cfg.ActiveStart, err = parseClock("active_hours_start", p.ActiveHoursStart, defaultStart); err != nil {
		return nil, err
	}
	if cfg.ActiveEnd, err = parseClock("active_hours_end", p.ActiveHoursEnd, defaultEnd); err != nil {
		return nil, err
	}

	if tz := strings.TrimSpace(p.Timezone); tz != "" {
		cfg.Timezone = tz
	}
	if p.ConfidenceThreshold != nil {
		if err := checkConfidence("confidence_threshold", *p.ConfidenceThreshold); err != nil {
			return nil, err
		}
		cfg.ConfidenceThreshold = *p.ConfidenceThreshold
	}
	if p.FrameSkip > 0 {
		cfg.FrameSkip = p.FrameSkip
	}

	for i, rp := range p.Rules {
		rule, err := parseRule(rp)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		// Later duplicates replace earlier ones but keep the first position.
		if _, seen := cfg.Rules[rule.ObjectClass]; !seen {
			cfg.RuleOrder = append(cfg.RuleOrder, rule.ObjectClass)
		}
		cfg.Rules[rule.ObjectClass] = rule
	}
	return cfg, nil
}

func parseMode(s string) (models.MonitorMode, error) {
	switch m := models.MonitorMode(strings.ToLower(strings.TrimSpace(s))); m {
	case models.MonitorAlways, models.MonitorAfterHours, models.MonitorCustom:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown monitor_mode %q", ErrMalformedConfig, s)
	}
}

func parseClock(field, s string, def models.ClockTime) (models.ClockTime, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	c, err := models.ParseClock(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrMalformedConfig, field, err)
	}
	return c, nil
}

func checkConfidence(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%w: %s %v outside [0, 1]", ErrMalformedConfig, field, v)
	}
	return nil
}

func parseRule(rp models.RulePayload) (models.Rule, error) {
	if rp.ObjectClass == "" {
		return models.Rule{}, fmt.Errorf("%w: object_class is empty", ErrMalformedConfig)
	}

	level := models.ThreatLevel(strings.ToUpper(strings.TrimSpace(rp.ThreatLevel)))
	switch level {
	case models.ThreatHigh, models.ThreatMedium, models.ThreatLow, models.ThreatIgnore:
	default:
		return models.Rule{}, fmt.Errorf("%w: %s: unknown threat_level %q", ErrMalformedConfig, rp.ObjectClass, rp.ThreatLevel)
	}

	rule := models.Rule{
		ObjectClass: rp.ObjectClass,
		ThreatLevel: level,
		ShouldAlert: rp.ShouldAlert,
	}
	if rp.MinConfidence != nil {
		if err := checkConfidence(rp.ObjectClass+".min_confidence", *rp.MinConfidence); err != nil {
			return models.Rule{}, err
		}
		v := *rp.MinConfidence
		rule.MinConfidence = &v
	}
	return rule, nil
}

// ToPayload renders a snapshot back into its wire form, rules in configured order.
func ToPayload(cfg *models.DetectionConfig) *models.DetectionConfigPayload {
	threshold := cfg.ConfidenceThreshold
	p := &models.DetectionConfigPayload{
		MonitorMode:         string(cfg.MonitorMode),
		ActiveHoursStart:    cfg.ActiveStart.String(),
		ActiveHoursEnd:      cfg.ActiveEnd.String(),
		Timezone:            cfg.Timezone,
		ConfidenceThreshold: &threshold,
		FrameSkip:           cfg.FrameSkip,
		Rules:               make([]models.RulePayload, 0, len(cfg.RuleOrder)),
	}
	for _, class := range cfg.RuleOrder {
		r, ok := cfg.Rules[class]
		if !ok {
			continue
		}
		p.Rules = append(p.Rules, models.RulePayload{
			ObjectClass:   r.ObjectClass,
			ThreatLevel:   string(r.ThreatLevel),
			ShouldAlert:   r.ShouldAlert,
			MinConfidence: r.MinConfidence,
		})
	}
	return p
}
