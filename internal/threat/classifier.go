package threat

import (
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

type Classification struct {
	Level  models.ThreatLevel
	Alert  bool
	Reason string
}

// alertPolicy decides the alert flag of a detection that met its confidence
// threshold. HIGH and LOW are fixed; only MEDIUM follows the rule's should_alert.
var alertPolicy = map[models.ThreatLevel]func(shouldAlert bool) bool{
	models.ThreatHigh:   func(bool) bool { return true },
	models.ThreatMedium: func(shouldAlert bool) bool { return shouldAlert },
	models.ThreatLow:    func(bool) bool { return false },
	models.ThreatIgnore: func(bool) bool { return false },
}

// AlertFor applies the level policy to a rule's should_alert flag.
func AlertFor(level models.ThreatLevel, shouldAlert bool) bool {
	policy, ok := alertPolicy[level]
	if !ok {
		return false
	}
	return policy(shouldAlert)
}

// Classify maps one detection to a threat level and alert decision. Lookups are
// case-sensitive on the class name emitted by the detector.
func Classify(objectClass string, confidence float64, rules map[string]models.Rule, defaultMinConfidence float64) Classification {
	name := titleCase(objectClass)

	rule, ok := rules[objectClass]
	if !ok {
		return Classification{
			Level:  models.ThreatIgnore,
			Alert:  false,
			Reason: fmt.Sprintf("%s not configured for detection", name),
		}
	}

	minConfidence := defaultMinConfidence
	if rule.MinConfidence != nil {
		minConfidence = *rule.MinConfidence
	}
	if confidence < minConfidence {
		return Classification{
			Level:  rule.ThreatLevel,
			Alert:  false,
			Reason: fmt.Sprintf("%s detected but confidence (%.2f) below threshold (%.2f)", name, confidence, minConfidence),
		}
	}

	return Classification{
		Level:  rule.ThreatLevel,
		Alert:  AlertFor(rule.ThreatLevel, rule.ShouldAlert),
		Reason: fmt.Sprintf("%s detected (%s threat)", name, rule.ThreatLevel),
	}
}

// titleCase builds a new Caser per call; Casers keep state and must not be shared.
func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}
