// Package threat turns raw per-frame detections into threat records and
// decides which of them become alerts or clips.
package threat

import (
	"math"
	"slices"
	"time"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// Engine is the compiled, read-only form of one DetectionConfig snapshot.
// It is safe for concurrent use.
type Engine struct {
	cfg  *models.DetectionConfig
	gate *Gate
}

func NewEngine(cfg *models.DetectionConfig) *Engine {
	return &Engine{cfg: cfg, gate: NewGate(cfg)}
}

func (e *Engine) Config() *models.DetectionConfig {
	return e.cfg
}

func (e *Engine) Gate() *Gate {
	return e.gate
}

func (e *Engine) ShouldProcess(ts time.Time) bool {
	return e.gate.ShouldProcess(ts)
}

func (e *Engine) Classify(objectClass string, confidence float64) Classification {
	return Classify(objectClass, confidence, e.cfg.Rules, e.cfg.ConfidenceThreshold)
}

// AnalyzeFrame classifies the detections of one frame. processed is false when
// the frame has no timestamp or the gate skipped it.
func (e *Engine) AnalyzeFrame(batch models.FrameBatch) (records []models.ThreatRecord, processed bool) {
	if batch.Timestamp.IsZero() {
		return nil, false
	}
	if !e.gate.ShouldProcess(batch.Timestamp) {
		return nil, false
	}

	for _, d := range batch.Detections {
		if d.Class == "" {
			continue
		}
		c := e.Classify(d.Class, d.Confidence)
		if c.Level == models.ThreatIgnore {
			continue
		}
		records = append(records, models.ThreatRecord{
			FrameNumber: batch.FrameNumber,
			Timestamp:   batch.Timestamp,
			ObjectClass: d.Class,
			Confidence:  RoundConfidence(d.Confidence),
			BBox:        slices.Clone(d.BBox),
			ThreatLevel: c.Level,
			Alert:       c.Alert,
			Reason:      c.Reason,
		})
	}
	return records, true
}

// Analyze runs AnalyzeFrame over batches and keeps input order.
func (e *Engine) Analyze(batches []models.FrameBatch) []models.ThreatRecord {
	records := make([]models.ThreatRecord, 0)
	for _, b := range batches {
		r, _ := e.AnalyzeFrame(b)
		records = append(records, r...)
	}
	return records
}

func Analyze(batches []models.FrameBatch, cfg *models.DetectionConfig) []models.ThreatRecord {
	return NewEngine(cfg).Analyze(batches)
}

// RoundConfidence rounds to two decimals, the precision records are stored with.
func RoundConfidence(c float64) float64 {
	return math.Round(c*100) / 100
}
