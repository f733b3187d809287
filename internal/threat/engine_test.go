package threat

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// siteConfig monitors outside 06:00-22:00 UTC.
func siteConfig() *models.DetectionConfig {
	rules := []models.Rule{
		{ObjectClass: "person", ThreatLevel: models.ThreatHigh, ShouldAlert: true, MinConfidence: conf(0.5)},
		{ObjectClass: "car", ThreatLevel: models.ThreatMedium, ShouldAlert: true, MinConfidence: conf(0.5)},
		{ObjectClass: "dog", ThreatLevel: models.ThreatLow, ShouldAlert: false, MinConfidence: conf(0.5)},
		{ObjectClass: "backpack", ThreatLevel: models.ThreatMedium, ShouldAlert: true, MinConfidence: conf(0.5)},
		{ObjectClass: "cat", ThreatLevel: models.ThreatIgnore, ShouldAlert: true},
	}
	cfg := &models.DetectionConfig{
		MonitorMode:         models.MonitorAfterHours,
		ActiveStart:         models.MustClock("06:00:00"),
		ActiveEnd:           models.MustClock("22:00:00"),
		Timezone:            "UTC",
		ConfidenceThreshold: 0.6,
		FrameSkip:           30,
		Rules:               make(map[string]models.Rule),
	}
	for _, r := range rules {
		cfg.Rules[r.ObjectClass] = r
		cfg.RuleOrder = append(cfg.RuleOrder, r.ObjectClass)
	}
	return cfg
}

func fixtureBatches() []models.FrameBatch {
	return []models.FrameBatch{
		{
			FrameNumber: 100,
			Timestamp:   time.Date(2025, 1, 15, 23, 30, 0, 0, time.UTC),
			Detections:  []models.Detection{{Class: "person", Confidence: 0.85, BBox: []float64{100, 100, 200, 300}}},
		},
		{
			FrameNumber: 150,
			Timestamp:   time.Date(2025, 1, 15, 14, 0, 0, 0, time.UTC),
			Detections:  []models.Detection{{Class: "person", Confidence: 0.90, BBox: []float64{150, 150, 250, 350}}},
		},
		{
			FrameNumber: 200,
			Timestamp:   time.Date(2025, 1, 16, 2, 15, 0, 0, time.UTC),
			Detections: []models.Detection{
				{Class: "car", Confidence: 0.78, BBox: []float64{300, 150, 500, 350}},
				{Class: "dog", Confidence: 0.65, BBox: []float64{50, 200, 150, 400}},
			},
		},
		{
			FrameNumber: 300,
			Timestamp:   time.Date(2025, 1, 16, 3, 45, 0, 0, time.UTC),
			Detections:  []models.Detection{{Class: "backpack", Confidence: 0.72, BBox: []float64{200, 100, 300, 250}}},
		},
	}
}

func TestAnalyze_EndToEndFixture(t *testing.T) {
	records := Analyze(fixtureBatches(), siteConfig())
	require.Len(t, records, 4)

	assert.Equal(t, []string{"person", "car", "dog", "backpack"}, []string{
		records[0].ObjectClass, records[1].ObjectClass, records[2].ObjectClass, records[3].ObjectClass,
	})
	assert.True(t, records[0].Alert)
	assert.True(t, records[1].Alert)
	assert.False(t, records[2].Alert)
	assert.True(t, records[3].Alert)

	s := GenerateSummary(records)
	assert.Equal(t, 4, s.TotalThreats)
	assert.Equal(t, 1, s.HighThreats)
	assert.Equal(t, 2, s.MediumThreats)
	assert.Equal(t, 1, s.LowThreats)
	assert.Equal(t, 3, s.AlertsTriggered)
	assert.Equal(t, models.ClassBreakdown{Count: 1, Level: models.ThreatLow}, s.ThreatBreakdown["dog"])
	require.NotNil(t, s.FirstThreat)
	require.NotNil(t, s.LastThreat)
	assert.Equal(t, records[0].Timestamp, *s.FirstThreat)
	assert.Equal(t, records[3].Timestamp, *s.LastThreat)
}

func TestAnalyze_DropsIgnoredAndUnconfigured(t *testing.T) {
	batches := []models.FrameBatch{{
		FrameNumber: 1,
		Timestamp:   time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC),
		Detections: []models.Detection{
			{Class: "bird", Confidence: 0.9},
			{Class: "cat", Confidence: 0.9},
			{Class: "", Confidence: 0.9},
		},
	}}
	assert.Empty(t, Analyze(batches, siteConfig()))
}

func TestAnalyze_SkipsFramesWithoutTimestamp(t *testing.T) {
	batches := []models.FrameBatch{{
		FrameNumber: 7,
		Detections:  []models.Detection{{Class: "person", Confidence: 0.9}},
	}}
	e := NewEngine(siteConfig())
	records, processed := e.AnalyzeFrame(batches[0])
	assert.False(t, processed)
	assert.Empty(t, records)
}

func TestAnalyze_BelowThresholdKeepsLevel(t *testing.T) {
	batches := []models.FrameBatch{{
		FrameNumber: 1,
		Timestamp:   time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC),
		Detections:  []models.Detection{{Class: "person", Confidence: 0.3}},
	}}
	records := Analyze(batches, siteConfig())
	require.Len(t, records, 1)
	assert.Equal(t, models.ThreatHigh, records[0].ThreatLevel)
	assert.False(t, records[0].Alert)
	assert.Equal(t, "Person detected but confidence (0.30) below threshold (0.50)", records[0].Reason)
}

func TestAnalyze_RoundsConfidence(t *testing.T) {
	batches := []models.FrameBatch{{
		FrameNumber: 1,
		Timestamp:   time.Date(2025, 1, 15, 23, 0, 0, 0, time.UTC),
		Detections:  []models.Detection{{Class: "car", Confidence: 0.78654}},
	}}
	records := Analyze(batches, siteConfig())
	require.Len(t, records, 1)
	assert.Equal(t, 0.79, records[0].Confidence)
}

func TestAnalyze_RecordsDoNotAliasInput(t *testing.T) {
	batches := fixtureBatches()
	records := Analyze(batches, siteConfig())
	batches[0].Detections[0].BBox[0] = -1
	assert.Equal(t, 100.0, records[0].BBox[0])
}

func TestGenerateSummary_Empty(t *testing.T) {
	s := GenerateSummary(nil)
	assert.Zero(t, s.TotalThreats)
	assert.Zero(t, s.AlertsTriggered)
	assert.Empty(t, s.ThreatBreakdown)
	assert.Nil(t, s.FirstThreat)
	assert.Nil(t, s.LastThreat)
}

func TestGenerateSummary_Idempotent(t *testing.T) {
	records := Analyze(fixtureBatches(), siteConfig())
	assert.Equal(t, GenerateSummary(records), GenerateSummary(records))
}

func TestEncodeReport(t *testing.T) {
	data, err := EncodeReport(NewReport(nil))
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, []any{}, doc["threats"])
	summary := doc["summary"].(map[string]any)
	assert.Nil(t, summary["first_threat"])
	assert.Equal(t, float64(0), summary["total_threats"])
}

func TestAlertWorthy(t *testing.T) {
	records := Analyze(fixtureBatches(), siteConfig())
	alerts := AlertWorthy(records)
	require.Len(t, alerts, 3)
	assert.Equal(t, "backpack", alerts[2].ObjectClass)
	for _, a := range alerts {
		assert.True(t, a.Alert)
	}

	assert.Empty(t, AlertWorthy(nil))
}
