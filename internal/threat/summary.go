package threat

import (
	"github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// GenerateSummary derives counts from records. First and last threat follow
// list order and are nil for an empty list.
func GenerateSummary(records []models.ThreatRecord) models.ThreatSummary {
	s := models.ThreatSummary{
		ThreatBreakdown: make(map[string]models.ClassBreakdown),
	}

	for _, r := range records {
		s.TotalThreats++
		switch r.ThreatLevel {
		case models.ThreatHigh:
			s.HighThreats++
		case models.ThreatMedium:
			s.MediumThreats++
		case models.ThreatLow:
			s.LowThreats++
		}
		if r.Alert {
			s.AlertsTriggered++
		}

		b, ok := s.ThreatBreakdown[r.ObjectClass]
		if !ok {
			b.Level = r.ThreatLevel
		}
		b.Count++
		s.ThreatBreakdown[r.ObjectClass] = b
	}

	if len(records) > 0 {
		first := records[0].Timestamp
		last := records[len(records)-1].Timestamp
		s.FirstThreat = &first
		s.LastThreat = &last
	}
	return s
}

func NewReport(records []models.ThreatRecord) models.ThreatReport {
	if records == nil {
		records = []models.ThreatRecord{}
	}
	return models.ThreatReport{
		Summary: GenerateSummary(records),
		Threats: records,
	}
}

// EncodeReport renders the report document stored next to analyzed footage.
func EncodeReport(report models.ThreatReport) ([]byte, error) {
	return json.MarshalIndent(report, "", "  ")
}

// AlertWorthy returns the records with alert set, in input order.
func AlertWorthy(records []models.ThreatRecord) []models.ThreatRecord {
	return lo.Filter(records, func(r models.ThreatRecord, _ int) bool {
		return r.Alert
	})
}
