// Package notify renders threat notifications and delivers them through
// shoutrrr services (smtp, slack, telegram, ...).
package notify

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

const maxHighListed = 10

// BuildThreatEmail renders the alert email of one analyzed video. ok is false
// when there are no HIGH or MEDIUM threats to report.
func BuildThreatEmail(cameraID string, videoStart time.Time, threats []models.ThreatRecord, resultsLocation string) (subject, body string, ok bool) {
	high := lo.Filter(threats, func(r models.ThreatRecord, _ int) bool { return r.ThreatLevel == models.ThreatHigh })
	medium := lo.Filter(threats, func(r models.ThreatRecord, _ int) bool { return r.ThreatLevel == models.ThreatMedium })
	if len(high) == 0 && len(medium) == 0 {
		return "", "", false
	}

	subject = fmt.Sprintf("CCTV Alert: %d HIGH, %d MEDIUM threats", len(high), len(medium))

	var b strings.Builder
	b.WriteString("<html><body style='font-family: Arial, sans-serif;'>\n")
	b.WriteString("<div style='background: #f44336; color: white; padding: 20px;'><h1 style='margin: 0;'>CCTV THREAT ALERT</h1></div>\n")
	b.WriteString("<div style='padding: 20px;'>\n")
	fmt.Fprintf(&b, "<p><strong>Camera:</strong> %s</p>\n", html.EscapeString(cameraID))
	fmt.Fprintf(&b, "<p><strong>Date/Time:</strong> %s</p>\n", videoStart.Format("2006-01-02 03:04 PM"))
	b.WriteString("<hr>\n")
	fmt.Fprintf(&b, "<h2 style='color: #f44336;'>%d HIGH Priority Threats</h2>\n", len(high))
	fmt.Fprintf(&b, "<h3 style='color: #ff9800;'>%d MEDIUM Priority Threats</h3>\n", len(medium))

	if len(high) > 0 {
		b.WriteString("<div style='background: #ffebee; padding: 15px; border-left: 4px solid #f44336;'>\n")
		b.WriteString("<h3 style='margin-top: 0; color: #f44336;'>HIGH PRIORITY THREATS</h3>\n<ul>\n")
		for _, r := range lo.Slice(high, 0, maxHighListed) {
			fmt.Fprintf(&b, "<li><strong>%s</strong> detected at %s (confidence: %.0f%%)</li>\n",
				html.EscapeString(strings.ToUpper(r.ObjectClass)), r.Timestamp.Format(time.TimeOnly), r.Confidence*100)
		}
		if len(high) > maxHighListed {
			fmt.Fprintf(&b, "<li><em>... and %d more</em></li>\n", len(high)-maxHighListed)
		}
		b.WriteString("</ul>\n</div>\n")
	}

	if len(medium) > 0 {
		b.WriteString("<div style='background: #fff3e0; padding: 15px; border-left: 4px solid #ff9800;'>\n")
		b.WriteString("<h3 style='margin-top: 0; color: #ff9800;'>MEDIUM PRIORITY THREATS</h3>\n<ul>\n")
		byClass := lo.GroupBy(medium, func(r models.ThreatRecord) string { return r.ObjectClass })
		classes := lo.Uniq(lo.Map(medium, func(r models.ThreatRecord, _ int) string { return r.ObjectClass }))
		for _, class := range classes {
			fmt.Fprintf(&b, "<li><strong>%d %s(s)</strong> detected</li>\n", len(byClass[class]), html.EscapeString(class))
		}
		b.WriteString("</ul>\n</div>\n")
	}

	b.WriteString("<hr>\n<h3>Results Location</h3>\n")
	fmt.Fprintf(&b, "<p><code>%s</code></p>\n", html.EscapeString(resultsLocation))
	b.WriteString("<ul>\n")
	b.WriteString("<li>threat_report.json - Detailed threat analysis</li>\n")
	b.WriteString("<li>summary.json - Processing summary</li>\n")
	b.WriteString("<li>flagged_clips/ - Video clips of threats</li>\n")
	b.WriteString("</ul>\n")
	b.WriteString("</div></body></html>")

	return subject, b.String(), true
}
