package s3

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	start := time.Date(2025, 1, 15, 23, 30, 15, 0, time.UTC)
	prefix := AnalysisPrefix("camera-1", start)

	assert.Equal(t, "camera-1/2025-01-15", prefix)
	assert.Equal(t, "camera-1/2025-01-15/threat_report.json", ReportKey(prefix))
	assert.Equal(t, "camera-1/2025-01-15/summary.json", SummaryKey(prefix))
	assert.Equal(t, "camera-1/2025-01-15/flagged_clips/HIGH_person_233015_frame500.mp4",
		ClipKey(prefix, "HIGH_person_233015_frame500"))
	assert.Equal(t, "job-1/000042.json", DetectionKey("job-1", 42))
}

func TestParseDetectionKey(t *testing.T) {
	idx, ok := parseDetectionKey(DetectionKey("job-1", 42))
	assert.True(t, ok)
	assert.Equal(t, 42, idx)

	for _, bad := range []string{"job-1/", "job-1/readme.txt", "job-1/abc.json", "job-1/-3.json"} {
		_, ok := parseDetectionKey(bad)
		assert.False(t, ok, bad)
	}
}

func TestLocation(t *testing.T) {
	c := &Client{buckets: Buckets{Analysis: "cctv-analysis"}}
	assert.Equal(t, "s3://cctv-analysis/camera-1/2025-01-15/", c.Location("camera-1/2025-01-15"))
}
