package threat

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

const DefaultFPS = 30.0

// GroupClips merges records whose frames are within windowSeconds of the last
// record of the current group. Records are sorted by frame first; the input is
// left untouched.
func GroupClips(records []models.ThreatRecord, windowSeconds, fps float64) [][]models.ThreatRecord {
	if len(records) == 0 {
		return nil
	}
	if fps <= 0 {
		fps = DefaultFPS
	}

	sorted := slices.Clone(records)
	slices.SortStableFunc(sorted, func(a, b models.ThreatRecord) int {
		return cmp.Compare(a.FrameNumber, b.FrameNumber)
	})

	var groups [][]models.ThreatRecord
	current := []models.ThreatRecord{sorted[0]}
	for _, r := range sorted[1:] {
		prev := current[len(current)-1]
		elapsed := float64(r.FrameNumber-prev.FrameNumber) / fps
		if elapsed <= windowSeconds {
			current = append(current, r)
			continue
		}
		groups = append(groups, current)
		current = []models.ThreatRecord{r}
	}
	return append(groups, current)
}

// ClipFor centers a clip of windowSeconds on the group's first record.
func ClipFor(group []models.ThreatRecord, windowSeconds, fps float64) models.ClipRequest {
	if fps <= 0 {
		fps = DefaultFPS
	}
	anchor := group[0]
	startFrame := max(0, anchor.FrameNumber-int64(windowSeconds*fps/2))

	return models.ClipRequest{
		StartSeconds:    float64(startFrame) / fps,
		DurationSeconds: windowSeconds,
		Label:           ClipLabel(anchor),
		AnchorFrame:     anchor.FrameNumber,
		Threats:         len(group),
	}
}

// ClipLabel names a clip after its anchor: HIGH_person_233015_frame500.
func ClipLabel(anchor models.ThreatRecord) string {
	return fmt.Sprintf("%s_%s_%s_frame%d",
		anchor.ThreatLevel, anchor.ObjectClass, anchor.Timestamp.Format("150405"), anchor.FrameNumber)
}

// PlanClips groups records and returns one clip request per group.
func PlanClips(records []models.ThreatRecord, windowSeconds, fps float64) []models.ClipRequest {
	groups := GroupClips(records, windowSeconds, fps)
	clips := make([]models.ClipRequest, 0, len(groups))
	for _, g := range groups {
		clips = append(clips, ClipFor(g, windowSeconds, fps))
	}
	return clips
}
