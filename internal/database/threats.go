package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/models"
)

// SaveThreats stores the records of one analyzed job.
func (d *Database) SaveThreats(ctx context.Context, jobID, cameraID string, records []models.ThreatRecord) error {
	for _, r := range records {
		bbox := r.BBox
		if bbox == nil {
			bbox = []float64{}
		}
		_, err := d.querier(ctx).ExecContext(ctx, `
			INSERT INTO threats (job_id, camera_id, frame_number, ts, object_class, confidence, bbox, threat_level, alert, reason)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			jobID,
			cameraID,
			r.FrameNumber,
			r.Timestamp,
			r.ObjectClass,
			r.Confidence,
			pq.Array(bbox),
			r.ThreatLevel,
			r.Alert,
			r.Reason,
		)
		if err != nil {
			return fmt.Errorf("insert threat frame %d: %w", r.FrameNumber, err)
		}
	}
	return nil
}

// GetThreats returns the records of a job in frame order.
func (d *Database) GetThreats(ctx context.Context, jobID string) ([]models.ThreatRecord, error) {
	rows, err := d.querier(ctx).QueryContext(ctx, `
		SELECT frame_number, ts, object_class, confidence, bbox, threat_level, alert, reason
		FROM threats WHERE job_id = $1 ORDER BY frame_number, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.ThreatRecord
	for rows.Next() {
		var r models.ThreatRecord
		var bbox pq.Float64Array
		if err := rows.Scan(&r.FrameNumber, &r.Timestamp, &r.ObjectClass, &r.Confidence,
			&bbox, &r.ThreatLevel, &r.Alert, &r.Reason); err != nil {
			return nil, err
		}
		r.BBox = bbox
		records = append(records, r)
	}
	return records, rows.Err()
}
