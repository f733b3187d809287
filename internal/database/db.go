package database

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Database represents the database connection and operations
type Database struct {
	DB *sql.DB
}

// New opens and verifies a PostgreSQL connection
func New(ctx context.Context, dsn string) (*Database, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err = db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &Database{DB: db}, nil
}

// Init creates the required tables if they don't exist
func (d *Database) Init(ctx context.Context) error {
	createTables := `
	CREATE TABLE IF NOT EXISTS video_jobs (
		id TEXT PRIMARY KEY,
		camera_id TEXT NOT NULL,
		video_key TEXT NOT NULL,
		status TEXT NOT NULL,
		frames_done BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS threats (
		id BIGSERIAL PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES video_jobs(id),
		camera_id TEXT NOT NULL,
		frame_number BIGINT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		object_class TEXT NOT NULL,
		confidence DOUBLE PRECISION NOT NULL,
		bbox DOUBLE PRECISION[] NOT NULL,
		threat_level TEXT NOT NULL,
		alert BOOLEAN NOT NULL,
		reason TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS threats_job_idx ON threats (job_id);

	CREATE TABLE IF NOT EXISTS outbox (
		id TEXT PRIMARY KEY,
		job_id TEXT NOT NULL REFERENCES video_jobs(id),
		camera_id TEXT NOT NULL,
		payload BYTEA NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	);
	`

	_, err := d.DB.ExecContext(ctx, createTables)
	return err
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.DB.Close()
}
