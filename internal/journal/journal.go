// Package journal records job lifecycle events in a SQLite database.
//
// The journal is an append-only audit trail alongside the per-job
// manifests: every status change and progress update lands here so the
// history of a job survives its directory being pruned.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is a single job lifecycle event.
type Entry struct {
	JobID    string    `json:"job_id"`
	At       time.Time `json:"at"`
	Type     string    `json:"type"`
	Status   string    `json:"status,omitempty"`
	Progress *float64  `json:"progress,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// Event types written by the runner and sweeper.
const (
	EventCreated  = "created"
	EventStatus   = "status"
	EventProgress = "progress"
	EventArtifact = "artifact"
	EventPruned   = "pruned"
)

// Journal is a SQLite-backed event log. Safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (and creates if needed) the journal database at path and
// ensures the schema exists.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is empty")
	}
	if err := validateJournalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS job_events (
  job_id   TEXT NOT NULL,
  at       TEXT NOT NULL,
  type     TEXT NOT NULL,
  status   TEXT,
  progress REAL,
  message  TEXT
);`,
		`CREATE INDEX IF NOT EXISTS job_events_job_id_at_idx ON job_events(job_id, at);`,
		`CREATE INDEX IF NOT EXISTS job_events_at_idx ON job_events(at);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap journal: %w", err)
		}
	}
	return nil
}

// Append writes one event. A zero At is filled with the current time.
func (j *Journal) Append(ctx context.Context, e Entry) error {
	if e.JobID == "" {
		return fmt.Errorf("journal entry requires a job id")
	}
	at := e.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO job_events (job_id, at, type, status, progress, message) VALUES (?, ?, ?, ?, ?, ?);`,
		e.JobID, at.Format(time.RFC3339Nano), e.Type, e.Status, e.Progress, e.Message,
	)
	if err != nil {
		return fmt.Errorf("append journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit events for a job, newest first.
func (j *Journal) Recent(ctx context.Context, jobID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT job_id, at, type, status, progress, message
		   FROM job_events WHERE job_id = ? ORDER BY at DESC, rowid DESC LIMIT ?;`,
		jobID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			at       string
			status   sql.NullString
			progress sql.NullFloat64
			message  sql.NullString
		)
		if err := rows.Scan(&e.JobID, &at, &e.Type, &status, &progress, &message); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.At, err = time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse journal timestamp %q: %w", at, err)
		}
		e.Status = status.String
		e.Message = message.String
		if progress.Valid {
			p := progress.Float64
			e.Progress = &p
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneBefore deletes events older than cutoff and reports how many were
// removed.
func (j *Journal) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := j.db.ExecContext(ctx,
		`DELETE FROM job_events WHERE at < ?;`,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
