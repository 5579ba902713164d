// Package history records the outcome of every orchestrator run in a local
// SQLite database, independent of and supplementary to the per-job INI
// descriptors: it answers "what has this installation done over time",
// which the descriptors, which only ever hold the latest state, cannot.
// Connections are PRAGMA-configured on open and migrations run
// automatically at startup. Lookups that find no row return an empty
// result (Last returns nil, nil) rather than an error.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sxbackup-go/internal/history/migrations"
)

// Run is one recorded invocation of the orchestrator against a job.
type Run struct {
	ID           int64
	JobUUID      string
	Operation    string // "run" (also used for transfer), "update", "purge", "destroy"
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Status       string // "running", "success", "error", "interrupted"
	SnapshotName string
	FullTransfer bool
	Detail       string
}

// Store persists Run records in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the history database at path and
// brings its schema up to date. path may be ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Start records the beginning of a run and returns its ID.
func (s *Store) Start(jobUUID, operation string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(context.Background(),
		`INSERT INTO runs (job_uuid, operation, started_at, status) VALUES (?, ?, ?, 'running')`,
		jobUUID, operation, startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("recording run start: %w", err)
	}
	return res.LastInsertId()
}

// Finish records the terminal status of a run begun with Start.
func (s *Store) Finish(id int64, finishedAt time.Time, status, snapshotName string, fullTransfer bool, detail string) error {
	_, err := s.db.ExecContext(context.Background(),
		`UPDATE runs SET finished_at = ?, status = ?, snapshot_name = ?, full_transfer = ?, detail = ? WHERE id = ?`,
		finishedAt.UTC(), status, snapshotName, boolToInt(fullTransfer), detail, id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// Recent returns the most recent runs for jobUUID, newest first, up to limit.
func (s *Store) Recent(jobUUID string, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(context.Background(),
		`SELECT id, job_uuid, operation, started_at, finished_at, status, snapshot_name, full_transfer, detail
		 FROM runs WHERE job_uuid = ? ORDER BY started_at DESC LIMIT ?`,
		jobUUID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying run history: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var fullTransfer int
		if err := rows.Scan(&r.ID, &r.JobUUID, &r.Operation, &r.StartedAt, &r.FinishedAt, &r.Status, &r.SnapshotName, &fullTransfer, &r.Detail); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		r.FullTransfer = fullTransfer != 0
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run history: %w", err)
	}
	return runs, nil
}

// Last returns the most recent run for jobUUID, or (nil, nil) if there are none.
func (s *Store) Last(jobUUID string) (*Run, error) {
	runs, err := s.Recent(jobUUID, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
