package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when the ledger holds no runs.
var ErrNotFound = errors.New("no runs recorded")

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Run is the outcome of one scheduling tick. It never carries weather values.
type Run struct {
	RunID      string    `json:"runId"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     string    `json:"status"`
	TempPath   string    `json:"tempPath,omitempty"`
	WindPath   string    `json:"windPath,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// DB wraps a SQLite connection holding the runs table.
type DB struct {
	*sql.DB
}

// Open opens (creating if needed) the ledger at path. ":memory:" is accepted.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory: databases intact.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping ledger: %w", err)
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &DB{db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id      TEXT PRIMARY KEY,
			started_at  TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			status      TEXT NOT NULL,
			temp_path   TEXT NOT NULL DEFAULT '',
			wind_path   TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
	`)
	return err
}

// Record inserts or replaces a run.
func (d *DB) Record(ctx context.Context, r Run) error {
	_, err := d.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (run_id, started_at, finished_at, status, temp_path, wind_path, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID,
		r.StartedAt.UTC().Format(timeLayout),
		r.FinishedAt.UTC().Format(timeLayout),
		r.Status, r.TempPath, r.WindPath, r.Error,
	)
	if err != nil {
		return fmt.Errorf("record run %s: %w", r.RunID, err)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.QueryContext(ctx,
		`SELECT run_id, started_at, finished_at, status, temp_path, wind_path, error
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Latest returns the most recently started run.
func (d *DB) Latest(ctx context.Context) (Run, error) {
	runs, err := d.Recent(ctx, 1)
	if err != nil {
		return Run{}, err
	}
	if len(runs) == 0 {
		return Run{}, ErrNotFound
	}
	return runs[0], nil
}

func scanRun(rows *sql.Rows) (Run, error) {
	var (
		r                 Run
		started, finished string
	)
	if err := rows.Scan(&r.RunID, &started, &finished, &r.Status, &r.TempPath, &r.WindPath, &r.Error); err != nil {
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at of %s: %w", r.RunID, err)
	}
	if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
		return Run{}, fmt.Errorf("parse finished_at of %s: %w", r.RunID, err)
	}
	return r, nil
}
