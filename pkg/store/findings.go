/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: findings.go
Description: SQLite-backed store for runs and divergence findings. One row per run with
its start, finish and counts, and one row per recorded finding, so findings from many
campaigns can be listed and filtered after the fact.
*/

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kleascm/akaylee-droid/pkg/analysis"
	"github.com/kleascm/akaylee-droid/pkg/interfaces"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// Run is one row of the runs table.
type Run struct {
	ID         string     `json:"id"`
	Strategy   string     `json:"strategy"`
	RunCount   int        `json:"run_count"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Events     int        `json:"events"`
	Errors     int        `json:"errors"`
	Wrongs     int        `json:"wrongs"`
	Status     string     `json:"status"`
}

// Run statuses.
const (
	RunRunning   = "running"
	RunFinished  = "finished"
	RunAbandoned = "abandoned"
)

// RunTotals are the counts written when a run ends.
type RunTotals struct {
	Events int
	Errors int
	Wrongs int
	Status string
}

// Filter narrows ListFindings. Zero values match everything.
type Filter struct {
	Strategy string
	Severity analysis.Severity
	RunID    string
	Limit    int
}

// FindingStore persists runs and findings.
type FindingStore struct {
	db *sql.DB
}

// Open creates or opens the database at path and migrates it.
func Open(ctx context.Context, path string) (*FindingStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &FindingStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close releases the database.
func (s *FindingStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *FindingStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS runs (
	run_id TEXT PRIMARY KEY,
	strategy TEXT NOT NULL,
	run_count INTEGER NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	events INTEGER NOT NULL DEFAULT 0,
	errors INTEGER NOT NULL DEFAULT 0,
	wrongs INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS findings (
	finding_id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL REFERENCES runs(run_id),
	strategy TEXT NOT NULL,
	run_count INTEGER NOT NULL,
	seq REAL NOT NULL,
	role INTEGER NOT NULL,
	serial TEXT NOT NULL,
	action TEXT NOT NULL,
	severity TEXT NOT NULL,
	number INTEGER NOT NULL,
	base_hash TEXT NOT NULL,
	guest_hash TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS findings_by_strategy ON findings(strategy, severity);
`)
	return err
}

// BeginRun inserts a running row and returns its ID.
func (s *FindingStore) BeginRun(ctx context.Context, strategy string, runCount int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(run_id, strategy, run_count, started_at, status) VALUES (?, ?, ?, ?, ?)
`, id, strategy, runCount, ts(time.Now()), RunRunning)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun stamps a run with its totals.
func (s *FindingStore) FinishRun(ctx context.Context, runID string, totals RunTotals) error {
	if totals.Status == "" {
		totals.Status = RunFinished
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET finished_at=?, events=?, errors=?, wrongs=?, status=? WHERE run_id=?
`, ts(time.Now()), totals.Events, totals.Errors, totals.Wrongs, totals.Status, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// GetRun loads one run.
func (s *FindingStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT run_id, strategy, run_count, started_at, finished_at, events, errors, wrongs, status
FROM runs WHERE run_id=?
`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return r, err
}

// ListRuns returns runs, newest first.
func (s *FindingStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, strategy, run_count, started_at, finished_at, events, errors, wrongs, status
FROM runs ORDER BY started_at DESC, run_count DESC LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecordFinding inserts f under runID. A finding without an ID gets one.
func (s *FindingStore) RecordFinding(ctx context.Context, runID string, f *analysis.Finding) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO findings(finding_id, run_id, strategy, run_count, seq, role, serial, action, severity, number, base_hash, guest_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, f.ID, runID, f.Strategy, f.RunCount, f.Seq, int(f.Role), f.Serial, string(f.Action), string(f.Severity), f.Number, f.BaseHash, f.GuestHash, ts(f.Timestamp))
	if err != nil {
		return fmt.Errorf("insert finding: %w", err)
	}
	return nil
}

// ListFindings returns findings matching filter in recording order.
func (s *FindingStore) ListFindings(ctx context.Context, filter Filter) ([]*analysis.Finding, error) {
	var (
		where []string
		args  []any
	)
	if filter.Strategy != "" {
		where = append(where, "strategy=?")
		args = append(args, filter.Strategy)
	}
	if filter.Severity != "" {
		where = append(where, "severity=?")
		args = append(args, string(filter.Severity))
	}
	if filter.RunID != "" {
		where = append(where, "run_id=?")
		args = append(args, filter.RunID)
	}
	query := `SELECT finding_id, strategy, run_count, seq, role, serial, action, severity, number, base_hash, guest_hash, created_at FROM findings`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*analysis.Finding
	for rows.Next() {
		var (
			f        analysis.Finding
			role     int
			action   string
			severity string
			created  string
		)
		if err := rows.Scan(&f.ID, &f.Strategy, &f.RunCount, &f.Seq, &role, &f.Serial, &action, &severity, &f.Number, &f.BaseHash, &f.GuestHash, &created); err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		f.Role = interfaces.Role(role)
		f.Action = interfaces.ActionKind(action)
		f.Severity = analysis.Severity(severity)
		f.Timestamp = parseTS(created)
		out = append(out, &f)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r        Run
		started  string
		finished sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Strategy, &r.RunCount, &started, &finished, &r.Events, &r.Errors, &r.Wrongs, &r.Status); err != nil {
		return nil, err
	}
	r.StartedAt = parseTS(started)
	if finished.Valid {
		t := parseTS(finished.String)
		r.FinishedAt = &t
	}
	return &r, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
