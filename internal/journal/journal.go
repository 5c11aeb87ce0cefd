// Package journal records runs and worker exit statuses in sqlite.
//
// The dispatcher never changes its exit code because of a failed worker; the
// journal is where those statuses become queryable.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Journal struct {
	db *sql.DB
}

func New(db *sql.DB) *Journal {
	return &Journal{db: db}
}

// BeginRun inserts a running row and returns its generated ID.
func (j *Journal) BeginRun(ctx context.Context, run Run) (string, error) {
	if run.Fingerprint == "" {
		return "", fmt.Errorf("fingerprint is empty")
	}
	if run.Workers < 1 {
		return "", fmt.Errorf("workers must be at least 1")
	}

	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	command, err := json.Marshal(run.Command)
	if err != nil {
		return "", fmt.Errorf("marshal command: %w", err)
	}
	var statefile any
	if run.StateFile != "" {
		statefile = run.StateFile
	}

	_, err = j.db.ExecContext(ctx, `
INSERT INTO runs(id, fingerprint, mode, command, workers, skip, statefile, status, started_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);
`, id, run.Fingerprint, run.Mode, string(command), run.Workers, int64(run.Skip), statefile, StatusRunning,
		started.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// RecordExit appends a reaped worker to a run.
func (j *Journal) RecordExit(ctx context.Context, e WorkerExit) error {
	if e.RunID == "" {
		return fmt.Errorf("runID is empty")
	}
	var signal any
	if e.Signal != "" {
		signal = e.Signal
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO worker_exits(run_id, slot, pid, record_index, exit_code, signal, started_at, finished_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?);
`, e.RunID, e.Slot, e.PID, int64(e.Record), e.ExitCode, signal,
		e.StartedAt.UTC().Format(time.RFC3339Nano), e.FinishedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("record worker exit: %w", err)
	}
	return nil
}

// FinishRun marks a run terminal. A nil runErr means the run succeeded.
func (j *Journal) FinishRun(ctx context.Context, runID string, stats Stats, runErr error) error {
	if runID == "" {
		return fmt.Errorf("runID is empty")
	}
	status := StatusSucceeded
	var lastError any
	if runErr != nil {
		status = StatusFailed
		lastError = runErr.Error()
	}

	res, err := j.db.ExecContext(ctx, `
UPDATE runs
SET status = ?, finished_at = ?, consumed = ?, dispatched = ?, spawn_failures = ?, last_error = ?
WHERE id = ?;
`, status, time.Now().UTC().Format(time.RFC3339Nano), int64(stats.Consumed), int64(stats.Dispatched),
		int64(stats.SpawnFailures), lastError, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrRunNotFound
	}
	return nil
}

const runColumns = `id, fingerprint, mode, command, workers, skip, statefile, status, started_at, finished_at,
  consumed, dispatched, spawn_failures, last_error`

// ListRuns returns the most recent runs, newest first.
func (j *Journal) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM runs
ORDER BY started_at DESC, rowid DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return out, nil
}

// GetRun returns a run by ID or unique ID prefix.
func (j *Journal) GetRun(ctx context.Context, id string) (*Run, error) {
	if id == "" {
		return nil, fmt.Errorf("run id is empty")
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT `+runColumns+`
FROM runs
WHERE id = ? OR id LIKE ? || '%'
ORDER BY (id = ?) DESC
LIMIT 2;
`, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()

	var found []*Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	switch {
	case len(found) == 0:
		return nil, ErrRunNotFound
	case found[0].ID == id || len(found) == 1:
		return found[0], nil
	default:
		return nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		r           Run
		command     string
		skip        int64
		statefile   sql.NullString
		status      string
		startedAtS  string
		finishedAtS sql.NullString
		consumed    int64
		dispatched  int64
		spawnFails  int64
		lastError   sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Fingerprint, &r.Mode, &command, &r.Workers, &skip, &statefile, &status,
		&startedAtS, &finishedAtS, &consumed, &dispatched, &spawnFails, &lastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if err := json.Unmarshal([]byte(command), &r.Command); err != nil {
		return nil, fmt.Errorf("decode command of run %s: %w", r.ID, err)
	}
	r.Skip = uint64(skip)
	r.StateFile = statefile.String
	r.Status = Status(status)
	if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
		r.StartedAt = t
	}
	if finishedAtS.Valid {
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS.String); err == nil {
			r.FinishedAt = &t
		}
	}
	r.Consumed = uint64(consumed)
	r.Dispatched = uint64(dispatched)
	r.SpawnFailures = uint64(spawnFails)
	if lastError.Valid {
		r.LastError = &lastError.String
	}
	return &r, nil
}

// Exits returns the worker exits of a run in reap order. failedOnly keeps
// non-zero and signalled exits.
func (j *Journal) Exits(ctx context.Context, runID string, failedOnly bool) ([]WorkerExit, error) {
	query := `
SELECT run_id, slot, pid, record_index, exit_code, signal, started_at, finished_at
FROM worker_exits
WHERE run_id = ?`
	if failedOnly {
		query += ` AND (exit_code != 0 OR signal IS NOT NULL)`
	}
	query += `
ORDER BY id ASC;`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list worker exits: %w", err)
	}
	defer rows.Close()

	var out []WorkerExit
	for rows.Next() {
		var (
			e           WorkerExit
			record      int64
			signal      sql.NullString
			startedAtS  string
			finishedAtS string
		)
		if err := rows.Scan(&e.RunID, &e.Slot, &e.PID, &record, &e.ExitCode, &signal, &startedAtS, &finishedAtS); err != nil {
			return nil, fmt.Errorf("scan worker exit: %w", err)
		}
		e.Record = uint64(record)
		e.Signal = signal.String
		if t, err := time.Parse(time.RFC3339Nano, startedAtS); err == nil {
			e.StartedAt = t
		}
		if t, err := time.Parse(time.RFC3339Nano, finishedAtS); err == nil {
			e.FinishedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list worker exits: %w", err)
	}
	return out, nil
}

// Summarize counts the worker outcomes of a run.
func (j *Journal) Summarize(ctx context.Context, runID string) (Summary, error) {
	var s Summary
	err := j.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN exit_code = 0 AND signal IS NULL THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN exit_code != 0 AND signal IS NULL THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN signal IS NOT NULL THEN 1 ELSE 0 END), 0)
FROM worker_exits
WHERE run_id = ?;
`, runID).Scan(&s.Workers, &s.Succeeded, &s.Failed, &s.Signaled)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize run: %w", err)
	}
	return s, nil
}
