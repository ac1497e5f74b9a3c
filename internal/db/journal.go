package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// NoActivity is reported for a test case with no successful replay.
const NoActivity = "no-activity"

var ErrNotFound = errors.New("not found in journal")

type Run struct {
	ID         string
	Mode       string
	StartedAt  string
	FinishedAt string
	Failures   int
}

// LinkedScenario is a scenario whose link tag was written or refreshed by a sync run.
type LinkedScenario struct {
	TestCaseID string
	FilePath   string
	Name       string
	Line       int
	Status     string
}

type Execution struct {
	RunID      string
	TestCaseID string
	Status     string
	Comment    string
	Attachment string
	// Error is empty when the remote accepted the update.
	Error string
}

type StatusCount struct {
	Status string
	Count  int
}

// StartRun records the start of a run and returns its id.
func StartRun(ctx context.Context, db *sql.DB, mode string) (string, error) {
	id := uuid.NewString()
	if _, err := db.ExecContext(ctx, `INSERT INTO runs (id, mode) VALUES (?, ?)`, id, mode); err != nil {
		return "", fmt.Errorf("starting run: %w", err)
	}
	return id, nil
}

func FinishRun(ctx context.Context, db *sql.DB, runID string, failures int) error {
	res, err := db.ExecContext(ctx,
		`UPDATE runs SET finished_at = datetime('now'), failures = ? WHERE id = ?`, failures, runID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", runID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// LastRun returns the most recently started run.
func LastRun(ctx context.Context, db *sql.DB) (Run, error) {
	var r Run
	var finished sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, mode, started_at, finished_at, failures
		FROM runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`).Scan(&r.ID, &r.Mode, &r.StartedAt, &finished, &r.Failures)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("querying last run: %w", err)
	}
	r.FinishedAt = finished.String
	return r, nil
}

// RecordScenario upserts the file and the scenario linked to testCaseID.
func RecordScenario(ctx context.Context, db *sql.DB, path, testCaseID, name string, line int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording %s: %w", testCaseID, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO files (file_path) VALUES (?)
		ON CONFLICT(file_path) DO UPDATE SET updated_at = datetime('now')
	`, path); err != nil {
		return fmt.Errorf("recording file %s: %w", path, err)
	}

	var fileID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM files WHERE file_path = ?`, path).Scan(&fileID); err != nil {
		return fmt.Errorf("querying file %s: %w", path, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO scenarios (test_case_id, file_id, name, line) VALUES (?, ?, ?, ?)
		ON CONFLICT(test_case_id) DO UPDATE SET
			file_id = excluded.file_id,
			name = excluded.name,
			line = excluded.line,
			updated_at = datetime('now')
	`, testCaseID, fileID, name, line); err != nil {
		return fmt.Errorf("recording %s: %w", testCaseID, err)
	}

	return tx.Commit()
}

func RecordExecution(ctx context.Context, db *sql.DB, e Execution) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO executions (run_id, test_case_id, status, comment, attachment, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.RunID, e.TestCaseID, e.Status, e.Comment, e.Attachment, e.Error)
	if err != nil {
		return fmt.Errorf("recording execution of %s: %w", e.TestCaseID, err)
	}
	return nil
}

const lastStatus = `COALESCE(
	(SELECT e.status FROM executions e
	 WHERE e.test_case_id = %s AND e.error = ''
	 ORDER BY e.replayed_at DESC, e.id DESC LIMIT 1),
	'` + NoActivity + `')`

// LinkedScenarios lists journaled scenarios ordered by file and line. A non-empty
// file restricts the list to that feature file.
func LinkedScenarios(ctx context.Context, db *sql.DB, file string) ([]LinkedScenario, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT s.test_case_id, f.file_path, s.name, s.line, `+fmt.Sprintf(lastStatus, "s.test_case_id")+`
		FROM scenarios s
		JOIN files f ON s.file_id = f.id
		WHERE ? = '' OR f.file_path = ?
		ORDER BY f.file_path, s.line, s.test_case_id
	`, file, file)
	if err != nil {
		return nil, fmt.Errorf("querying scenarios: %w", err)
	}
	defer rows.Close()

	var out []LinkedScenario
	for rows.Next() {
		var s LinkedScenario
		if err := rows.Scan(&s.TestCaseID, &s.FilePath, &s.Name, &s.Line, &s.Status); err != nil {
			return nil, fmt.Errorf("scanning scenario: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating scenarios: %w", err)
	}
	return out, nil
}

func FindScenario(ctx context.Context, db *sql.DB, testCaseID string) (LinkedScenario, error) {
	s := LinkedScenario{TestCaseID: testCaseID}
	err := db.QueryRowContext(ctx, `
		SELECT f.file_path, s.name, s.line, `+fmt.Sprintf(lastStatus, "s.test_case_id")+`
		FROM scenarios s
		JOIN files f ON s.file_id = f.id
		WHERE s.test_case_id = ?
	`, testCaseID).Scan(&s.FilePath, &s.Name, &s.Line, &s.Status)
	if err == sql.ErrNoRows {
		return LinkedScenario{}, fmt.Errorf("test case %s: %w", testCaseID, ErrNotFound)
	}
	if err != nil {
		return LinkedScenario{}, fmt.Errorf("querying test case %s: %w", testCaseID, err)
	}
	return s, nil
}

// StatusCounts groups every known test case by its last successfully replayed status.
// Test cases without one are counted under NoActivity, listed last.
func StatusCounts(ctx context.Context, db *sql.DB) ([]StatusCount, error) {
	rows, err := db.QueryContext(ctx, `
		WITH ids AS (
			SELECT test_case_id FROM scenarios
			UNION
			SELECT test_case_id FROM executions
		)
		SELECT `+fmt.Sprintf(lastStatus, "ids.test_case_id")+` AS current_status, COUNT(*) AS cnt
		FROM ids
		GROUP BY current_status
		ORDER BY CASE WHEN current_status = '`+NoActivity+`' THEN 1 ELSE 0 END, cnt DESC, current_status
	`)
	if err != nil {
		return nil, fmt.Errorf("querying status counts: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scanning status row: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExecutionEntry is a journaled replay of one test case status.
type ExecutionEntry struct {
	Execution
	ReplayedAt string
}

// Executions lists the replays of testCaseID, newest first.
func Executions(ctx context.Context, db *sql.DB, testCaseID string) ([]ExecutionEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, status, comment, attachment, error, replayed_at
		FROM executions
		WHERE test_case_id = ?
		ORDER BY replayed_at DESC, id DESC
	`, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []ExecutionEntry
	for rows.Next() {
		e := ExecutionEntry{Execution: Execution{TestCaseID: testCaseID}}
		if err := rows.Scan(&e.RunID, &e.Status, &e.Comment, &e.Attachment, &e.Error, &e.ReplayedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
