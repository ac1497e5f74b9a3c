package db

import (
	"context"
	"database/sql"
	"fmt"
)

// All contains the ordered list of journal migrations. Appending is the only safe edit.
var All = []string{
	`CREATE TABLE runs (
		id          TEXT PRIMARY KEY,
		mode        TEXT NOT NULL,
		started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
		finished_at DATETIME,
		failures    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE files (
		id         INTEGER PRIMARY KEY,
		file_path  TEXT UNIQUE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT (datetime('now')),
		updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE scenarios (
		test_case_id TEXT PRIMARY KEY,
		file_id      INTEGER NOT NULL REFERENCES files(id),
		name         TEXT NOT NULL,
		line         INTEGER NOT NULL DEFAULT 0,
		linked_at    DATETIME NOT NULL DEFAULT (datetime('now')),
		updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE TABLE executions (
		id           INTEGER PRIMARY KEY,
		run_id       TEXT NOT NULL REFERENCES runs(id),
		test_case_id TEXT NOT NULL,
		status       TEXT NOT NULL,
		comment      TEXT NOT NULL DEFAULT '',
		attachment   TEXT NOT NULL DEFAULT '',
		error        TEXT NOT NULL DEFAULT '',
		replayed_at  DATETIME NOT NULL DEFAULT (datetime('now'))
	)`,
	`CREATE INDEX executions_test_case ON executions(test_case_id, replayed_at)`,
}

// Migrate brings the schema up to len(All), one transaction per migration.
func Migrate(ctx context.Context, db *sql.DB) error {
	current, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for i := current; i < len(All); i++ {
		if err := apply(ctx, db, i+1, All[i]); err != nil {
			return err
		}
	}
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return 0, fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&current)
	if err == sql.ErrNoRows {
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return 0, fmt.Errorf("initializing schema version: %w", err)
		}
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return current, nil
}

func apply(ctx context.Context, db *sql.DB, version int, stmt string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migration %d failed: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, version); err != nil {
		return fmt.Errorf("updating schema version to %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration %d: %w", version, err)
	}
	return nil
}
