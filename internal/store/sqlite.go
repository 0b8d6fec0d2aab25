// Package store provides SQLite-backed persistence for executions,
// stream events, checkpoints, and cost deltas.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// schemaV1 defines the initial database schema.
const schemaV1 = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id        TEXT PRIMARY KEY,
	template_id         TEXT NOT NULL,
	description         TEXT NOT NULL DEFAULT '',
	team_config         TEXT NOT NULL DEFAULT '',
	user_id             TEXT NOT NULL DEFAULT '',
	custom_requirements TEXT NOT NULL DEFAULT '',
	budget_usd          REAL NOT NULL DEFAULT 0.0,
	phase               TEXT NOT NULL DEFAULT 'queued',
	progress            REAL NOT NULL DEFAULT 0.0,
	tokens_used         INTEGER NOT NULL DEFAULT 0,
	cost_usd            REAL NOT NULL DEFAULT 0.0,
	duration_sec        REAL NOT NULL DEFAULT 0.0,
	artifacts_json      TEXT NOT NULL DEFAULT '[]',
	error               TEXT NOT NULL DEFAULT '',
	created_at_unix     INTEGER NOT NULL DEFAULT 0,
	updated_at_unix     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS stream_events (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id TEXT NOT NULL,
	seq_no       INTEGER NOT NULL,
	event_type   TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	data_json    TEXT NOT NULL DEFAULT '{}',
	created_at   TEXT NOT NULL,
	UNIQUE(execution_id, seq_no)
);
CREATE INDEX IF NOT EXISTS idx_stream_events_exec_seq ON stream_events(execution_id, seq_no);

CREATE TABLE IF NOT EXISTS checkpoints (
	checkpoint_id  TEXT PRIMARY KEY,
	execution_id   TEXT NOT NULL,
	type           TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	artifacts_json TEXT NOT NULL DEFAULT '[]',
	reviewer       TEXT NOT NULL DEFAULT '',
	reason         TEXT NOT NULL DEFAULT '',
	due_at_unix    INTEGER NOT NULL DEFAULT 0,
	created_at_unix INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_exec ON checkpoints(execution_id, status);

CREATE TABLE IF NOT EXISTS cost_deltas (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	execution_id  TEXT NOT NULL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	amount_usd    REAL NOT NULL DEFAULT 0.0,
	model         TEXT NOT NULL DEFAULT '',
	phase         TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_cost_deltas_exec ON cost_deltas(execution_id);
`

// NewDB opens a SQLite database at the given path with recommended pragmas
// and runs the V1 schema migration.
func NewDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Limit connections to 1 for SQLite (WAL allows concurrent reads but single writer).
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	_, err := db.ExecContext(context.Background(), schemaV1)
	return err
}
