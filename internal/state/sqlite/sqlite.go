// Package sqlite persists device state and the server sync job queue in a
// local SQLite file, keyed by instance id so several instances can share one file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS device_state (
	instance_id      TEXT PRIMARY KEY,
	device_id        TEXT NOT NULL DEFAULT '',
	device_token     TEXT NOT NULL DEFAULT '',
	user_id          TEXT NOT NULL DEFAULT '',
	os_version       TEXT NOT NULL DEFAULT '',
	sdk_version      TEXT NOT NULL DEFAULT '',
	interests_hash   TEXT NOT NULL DEFAULT '',
	start_called     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS device_interests (
	instance_id TEXT NOT NULL,
	interest    TEXT NOT NULL,
	PRIMARY KEY (instance_id, interest)
);

CREATE TABLE IF NOT EXISTS job_queue (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT NOT NULL,
	payload     BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_queue_instance ON job_queue (instance_id, seq);
`

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}
