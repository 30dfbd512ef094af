// Package catalog records probe results and decode sessions in SQLite so
// repeated probes of an unchanged file skip the platform decoder.
package catalog

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver
)

// InMemory opens a private database that disappears on Close
const InMemory = ":memory:"

// openDatabase opens the SQLite database at dbPath and applies the schema
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath != InMemory {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == InMemory {
		// every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA user_version = 1",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	slog.Debug("catalog database ready", "path", dbPath)
	return db, nil
}

// ensureSchema creates the database schema if it doesn't exist
func ensureSchema(db *sql.DB) error {
	schema := `
-- One row per probed file, replaced on every probe
CREATE TABLE IF NOT EXISTS probes (
    path              TEXT    PRIMARY KEY,
    size              INTEGER NOT NULL,
    mod_time          INTEGER NOT NULL,
    format            TEXT    NOT NULL,
    sample_rate       INTEGER NOT NULL CHECK (sample_rate >= 0),
    channels          INTEGER NOT NULL CHECK (channels >= 0),
    length_in_samples INTEGER NOT NULL,
    probed_at         INTEGER NOT NULL
);

-- Decode sessions and the platform decoder traffic they caused
CREATE TABLE IF NOT EXISTS sessions (
    id              TEXT    PRIMARY KEY,
    path            TEXT    NOT NULL,
    format          TEXT    NOT NULL,
    started_at      INTEGER NOT NULL,
    finished_at     INTEGER NOT NULL,
    seeks           INTEGER NOT NULL,
    chunks_decoded  INTEGER NOT NULL,
    chunks_released INTEGER NOT NULL,
    empty_chunks    INTEGER NOT NULL,
    samples_read    INTEGER NOT NULL,
    error           TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_sessions_path ON sessions(path);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}
