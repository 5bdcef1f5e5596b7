// Package sqlitedb opens the local SQLite database used when the service runs
// outside GCP. The document store, audit sink and idempotency cache share one
// file.
package sqlitedb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Schema creates every table the SQLite backends need.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL,
	status      TEXT NOT NULL,
	queued_at   INTEGER NOT NULL,
	body        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_queued ON documents(queued_at);
CREATE INDEX IF NOT EXISTS idx_documents_fingerprint ON documents(fingerprint);

CREATE TABLE IF NOT EXISTS audit_entries (
	id            TEXT PRIMARY KEY,
	document_id   TEXT NOT NULL,
	stage         TEXT NOT NULL,
	scope         TEXT NOT NULL DEFAULT '',
	attempt       INTEGER NOT NULL,
	status        TEXT NOT NULL,
	started_at    INTEGER NOT NULL,
	completed_at  INTEGER,
	error_details TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_document ON audit_entries(document_id, started_at);

CREATE TABLE IF NOT EXISTS cache_entries (
	fingerprint TEXT PRIMARY KEY,
	record      TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
`

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
}

// dsnPragmas repeats the pragmas in DSN form so every pooled connection gets
// them, not only the one that ran the PRAGMA statements.
const dsnPragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"

// Open opens (creating if needed) the database at path, applies the pragmas
// and bootstraps the schema.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	dsn := path
	if path != ":memory:" {
		dsn += dsnPragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// IsBusy reports whether err is an SQLite lock contention error.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// Exec runs a statement, retrying up to three times while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	const maxRetries = 3
	var lastErr error
	for i := range maxRetries {
		res, err := db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(100*(i+1)) * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("exec failed after %d retries: %w", maxRetries, lastErr)
}

// Stamp converts t to the integer nanosecond timestamps stored in the tables.
func Stamp(t time.Time) int64 { return t.UTC().UnixNano() }

// FromStamp is the inverse of Stamp.
func FromStamp(v int64) time.Time { return time.Unix(0, v).UTC() }
