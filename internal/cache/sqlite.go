package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Lllllllleong/pitchdeckflow/internal/models"
	"github.com/Lllllllleong/pitchdeckflow/internal/sqlitedb"
)

// SQLite stores entries in the cache_entries table. The primary key on the
// fingerprint makes concurrent inserts race-free.
type SQLite struct {
	db *sql.DB
}

func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

func (c *SQLite) Get(ctx context.Context, fingerprint string) (*models.ProcessingRecord, bool, error) {
	var body string
	err := c.db.QueryRowContext(ctx, `SELECT record FROM cache_entries WHERE fingerprint = ?`, fingerprint).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	rec, err := decode([]byte(body))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (c *SQLite) Put(ctx context.Context, fingerprint string, rec *models.ProcessingRecord) (*models.ProcessingRecord, error) {
	data, err := encode(rec)
	if err != nil {
		return nil, err
	}
	_, err = sqlitedb.Exec(ctx, c.db,
		`INSERT INTO cache_entries (fingerprint, record, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint, string(data), sqlitedb.Stamp(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to write cache entry: %w", err)
	}
	winner, ok, err := c.Get(ctx, fingerprint)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("cache entry %s vanished after insert", fingerprint)
	}
	return winner, nil
}

func (c *SQLite) Invalidate(ctx context.Context, fingerprint string) error {
	if _, err := sqlitedb.Exec(ctx, c.db, `DELETE FROM cache_entries WHERE fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to invalidate cache entry: %w", err)
	}
	return nil
}
