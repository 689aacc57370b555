// Package cache persists the last fetched value per indicator and decides
// how stale a cached value is. Entries form a small history: at most one
// row per indicator is active, refreshes insert a new row and deactivate
// the prior one, rows are never mutated in place.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Entry is one persisted indicator snapshot. Data and Metadata are opaque
// JSON blobs whose shape is keyed by IndicatorType (quote indicators store
// the normalized Quote payload).
type Entry struct {
	ID            string          `json:"id"`
	IndicatorType string          `json:"indicatorType"`
	Data          json.RawMessage `json:"dataValue"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Source        string          `json:"dataSource"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt,omitzero"`
}

// Store is the persistence boundary the aggregator works against.
type Store interface {
	// Insert writes a new active entry and deactivates the prior active
	// entry for the same indicator type as one logical step. Fills in ID
	// and CreatedAt when unset and returns the entry ID.
	Insert(ctx context.Context, e Entry) (string, error)
	// LatestActive returns the current entry for the indicator type, or
	// (nil, nil) when there is none.
	LatestActive(ctx context.Context, indicatorType string) (*Entry, error)
	// Deactivate marks one entry inactive by ID.
	Deactivate(ctx context.Context, id string) error
}

const schema = `
CREATE TABLE IF NOT EXISTS market_cache (
    id             TEXT PRIMARY KEY,
    indicator_type TEXT NOT NULL,
    data           TEXT NOT NULL,
    metadata       TEXT,
    source         TEXT NOT NULL DEFAULT '',
    created_at     INTEGER NOT NULL,
    expires_at     INTEGER,
    active         INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_market_cache_active
    ON market_cache (indicator_type, active, created_at DESC);
`

// SQLiteStore implements Store on a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path. "file:" URIs
// are passed through untouched so tests can use in-memory databases.
func Open(path string) (*SQLiteStore, error) {
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve cache db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create cache db directory: %w", err)
		}
		path = "file:" + abs + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	// SQLite allows one writer; keep the pool at a single connection so
	// in-memory databases also behave.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Insert(ctx context.Context, e Entry) (string, error) {
	if e.IndicatorType == "" {
		return "", fmt.Errorf("insert: missing indicator type")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("insert %s: begin: %w", e.IndicatorType, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE market_cache SET active = 0 WHERE indicator_type = ? AND active = 1`,
		e.IndicatorType); err != nil {
		return "", fmt.Errorf("insert %s: deactivate prior: %w", e.IndicatorType, err)
	}

	var expiresAt any
	if !e.ExpiresAt.IsZero() {
		expiresAt = e.ExpiresAt.Unix()
	}
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO market_cache (id, indicator_type, data, metadata, source, created_at, expires_at, active)
         VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		e.ID, e.IndicatorType, string(e.Data), metadata, e.Source, e.CreatedAt.Unix(), expiresAt); err != nil {
		return "", fmt.Errorf("insert %s: %w", e.IndicatorType, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("insert %s: commit: %w", e.IndicatorType, err)
	}
	return e.ID, nil
}

func (s *SQLiteStore) LatestActive(ctx context.Context, indicatorType string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, indicator_type, data, metadata, source, created_at, expires_at
         FROM market_cache
         WHERE indicator_type = ? AND active = 1
         ORDER BY created_at DESC LIMIT 1`, indicatorType)

	var e Entry
	var data string
	var metadata sql.NullString
	var createdAt int64
	var expiresAt sql.NullInt64
	err := row.Scan(&e.ID, &e.IndicatorType, &data, &metadata, &e.Source, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest %s: %w", indicatorType, err)
	}
	e.Data = json.RawMessage(data)
	if metadata.Valid && metadata.String != "" {
		e.Metadata = json.RawMessage(metadata.String)
	}
	e.CreatedAt = time.Unix(createdAt, 0).UTC()
	if expiresAt.Valid {
		e.ExpiresAt = time.Unix(expiresAt.Int64, 0).UTC()
	}
	return &e, nil
}

func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE market_cache SET active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deactivate %s: %w", id, err)
	}
	return nil
}
