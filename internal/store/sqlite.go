package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS summaries (
	key        TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	tokens     INTEGER NOT NULL DEFAULT 0,
	model      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_summaries_expires ON summaries(expires_at);
`

// SQLiteStore persists summaries in a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s := &SQLiteStore{db: db, ttl: ttl}
	if n, err := s.Purge(); err == nil && n > 0 {
		log.Debug().Int64("removed", n).Msg("store: purged expired summaries")
	}
	return s, nil
}

// Get retrieves a record if it exists and hasn't expired.
func (s *SQLiteStore) Get(key string) (*Record, bool) {
	var rec Record
	var created int64
	err := s.db.QueryRow(
		"SELECT summary, tokens, model, created_at FROM summaries WHERE key = ? AND expires_at > ?",
		key, time.Now().UnixNano(),
	).Scan(&rec.Summary, &rec.Tokens, &rec.Model, &created)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Warn().Err(err).Str("key", key).Msg("store: lookup failed")
		}
		return nil, false
	}
	rec.CreatedAt = time.Unix(0, created)
	return &rec, true
}

// Set stores a record, replacing any previous one.
func (s *SQLiteStore) Set(key string, rec Record) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	_, err := s.db.Exec(
		`INSERT INTO summaries (key, summary, tokens, model, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   summary = excluded.summary,
		   tokens = excluded.tokens,
		   model = excluded.model,
		   created_at = excluded.created_at,
		   expires_at = excluded.expires_at`,
		key, rec.Summary, rec.Tokens, rec.Model, rec.CreatedAt.UnixNano(), now.Add(s.ttl).UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to store summary: %w", err)
	}
	return nil
}

// Delete removes a record.
func (s *SQLiteStore) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM summaries WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete summary: %w", err)
	}
	return nil
}

// Purge removes expired records and returns how many were removed.
func (s *SQLiteStore) Purge() (int64, error) {
	res, err := s.db.Exec("DELETE FROM summaries WHERE expires_at <= ?", time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge summaries: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLiteStore)(nil)
