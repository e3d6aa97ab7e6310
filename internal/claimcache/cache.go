// Package claimcache keeps the last claim set that was fetched successfully
// so an engine can keep answering, marked offline, while its source is
// unreachable.
package claimcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned by Load when nothing is cached under a key.
var ErrNotFound = errors.New("no cached claim set")

// Store persists encoded claim sets in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the cache database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	dbPath := filepath.Join(dir, "claims.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open claim cache db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS claim_sets (
		cache_key  TEXT PRIMARY KEY,
		payload    BLOB NOT NULL,
		trusted    INTEGER NOT NULL DEFAULT 0,
		fetched_at INTEGER NOT NULL,
		stored_at  INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init claim cache schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Entry is one cached claim set.
type Entry struct {
	Key       string
	Payload   []byte
	Trusted   bool
	FetchedAt time.Time
	StoredAt  time.Time
}

// Put inserts or replaces the entry stored under e.Key.
func (s *Store) Put(ctx context.Context, e Entry) error {
	if e.StoredAt.IsZero() {
		e.StoredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claim_sets (cache_key, payload, trusted, fetched_at, stored_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			trusted = excluded.trusted,
			fetched_at = excluded.fetched_at,
			stored_at = excluded.stored_at`,
		e.Key, e.Payload, boolToInt(e.Trusted), e.FetchedAt.UnixNano(), e.StoredAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("store claim set: %w", err)
	}
	return nil
}

// Get returns the entry stored under key.
func (s *Store) Get(ctx context.Context, key string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT cache_key, payload, trusted, fetched_at, stored_at
		FROM claim_sets WHERE cache_key = ?`, key)

	var (
		e         Entry
		trusted   int
		fetchedAt int64
		storedAt  int64
	)
	if err := row.Scan(&e.Key, &e.Payload, &trusted, &fetchedAt, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load claim set: %w", err)
	}
	e.Trusted = trusted != 0
	e.FetchedAt = time.Unix(0, fetchedAt).UTC()
	e.StoredAt = time.Unix(0, storedAt).UTC()
	return &e, nil
}

// Delete removes the entry stored under key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM claim_sets WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete claim set: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
