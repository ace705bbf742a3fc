// Package codecache persists the cached metadata engines produce for worker
// scripts, so later workers running the same script can skip compilation.
// Entries live in a SQLite table keyed by script URL and source digest and
// are stored brotli-compressed.
package codecache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andybalholm/brotli"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// ErrCacheMiss is returned by Get when no entry matches.
var ErrCacheMiss = errors.New("codecache: miss")

// maxEntrySize bounds a decompressed entry.
const maxEntrySize = 64 * 1024 * 1024

const schema = `
CREATE TABLE IF NOT EXISTS code_cache (
	url        TEXT    NOT NULL,
	digest     TEXT    NOT NULL,
	data       BLOB    NOT NULL,
	raw_size   INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (url, digest)
)`

// Store is a code cache backed by SQLite.
type Store struct {
	db *sql.DB
}

// Stats summarizes the store's contents.
type Stats struct {
	Entries     int
	StoredBytes int64
	RawBytes    int64
}

// Open opens (or creates) the cache database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating code cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening code cache %q: %w", path, err)
	}
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return newStore(db)
}

// OpenMemory returns a store that lives only as long as the process.
func OpenMemory() (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory code cache: %w", err)
	}
	// Every connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	return newStore(db)
}

func newStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating code cache schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Digest identifies a script source. An entry is only served for the exact
// source it was produced from.
func Digest(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached metadata for url and digest.
func (s *Store) Get(ctx context.Context, url, digest string) ([]byte, error) {
	var stored []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM code_cache WHERE url = ? AND digest = ?`, url, digest).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("reading code cache for %s: %w", url, err)
	}
	data, err := io.ReadAll(io.LimitReader(brotli.NewReader(bytes.NewReader(stored)), maxEntrySize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing code cache for %s: %w", url, err)
	}
	if len(data) > maxEntrySize {
		return nil, fmt.Errorf("code cache entry for %s exceeds %d bytes", url, maxEntrySize)
	}
	return data, nil
}

// Put stores data for url and digest, replacing any previous entry for the
// same pair. Entries for other digests of the same url are dropped.
func (s *Store) Put(ctx context.Context, url, digest string, data []byte) error {
	if len(data) > maxEntrySize {
		return fmt.Errorf("code cache entry for %s exceeds %d bytes", url, maxEntrySize)
	}
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("compressing code cache for %s: %w", url, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("compressing code cache for %s: %w", url, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("writing code cache for %s: %w", url, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM code_cache WHERE url = ? AND digest <> ?`, url, digest); err != nil {
		return fmt.Errorf("writing code cache for %s: %w", url, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO code_cache (url, digest, data, raw_size, updated_at) VALUES (?, ?, ?, ?, ?)`,
		url, digest, buf.Bytes(), len(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("writing code cache for %s: %w", url, err)
	}
	return tx.Commit()
}

// Purge removes every entry and returns how many there were.
func (s *Store) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM code_cache`)
	if err != nil {
		return 0, fmt.Errorf("purging code cache: %w", err)
	}
	return res.RowsAffected()
}

// Stat reports the number and size of stored entries.
func (s *Store) Stat(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(data)), 0), COALESCE(SUM(raw_size), 0) FROM code_cache`).
		Scan(&st.Entries, &st.StoredBytes, &st.RawBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("reading code cache stats: %w", err)
	}
	return st, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
