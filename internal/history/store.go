// Package history keeps an append-only ledger of finished uploads in a local
// sqlite database. It is a reporting surface only; the queue never reads it
// back to restore state.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS uploads (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	size        INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_uploads_created_at ON uploads(created_at);
`

// Entry is one finished upload.
type Entry struct {
	ID        string
	Name      string
	Size      int64
	Status    string // "completed" or "failed"
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}

// Store wraps the ledger database. A file lock next to the database keeps
// concurrent CLI instances from interleaving writes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open creates the database (and its directory) if needed and takes the file
// lock.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("lock history database: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("init history schema: %w", err)
	}

	return &Store{db: db, lock: lock}, nil
}

// Record appends one entry. A zero CreatedAt is filled with the current time.
func (s *Store) Record(e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO uploads (id, name, size, status, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Name, e.Size, e.Status, e.Error, e.Duration.Milliseconds(), e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("record upload %s: %w", e.ID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, name, size, status, error, duration_ms, created_at
		 FROM uploads ORDER BY created_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMS, createdAt int64
		if err := rows.Scan(&e.ID, &e.Name, &e.Size, &e.Status, &e.Error, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		e.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close releases the database and the file lock.
func (s *Store) Close() error {
	err := s.db.Close()
	if uerr := s.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}
