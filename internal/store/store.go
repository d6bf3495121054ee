// Package store persists the normalized corpus in a single SQLite file.
//
// Concurrency discipline:
//   - one read-write handle (MaxOpenConns 1), many read-only handles
//   - write-ahead journaling on every handle
//   - short transactions only, one conversation or one job transition each
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Mode selects the handle type for Open.
type Mode int

const (
	// ModeReadWrite opens the single writer handle and runs migrations.
	ModeReadWrite Mode = iota
	// ModeReadOnly opens a query-only handle; the file must already exist.
	ModeReadOnly
)

var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
	mode Mode
}

// Open opens the database at path in the given mode.
func Open(path string, mode Mode) (*Store, error) {
	dsn := path
	if mode == ModeReadOnly {
		dsn = "file:" + path + "?mode=ro"
	} else if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if mode == ModeReadWrite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set journal_mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}

	if mode == ModeReadWrite {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	return &Store{db: db, path: path, mode: mode}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// nullStr maps "" to NULL for optional text columns.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullInt maps 0 to NULL for optional epoch-second columns.
func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

// nullBytes maps an empty blob to NULL.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

func fromNullStr(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func fromNullInt(ni sql.NullInt64) int64 {
	if !ni.Valid {
		return 0
	}
	return ni.Int64
}
