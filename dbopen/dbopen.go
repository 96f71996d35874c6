// Package dbopen opens the directory's SQLite database and runs
// transactions that retry on lock contention.
//
// Every connection gets foreign keys, WAL journaling, a 10s busy timeout,
// synchronous=NORMAL and in-memory temp storage unless overridden with
// WithPragma. Callers blank-import modernc.org/sqlite.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

type pragma struct{ name, value string }

type settings struct {
	driver   string
	pragmas  []pragma
	mkdirAll bool
	schemas  []string
	maxOpen  int
}

func newSettings() *settings {
	return &settings{
		driver: "sqlite",
		pragmas: []pragma{
			{"foreign_keys", "ON"},
			{"journal_mode", "WAL"},
			{"busy_timeout", "10000"},
			{"synchronous", "NORMAL"},
			{"temp_store", "MEMORY"},
		},
	}
}

func (s *settings) setPragma(name, value string) {
	name = strings.ToLower(name)
	for i := range s.pragmas {
		if s.pragmas[i].name == name {
			s.pragmas[i].value = value
			return
		}
	}
	s.pragmas = append(s.pragmas, pragma{name, value})
}

// Option customises Open.
type Option func(*settings)

// WithPragma sets or overrides a pragma applied after opening.
func WithPragma(name, value string) Option {
	return func(s *settings) { s.setPragma(name, value) }
}

// WithBusyTimeout sets how long a writer waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return WithPragma("busy_timeout", fmt.Sprint(d.Milliseconds()))
}

// WithMkdirAll creates the parent directory of the database file.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema runs DDL after the pragmas.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, ddl) }
}

// WithMaxOpenConns caps the connection pool.
func WithMaxOpenConns(n int) Option { return func(s *settings) { s.maxOpen = n } }

// Open opens the database at path and verifies it answers.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := newSettings()
	for _, o := range opts {
		o(s)
	}

	if s.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: create dir for %s: %w", path, err)
		}
	}

	db, err := sql.Open(s.driver, path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open %s: %w", path, err)
	}
	if s.maxOpen > 0 {
		db.SetMaxOpenConns(s.maxOpen)
	}
	if err := s.prepare(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: %s: %w", path, err)
	}
	return db, nil
}

func (s *settings) prepare(db *sql.DB) error {
	for _, p := range s.pragmas {
		if _, err := db.Exec("PRAGMA " + p.name + " = " + p.value); err != nil {
			return fmt.Errorf("pragma %s: %w", p.name, err)
		}
	}
	for _, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return db.Ping()
}

// OpenMemory opens a private in-memory database for a test and closes it
// on cleanup. The pool holds one connection: each new ":memory:"
// connection would be a different, empty database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", append(opts, WithMaxOpenConns(1))...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
