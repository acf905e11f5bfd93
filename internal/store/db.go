// Package store provides SQLite-backed persistence for the knowledge engine.
// A single database file holds the knowledge graph, the code structure graph,
// documentation sections, and workflow checkpoints. The store runs in WAL
// mode so readers proceed concurrently with one writer.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the store location relative to the working directory.
const DefaultDBPath = ".claude/execution-state.db"

// busyTimeoutMs bounds how long a writer waits on the database lock before
// the operation fails with ErrBusy.
const busyTimeoutMs = 5000

var (
	// ErrStoreCorrupt indicates the database file exists but cannot be read.
	ErrStoreCorrupt = errors.New("store file is corrupt")

	// ErrSchemaTooNew indicates the on-disk schema was written by a newer
	// version of this code. Downgrades are not supported.
	ErrSchemaTooNew = errors.New("store schema is newer than this binary")

	// ErrBusy indicates another writer held the database lock past the
	// busy timeout.
	ErrBusy = errors.New("store is busy")

	// ErrNotFound indicates a get-by-id found no row when the caller asked
	// for exactly one result.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates a caller-supplied value failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// Store manages the execution-state database. The handle is process-scoped
// and shared across components; open a Store once and inject it.
type Store struct {
	db   *sql.DB
	path string

	mu    sync.Mutex
	stmts map[string]*sql.Stmt
}

// Open opens or creates the database at path, applies pragmas, and runs any
// pending schema migrations. The parent directory is created if missing.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store db: %w", err)
	}
	// A single connection avoids SQLITE_BUSY between this process's own
	// readers and writer; WAL still lets external readers proceed.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeoutMs),
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		// Name and path patterns in graph queries match case-sensitively;
		// components that want case-folding lowercase both sides themselves.
		"PRAGMA case_sensitive_like=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, wrapOpenErr(fmt.Errorf("%s: %w", pragma, err))
		}
	}

	s := &Store{db: db, path: path, stmts: make(map[string]*sql.Stmt)}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, wrapOpenErr(err)
	}

	return s, nil
}

// wrapOpenErr maps low-level sqlite failures onto the store error taxonomy.
func wrapOpenErr(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "database disk image is malformed"):
		return fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	case strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "SQLITE_BUSY"):
		return fmt.Errorf("%w: %v", ErrBusy, err)
	}
	return err
}

// Close releases prepared statements and closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	s.mu.Lock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
	s.mu.Unlock()
	return s.db.Close()
}

// DB returns the underlying database connection for advanced operations.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Prepare returns a cached prepared statement for the given SQL text,
// preparing it on first use. Statements are shared within the process and
// dropped after a schema migration.
func (s *Store) Prepare(query string) (*sql.Stmt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stmt, ok := s.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	s.stmts[query] = stmt
	return stmt, nil
}

// clearStatementCache drops all cached statements. Called after migrations
// so no component holds a statement compiled against the old schema.
func (s *Store) clearStatementCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stmt := range s.stmts {
		stmt.Close()
	}
	s.stmts = make(map[string]*sql.Stmt)
}

// Tx runs fn inside a single write transaction. The transaction is rolled
// back if fn returns an error and committed otherwise.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapOpenErr(fmt.Errorf("begin transaction: %w", err))
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapOpenErr(fmt.Errorf("commit transaction: %w", err))
	}
	return nil
}

// EscapeLike escapes LIKE metacharacters in a user-supplied pattern fragment
// so it matches literally. Callers append their own % wildcards and must use
// ESCAPE '\' in the query.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
