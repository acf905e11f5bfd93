package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// testStore creates a temporary store for testing.
func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenCreatesParentDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".claude", "execution-state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected database file at %s: %v", path, err)
	}
	if s.Path() != path {
		t.Errorf("expected path %s, got %s", path, s.Path())
	}
}

func TestMigrateIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	v, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version: %v", err)
	}
	if v != schemaVersion {
		t.Errorf("expected schema version %d, got %d", schemaVersion, v)
	}
	s.Close()

	// Reopening an up-to-date store must be a no-op.
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()

	v2, err := s2.SchemaVersion()
	if err != nil {
		t.Fatalf("schema version after reopen: %v", err)
	}
	if v2 != schemaVersion {
		t.Errorf("expected schema version %d after reopen, got %d", schemaVersion, v2)
	}
}

func TestOpenSchemaTooNew(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion+10)); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	s.Close()

	_, err = Open(path)
	if !errors.Is(err, ErrSchemaTooNew) {
		t.Errorf("expected ErrSchemaTooNew, got %v", err)
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite database, not even close"), 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}

	_, err := Open(path)
	if !errors.Is(err, ErrStoreCorrupt) {
		t.Errorf("expected ErrStoreCorrupt, got %v", err)
	}
}

func TestTxCommitAndRollback(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	insert := func(id string, fail bool) error {
		return s.Tx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.Exec(
				`INSERT INTO knowledge_entities (id, entity_type, created_at) VALUES (?, ?, ?)`,
				id, "learning", "2026-01-01T00:00:00Z"); err != nil {
				return err
			}
			if fail {
				return errors.New("boom")
			}
			return nil
		})
	}

	if err := insert("keep", false); err != nil {
		t.Fatalf("commit tx: %v", err)
	}
	if err := insert("drop", true); err == nil {
		t.Fatal("expected error from failing tx")
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM knowledge_entities`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row after rollback, got %d", count)
	}
}

func TestHealth(t *testing.T) {
	s := testStore(t)

	h := s.Health()
	if !h.Okay {
		t.Errorf("expected healthy store, warnings: %v", h.Warnings)
	}
	if h.ResponseTimeMs < 0 {
		t.Errorf("negative response time: %f", h.ResponseTimeMs)
	}
}

func TestEscapeLike(t *testing.T) {
	cases := map[string]string{
		"plain":     "plain",
		"50%":       `50\%`,
		"a_b":       `a\_b`,
		`back\slash`: `back\\slash`,
	}
	for in, want := range cases {
		if got := EscapeLike(in); got != want {
			t.Errorf("EscapeLike(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPreparedStatementCache(t *testing.T) {
	s := testStore(t)

	const q = `SELECT COUNT(*) FROM code_entities`
	st1, err := s.Prepare(q)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	st2, err := s.Prepare(q)
	if err != nil {
		t.Fatalf("prepare again: %v", err)
	}
	if st1 != st2 {
		t.Error("expected the same cached statement")
	}
}
