package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/extract"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// Store writes parse results into the code graph tables.
type Store struct {
	db    *store.Store
	clock clock.Clock
}

// NewStore returns a graph store over db. A nil clk defaults to system time.
func NewStore(db *store.Store, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{db: db, clock: clk}
}

const insertEntitySQL = `
	INSERT OR REPLACE INTO code_entities
		(id, package, name, kind, file_path, line, exported, metadata, jsdoc, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertRelationshipSQL = `
	INSERT OR IGNORE INTO code_relationships
		(from_id, to_id, rel_type, metadata, created_at)
	VALUES (?, ?, ?, ?, ?)`

// StoreFull replaces the entire graph for the result's package: all entities,
// relationships, and file-index rows for the package are deleted, then the
// parse result is bulk-inserted in the same transaction.
func (s *Store) StoreFull(ctx context.Context, res *extract.Result, files []FileUpdate) error {
	now := s.clock.Now().Format(time.RFC3339)

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.Exec(`
			DELETE FROM code_relationships
			WHERE from_id IN (SELECT id FROM code_entities WHERE package = ?)
			   OR to_id   IN (SELECT id FROM code_entities WHERE package = ?)`,
			res.Package, res.Package); err != nil {
			return fmt.Errorf("delete package relationships: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM code_entities WHERE package = ?`, res.Package); err != nil {
			return fmt.Errorf("delete package entities: %w", err)
		}
		if _, err := tx.Exec(`DELETE FROM code_file_index WHERE package = ?`, res.Package); err != nil {
			return fmt.Errorf("delete package file index: %w", err)
		}

		if err := insertResult(tx, res, now); err != nil {
			return err
		}
		return upsertFileIndex(tx, res, files, now)
	})
}

// StoreIncremental replaces the graph rows for just the changed and deleted
// files. Entities in the affected set are deleted along with every edge
// touching them, then the parse result for the changed files is inserted.
func (s *Store) StoreIncremental(ctx context.Context, res *extract.Result, changed []FileUpdate, deleted []string) error {
	now := s.clock.Now().Format(time.RFC3339)

	affected := make([]string, 0, len(changed)+len(deleted))
	for _, f := range changed {
		affected = append(affected, f.Path)
	}
	affected = append(affected, deleted...)

	return s.db.Tx(ctx, func(tx *sql.Tx) error {
		delRel, err := tx.Prepare(`
			DELETE FROM code_relationships
			WHERE from_id IN (SELECT id FROM code_entities WHERE package = ? AND file_path = ?)
			   OR to_id   IN (SELECT id FROM code_entities WHERE package = ? AND file_path = ?)`)
		if err != nil {
			return err
		}
		defer delRel.Close()
		delEnt, err := tx.Prepare(`DELETE FROM code_entities WHERE package = ? AND file_path = ?`)
		if err != nil {
			return err
		}
		defer delEnt.Close()

		for _, fp := range affected {
			if _, err := delRel.Exec(res.Package, fp, res.Package, fp); err != nil {
				return fmt.Errorf("delete relationships for %s: %w", fp, err)
			}
			if _, err := delEnt.Exec(res.Package, fp); err != nil {
				return fmt.Errorf("delete entities for %s: %w", fp, err)
			}
		}

		if err := insertResult(tx, res, now); err != nil {
			return err
		}
		if err := upsertFileIndex(tx, res, changed, now); err != nil {
			return err
		}

		for _, fp := range deleted {
			if _, err := tx.Exec(`DELETE FROM code_file_index WHERE package = ? AND file_path = ?`,
				res.Package, fp); err != nil {
				return fmt.Errorf("delete file index for %s: %w", fp, err)
			}
		}
		return nil
	})
}

// insertResult bulk-inserts the entities and relationships of a parse result.
func insertResult(tx *sql.Tx, res *extract.Result, now string) error {
	entStmt, err := tx.Prepare(insertEntitySQL)
	if err != nil {
		return err
	}
	defer entStmt.Close()

	for _, e := range res.Entities {
		meta, err := encodeJSON(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for %s: %w", e.ID, err)
		}
		if _, err := entStmt.Exec(
			e.ID, e.Package, e.Name, string(e.Kind), e.FilePath, e.Line,
			boolInt(e.Exported), meta, nullString(e.JSDoc), now); err != nil {
			return fmt.Errorf("insert entity %s: %w", e.ID, err)
		}
	}

	relStmt, err := tx.Prepare(insertRelationshipSQL)
	if err != nil {
		return err
	}
	defer relStmt.Close()

	for _, r := range res.Relationships {
		meta, err := encodeJSON(r.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata for edge %s->%s: %w", r.FromID, r.ToID, err)
		}
		if _, err := relStmt.Exec(r.FromID, r.ToID, string(r.Kind), meta, now); err != nil {
			return fmt.Errorf("insert relationship %s->%s: %w", r.FromID, r.ToID, err)
		}
	}
	return nil
}

// upsertFileIndex records per-file parse state for the changed files.
func upsertFileIndex(tx *sql.Tx, res *extract.Result, files []FileUpdate, now string) error {
	if len(files) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, e := range res.Entities {
		counts[e.FilePath]++
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO code_file_index
			(package, file_path, mtime_ms, last_parsed_at, entity_count)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(res.Package, f.Path, f.MtimeMs, now, counts[f.Path]); err != nil {
			return fmt.Errorf("upsert file index for %s: %w", f.Path, err)
		}
	}
	return nil
}

// FileIndex returns the recorded parse state for a package, keyed by file
// path. Used to decide which files an incremental run must reparse.
func (s *Store) FileIndex(ctx context.Context, pkg string) (map[string]FileState, error) {
	rows, err := s.db.DB().QueryContext(ctx, `
		SELECT package, file_path, mtime_ms, last_parsed_at, entity_count
		FROM code_file_index WHERE package = ?`, pkg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]FileState)
	for rows.Next() {
		var fs FileState
		if err := rows.Scan(&fs.Package, &fs.FilePath, &fs.MtimeMs, &fs.LastParsedAt, &fs.EntityCount); err != nil {
			return nil, err
		}
		out[fs.FilePath] = fs
	}
	return out, rows.Err()
}

func encodeJSON(v any) (any, error) {
	switch m := v.(type) {
	case map[string]any:
		if len(m) == 0 {
			return nil, nil
		}
	case map[string]string:
		if len(m) == 0 {
			return nil, nil
		}
	case nil:
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
