package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/claude-knowledge/internal/extract"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// DefaultBlastDepth caps blast-radius traversal when the caller does not
// supply a depth.
const DefaultBlastDepth = 5

// DefaultFindLimit caps findEntities results when the caller does not supply
// a limit.
const DefaultFindLimit = 50

// Query answers read-only structural questions over the code graph.
type Query struct {
	db *store.Store
}

// NewQuery returns a query handle over db.
func NewQuery(db *store.Store) *Query {
	return &Query{db: db}
}

const entityColumns = `e.id, e.package, e.name, e.kind, e.file_path, e.line, e.exported, e.metadata, e.jsdoc`

func scanEntity(scan func(...any) error) (EntityRow, error) {
	var (
		row      EntityRow
		exported int
		meta     sql.NullString
		jsdoc    sql.NullString
	)
	if err := scan(&row.ID, &row.Package, &row.Name, &row.Kind, &row.FilePath,
		&row.Line, &exported, &meta, &jsdoc); err != nil {
		return row, err
	}
	row.Exported = exported != 0
	row.JSDoc = jsdoc.String
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &row.Metadata); err != nil {
			return row, fmt.Errorf("decode metadata for %s: %w", row.ID, err)
		}
	}
	return row, nil
}

func collectEntities(rows *sql.Rows) ([]EntityRow, error) {
	defer rows.Close()
	var out []EntityRow
	for rows.Next() {
		row, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// WhatCalls returns the distinct callers of every entity whose name contains
// the given fragment. Ordered by file path, then line.
func (q *Query) WhatCalls(ctx context.Context, name string) ([]EntityRow, error) {
	pattern := "%" + store.EscapeLike(name) + "%"
	rows, err := q.db.DB().QueryContext(ctx, `
		SELECT DISTINCT `+entityColumns+`
		FROM code_relationships r
		JOIN code_entities target ON target.id = r.to_id
		JOIN code_entities e ON e.id = r.from_id
		WHERE r.rel_type = 'calls' AND target.name LIKE ? ESCAPE '\'
		ORDER BY e.file_path, e.line`, pattern)
	if err != nil {
		return nil, fmt.Errorf("what-calls query: %w", err)
	}
	return collectEntities(rows)
}

// WhatDependsOn returns every entity linked to a matching target through an
// imports, extends, implements, or calls edge, along with the edge kind.
func (q *Query) WhatDependsOn(ctx context.Context, name string) ([]Dependency, error) {
	pattern := "%" + store.EscapeLike(name) + "%"
	rows, err := q.db.DB().QueryContext(ctx, `
		SELECT DISTINCT `+entityColumns+`, r.rel_type
		FROM code_relationships r
		JOIN code_entities target ON target.id = r.to_id
		JOIN code_entities e ON e.id = r.from_id
		WHERE r.rel_type IN (`+relKindPlaceholders()+`)
		  AND target.name LIKE ? ESCAPE '\'
		ORDER BY e.file_path, e.line`,
		append(relKindArgs(), pattern)...)
	if err != nil {
		return nil, fmt.Errorf("what-depends-on query: %w", err)
	}
	defer rows.Close()

	var out []Dependency
	for rows.Next() {
		var d Dependency
		var exported int
		var meta, jsdoc sql.NullString
		if err := rows.Scan(&d.ID, &d.Package, &d.Name, &d.Kind, &d.FilePath,
			&d.Line, &exported, &meta, &jsdoc, &d.RelType); err != nil {
			return nil, err
		}
		d.Exported = exported != 0
		d.JSDoc = jsdoc.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &d.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", d.ID, err)
			}
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// BlastRadius computes the transitive set of entities that depend, directly
// or through up to maxDepth hops, on anything defined in a matching file.
// The traversal follows inverse imports, calls, extends, and implements
// edges and is cycle-safe.
func (q *Query) BlastRadius(ctx context.Context, file string, maxDepth int) ([]Impact, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultBlastDepth
	}
	pattern := "%" + store.EscapeLike(file) + "%"

	args := []any{pattern}
	args = append(args, relKindArgs()...)
	args = append(args, maxDepth)

	rows, err := q.db.DB().QueryContext(ctx, `
		WITH RECURSIVE radius(id, depth) AS (
			SELECT id, 0 FROM code_entities WHERE file_path LIKE ? ESCAPE '\'
			UNION
			SELECT r.from_id, radius.depth + 1
			FROM code_relationships r
			JOIN radius ON r.to_id = radius.id
			WHERE r.rel_type IN (`+relKindPlaceholders()+`)
			  AND radius.depth < ?
		)
		SELECT `+entityColumns+`, MIN(radius.depth) AS depth
		FROM radius
		JOIN code_entities e ON e.id = radius.id
		GROUP BY e.id
		ORDER BY depth, e.file_path, e.line`, args...)
	if err != nil {
		return nil, fmt.Errorf("blast-radius query: %w", err)
	}
	defer rows.Close()

	var out []Impact
	for rows.Next() {
		var im Impact
		var exported int
		var meta, jsdoc sql.NullString
		if err := rows.Scan(&im.ID, &im.Package, &im.Name, &im.Kind, &im.FilePath,
			&im.Line, &exported, &meta, &jsdoc, &im.Depth); err != nil {
			return nil, err
		}
		im.Exported = exported != 0
		im.JSDoc = jsdoc.String
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &im.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for %s: %w", im.ID, err)
			}
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

// FindEntities searches entities by name fragment with an optional kind
// filter. The kind is validated against the closed entity-kind enum.
func (q *Query) FindEntities(ctx context.Context, namePattern, kind string, limit int) ([]EntityRow, error) {
	if kind != "" && !extract.IsValidKind(kind) {
		return nil, fmt.Errorf("%w: unknown entity kind %q", store.ErrInvalidInput, kind)
	}
	if limit <= 0 {
		limit = DefaultFindLimit
	}

	query := `SELECT ` + entityColumns + ` FROM code_entities e
		WHERE e.name LIKE ? ESCAPE '\'`
	args := []any{"%" + store.EscapeLike(namePattern) + "%"}
	if kind != "" {
		query += " AND e.kind = ?"
		args = append(args, kind)
	}
	query += " ORDER BY e.name, e.file_path, e.line LIMIT ?"
	args = append(args, limit)

	rows, err := q.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find-entities query: %w", err)
	}
	return collectEntities(rows)
}

// GetExports lists exported entities, optionally restricted to one package.
func (q *Query) GetExports(ctx context.Context, pkg string) ([]EntityRow, error) {
	query := `SELECT ` + entityColumns + ` FROM code_entities e WHERE e.exported = 1`
	var args []any
	if pkg != "" {
		query += " AND e.package = ?"
		args = append(args, pkg)
	}
	query += " ORDER BY e.package, e.file_path, e.line"

	rows, err := q.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("exports query: %w", err)
	}
	return collectEntities(rows)
}

// GetCallers returns the callers of a function matched by exact name.
func (q *Query) GetCallers(ctx context.Context, exactName string) ([]EntityRow, error) {
	rows, err := q.db.DB().QueryContext(ctx, `
		SELECT DISTINCT `+entityColumns+`
		FROM code_relationships r
		JOIN code_entities target ON target.id = r.to_id
		JOIN code_entities e ON e.id = r.from_id
		WHERE r.rel_type = 'calls'
		  AND target.kind = 'function'
		  AND target.name = ?
		ORDER BY e.file_path, e.line`, exactName)
	if err != nil {
		return nil, fmt.Errorf("callers query: %w", err)
	}
	return collectEntities(rows)
}

// GetSummary aggregates entity and relationship counts, optionally scoped to
// one package.
func (q *Query) GetSummary(ctx context.Context, pkg string) (*Summary, error) {
	sum := &Summary{
		EntitiesByKind:      make(map[string]int),
		RelationshipsByKind: make(map[string]int),
		EntitiesByPackage:   make(map[string]int),
	}

	entQuery := `SELECT kind, COUNT(*) FROM code_entities`
	var entArgs []any
	if pkg != "" {
		entQuery += " WHERE package = ?"
		entArgs = append(entArgs, pkg)
	}
	entQuery += " GROUP BY kind"

	rows, err := q.db.DB().QueryContext(ctx, entQuery, entArgs...)
	if err != nil {
		return nil, fmt.Errorf("summary entity counts: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.EntitiesByKind[kind] = n
		sum.TotalEntities += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	relQuery := `SELECT r.rel_type, COUNT(*) FROM code_relationships r`
	var relArgs []any
	if pkg != "" {
		relQuery += ` JOIN code_entities e ON e.id = r.from_id WHERE e.package = ?`
		relArgs = append(relArgs, pkg)
	}
	relQuery += " GROUP BY r.rel_type"

	rows, err = q.db.DB().QueryContext(ctx, relQuery, relArgs...)
	if err != nil {
		return nil, fmt.Errorf("summary relationship counts: %w", err)
	}
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			rows.Close()
			return nil, err
		}
		sum.RelationshipsByKind[kind] = n
		sum.TotalRelationships += n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	pkgQuery := `SELECT package, COUNT(*) FROM code_entities`
	var pkgArgs []any
	if pkg != "" {
		pkgQuery += " WHERE package = ?"
		pkgArgs = append(pkgArgs, pkg)
	}
	pkgQuery += " GROUP BY package"

	rows, err = q.db.DB().QueryContext(ctx, pkgQuery, pkgArgs...)
	if err != nil {
		return nil, fmt.Errorf("summary package counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		sum.EntitiesByPackage[p] = n
	}
	return sum, rows.Err()
}

func relKindPlaceholders() string {
	return strings.TrimSuffix(strings.Repeat("?, ", len(dependencyRelKinds)), ", ")
}

func relKindArgs() []any {
	args := make([]any, len(dependencyRelKinds))
	for i, k := range dependencyRelKinds {
		args[i] = string(k)
	}
	return args
}
