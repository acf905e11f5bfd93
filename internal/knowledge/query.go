package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/claude-knowledge/internal/store"
)

// DefaultQueryLimit caps structured query results when no limit is supplied.
const DefaultQueryLimit = 20

// Filter selects learnings by structured attributes. Keywords are substrings
// that must all match the content, case-insensitively.
type Filter struct {
	CodeArea    string
	FilePath    string
	Keywords    []string
	IssueNumber int
	Limit       int
}

// Query returns learnings matching the filter, newest first.
func (k *Knowledge) Query(ctx context.Context, f Filter) ([]Learning, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}

	query := `SELECT id, content, attrs, code_area, file_path, created_at
		FROM knowledge_entities WHERE entity_type = ?`
	args := []any{TypeLearning}

	if f.CodeArea != "" {
		query += " AND code_area = ?"
		args = append(args, f.CodeArea)
	}
	if f.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, f.FilePath)
	}
	for _, kw := range f.Keywords {
		query += ` AND LOWER(content) LIKE ? ESCAPE '\'`
		args = append(args, "%"+store.EscapeLike(strings.ToLower(kw))+"%")
	}
	if f.IssueNumber > 0 {
		query += " AND json_extract(attrs, '$.sourceIssue') = ?"
		args = append(args, f.IssueNumber)
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := k.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query learnings: %w", err)
	}
	defer rows.Close()

	var out []Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetLearning fetches one learning by id. Returns store.ErrNotFound when
// absent.
func (k *Knowledge) GetLearning(ctx context.Context, id string) (*Learning, error) {
	row := k.db.DB().QueryRowContext(ctx, `
		SELECT id, content, attrs, code_area, file_path, created_at
		FROM knowledge_entities WHERE id = ? AND entity_type = ?`, id, TypeLearning)

	l, err := scanLearning(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: learning %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLearning(r rowScanner) (Learning, error) {
	var (
		l     Learning
		attrs sql.NullString
		area  sql.NullString
		fp    sql.NullString
	)
	if err := r.Scan(&l.ID, &l.Content, &attrs, &area, &fp, &l.CreatedAt); err != nil {
		return l, err
	}
	l.CodeArea = area.String
	l.FilePath = fp.String
	if attrs.Valid && attrs.String != "" {
		if err := decodeLearningAttrs(attrs.String, &l); err != nil {
			return l, err
		}
	}
	return l, nil
}

func decodeLearningAttrs(s string, l *Learning) error {
	var a struct {
		SourceIssue int     `json:"sourceIssue"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return fmt.Errorf("decode learning attrs for %s: %w", l.ID, err)
	}
	l.SourceIssue = a.SourceIssue
	l.Confidence = a.Confidence
	return nil
}

// ListAreas returns all code-area shadow entities with the number of records
// linked to each.
func (k *Knowledge) ListAreas(ctx context.Context) (map[string]int, error) {
	rows, err := k.db.DB().QueryContext(ctx, `
		SELECT a.name, COUNT(r.from_id)
		FROM knowledge_entities a
		LEFT JOIN knowledge_relationships r ON r.to_id = a.id
		WHERE a.entity_type = ?
		GROUP BY a.id`, TypeCodeArea)
	if err != nil {
		return nil, fmt.Errorf("list areas: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// ListFiles returns all file shadow entities with the number of records
// linked to each.
func (k *Knowledge) ListFiles(ctx context.Context) (map[string]int, error) {
	rows, err := k.db.DB().QueryContext(ctx, `
		SELECT f.name, COUNT(r.from_id)
		FROM knowledge_entities f
		LEFT JOIN knowledge_relationships r ON r.to_id = f.id AND r.rel_type = ?
		WHERE f.entity_type = ?
		GROUP BY f.id`, RelInFile, TypeFile)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// Stats counts knowledge entities by type.
func (k *Knowledge) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := k.db.DB().QueryContext(ctx, `
		SELECT entity_type, COUNT(*) FROM knowledge_entities GROUP BY entity_type`)
	if err != nil {
		return nil, fmt.Errorf("knowledge stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		out[typ] = n
	}
	return out, rows.Err()
}
