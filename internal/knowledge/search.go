package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
)

// DefaultSearchLimit caps similarity results when no limit is supplied.
const DefaultSearchLimit = 5

// SearchOptions tunes similarity search. Structured filters apply before
// ranking, so the limit counts only rows passing them.
type SearchOptions struct {
	Limit          int
	Threshold      float64
	CodeArea       string
	FilePath       string
	IncludeRelated bool
}

// SearchResult is one similarity hit. RelatedPatterns and RelatedMistakes
// are populated only when IncludeRelated is set.
type SearchResult struct {
	Learning        Learning  `json:"learning"`
	Score           float64   `json:"score"`
	RelatedPatterns []Pattern `json:"related_patterns,omitempty"`
	RelatedMistakes []Mistake `json:"related_mistakes,omitempty"`
}

// SearchSimilar embeds text and returns the most similar learnings, sorted
// by cosine similarity descending. Rows without an embedding, or embedded
// under a different model, never match. Fails with
// embeddings.ErrUnavailable when no embedder is configured or reachable;
// callers fall back to Query.
func (k *Knowledge) SearchSimilar(ctx context.Context, text string, opts SearchOptions) ([]SearchResult, error) {
	if k.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", embeddings.ErrUnavailable)
	}
	qv, err := k.emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embeddings.Normalize(qv)

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	query := `SELECT id, content, attrs, code_area, file_path, created_at, embedding
		FROM knowledge_entities
		WHERE entity_type = ? AND embedding IS NOT NULL AND embedding_model = ?`
	args := []any{TypeLearning, k.emb.ModelVersion()}
	if opts.CodeArea != "" {
		query += " AND code_area = ?"
		args = append(args, opts.CodeArea)
	}
	if opts.FilePath != "" {
		query += " AND file_path = ?"
		args = append(args, opts.FilePath)
	}

	rows, err := k.db.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity scan: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			l         Learning
			attrs     sql.NullString
			area      sql.NullString
			fp        sql.NullString
			createdAt string
			blob      []byte
		)
		if err := rows.Scan(&l.ID, &l.Content, &attrs, &area, &fp, &createdAt, &blob); err != nil {
			return nil, err
		}
		l.CodeArea = area.String
		l.FilePath = fp.String
		l.CreatedAt = createdAt
		if attrs.Valid && attrs.String != "" {
			if err := decodeLearningAttrs(attrs.String, &l); err != nil {
				return nil, err
			}
		}

		v, err := embeddings.Decode(blob)
		if err != nil {
			// Dimension mismatch from an older model; skip the row.
			continue
		}
		score := float64(embeddings.Dot(qv, v))
		if score < opts.Threshold {
			continue
		}
		results = append(results, SearchResult{Learning: l, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	if opts.IncludeRelated {
		for i := range results {
			if err := k.attachRelated(ctx, &results[i]); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// attachRelated loads patterns sharing the learning's code area and mistakes
// sharing its file.
func (k *Knowledge) attachRelated(ctx context.Context, res *SearchResult) error {
	if res.Learning.CodeArea != "" {
		rows, err := k.db.DB().QueryContext(ctx, `
			SELECT id, name, content, code_area, created_at
			FROM knowledge_entities
			WHERE entity_type = ? AND code_area = ?
			ORDER BY created_at DESC`, TypePattern, res.Learning.CodeArea)
		if err != nil {
			return fmt.Errorf("related patterns: %w", err)
		}
		for rows.Next() {
			var p Pattern
			var name, desc, area sql.NullString
			if err := rows.Scan(&p.ID, &name, &desc, &area, &p.CreatedAt); err != nil {
				rows.Close()
				return err
			}
			p.Name = name.String
			p.Description = desc.String
			p.CodeArea = area.String
			res.RelatedPatterns = append(res.RelatedPatterns, p)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()
	}

	if res.Learning.FilePath != "" {
		rows, err := k.db.DB().QueryContext(ctx, `
			SELECT id, content, attrs, file_path, created_at
			FROM knowledge_entities
			WHERE entity_type = ? AND file_path = ?
			ORDER BY created_at DESC`, TypeMistake, res.Learning.FilePath)
		if err != nil {
			return fmt.Errorf("related mistakes: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var m Mistake
			var attrs, fp sql.NullString
			if err := rows.Scan(&m.ID, &m.Description, &attrs, &fp, &m.CreatedAt); err != nil {
				return err
			}
			m.FilePath = fp.String
			if attrs.Valid && attrs.String != "" {
				var a struct {
					HowFixed string `json:"howFixed"`
				}
				if err := json.Unmarshal([]byte(attrs.String), &a); err != nil {
					return fmt.Errorf("decode mistake attrs for %s: %w", m.ID, err)
				}
				m.HowFixed = a.HowFixed
			}
			res.RelatedMistakes = append(res.RelatedMistakes, m)
		}
		return rows.Err()
	}
	return nil
}
