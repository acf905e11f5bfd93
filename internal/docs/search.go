package docs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
)

// Hit is one documentation search result: a DocSection or CodeDoc ranked by
// similarity to the query.
type Hit struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"` // doc_section or code_doc
	Heading  string  `json:"heading,omitempty"`
	Content  string  `json:"content"`
	FilePath string  `json:"file_path,omitempty"`
	EntityID string  `json:"entity_id,omitempty"`
	Score    float64 `json:"score"`
}

// Search embeds the query and returns the most similar DocSection and
// CodeDoc rows, sorted by score descending.
func (ix *Indexer) Search(ctx context.Context, query string, limit int) ([]Hit, error) {
	if ix.emb == nil {
		return nil, fmt.Errorf("%w: no embedder configured", embeddings.ErrUnavailable)
	}
	if limit <= 0 {
		limit = 5
	}
	qv, err := ix.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	embeddings.Normalize(qv)

	rows, err := ix.db.DB().QueryContext(ctx, `
		SELECT id, entity_type, name, content, attrs, file_path, embedding
		FROM knowledge_entities
		WHERE entity_type IN (?, ?) AND embedding IS NOT NULL AND embedding_model = ?`,
		knowledge.TypeDocSection, knowledge.TypeCodeDoc, ix.emb.ModelVersion())
	if err != nil {
		return nil, fmt.Errorf("doc search scan: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h     Hit
			name  sql.NullString
			attrs sql.NullString
			fp    sql.NullString
			blob  []byte
		)
		if err := rows.Scan(&h.ID, &h.Type, &name, &h.Content, &attrs, &fp, &blob); err != nil {
			return nil, err
		}
		h.Heading = name.String
		h.FilePath = fp.String
		if attrs.Valid && attrs.String != "" {
			var a struct {
				EntityID string `json:"entityId"`
			}
			if err := json.Unmarshal([]byte(attrs.String), &a); err == nil {
				h.EntityID = a.EntityID
			}
		}
		v, err := embeddings.Decode(blob)
		if err != nil {
			continue
		}
		h.Score = float64(embeddings.Dot(qv, v))
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ForCode returns the documentation linked to a code entity: its CodeDoc,
// plus DocSections indexed from files matching the entity's source file.
func (ix *Indexer) ForCode(ctx context.Context, entityID string) ([]Hit, error) {
	var hits []Hit

	rows, err := ix.db.DB().QueryContext(ctx, `
		SELECT id, entity_type, name, content, attrs, file_path
		FROM knowledge_entities
		WHERE entity_type = ? AND json_extract(attrs, '$.entityId') = ?`,
		knowledge.TypeCodeDoc, entityID)
	if err != nil {
		return nil, fmt.Errorf("code docs for entity: %w", err)
	}
	hits, err = collectHits(rows, hits, entityID)
	if err != nil {
		return nil, err
	}

	// Sections from documentation files indexed for the entity's source
	// file path, when the code entity exists.
	var filePath string
	err = ix.db.DB().QueryRowContext(ctx,
		`SELECT file_path FROM code_entities WHERE id = ?`, entityID).Scan(&filePath)
	if err == sql.ErrNoRows {
		return hits, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err = ix.db.DB().QueryContext(ctx, `
		SELECT s.id, s.entity_type, s.name, s.content, s.attrs, s.file_path
		FROM knowledge_entities s
		JOIN knowledge_relationships r ON r.from_id = s.id AND r.rel_type = ?
		WHERE s.entity_type = ? AND r.to_id = ?`,
		knowledge.RelInDoc, knowledge.TypeDocSection, knowledge.FileEntityID(filePath))
	if err != nil {
		return nil, fmt.Errorf("doc sections for entity file: %w", err)
	}
	return collectHits(rows, hits, "")
}

func collectHits(rows *sql.Rows, hits []Hit, entityID string) ([]Hit, error) {
	defer rows.Close()
	for rows.Next() {
		var (
			h     Hit
			name  sql.NullString
			attrs sql.NullString
			fp    sql.NullString
		)
		if err := rows.Scan(&h.ID, &h.Type, &name, &h.Content, &attrs, &fp); err != nil {
			return nil, err
		}
		h.Heading = name.String
		h.FilePath = fp.String
		h.EntityID = entityID
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
