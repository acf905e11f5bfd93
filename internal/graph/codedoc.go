package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/extract"
)

// CodeDocID derives the knowledge-entity id for a code entity's doc record.
func CodeDocID(entityID string) string {
	return "code_doc:" + entityID
}

// BackfillCodeDocs creates or replaces a CodeDoc knowledge entity for every
// parsed entity carrying a JSDoc block, embedding the doc text for semantic
// search. Runs after a successful graph write, outside its transaction; a
// failure here leaves the code graph intact.
//
// CodeDocs reference their code entity through the entityId attribute rather
// than a relationship edge, since code and knowledge entities live in
// separate tables.
func (s *Store) BackfillCodeDocs(ctx context.Context, emb embeddings.Embedder, entities []extract.Entity) (int, error) {
	var documented []extract.Entity
	for _, e := range entities {
		if e.JSDoc != "" {
			documented = append(documented, e)
		}
	}
	if len(documented) == 0 {
		return 0, nil
	}

	texts := make([]string, len(documented))
	for i, e := range documented {
		texts[i] = fmt.Sprintf("%s %s: %s", e.Kind, e.Name, e.JSDoc)
	}

	var (
		vectors [][]float32
		model   string
		dim     int
	)
	if emb != nil {
		vs, err := emb.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("embed code docs: %w", err)
		}
		vectors = vs
		model = emb.ModelVersion()
		dim = emb.Dimensions()
	}

	now := s.clock.Now().Format(time.RFC3339)
	err := s.db.Tx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO knowledge_entities
				(id, entity_type, name, content, attrs, code_area, file_path,
				 embedding, embedding_dim, embedding_model, created_at)
			VALUES (?, 'code_doc', ?, ?, ?, NULL, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, e := range documented {
			attrs, err := json.Marshal(map[string]string{"entityId": e.ID})
			if err != nil {
				return err
			}
			var blob any
			var blobDim, blobModel any
			if vectors != nil {
				embeddings.Normalize(vectors[i])
				blob = embeddings.Encode(vectors[i])
				blobDim = dim
				blobModel = model
			}
			if _, err := stmt.Exec(CodeDocID(e.ID), e.Name, e.JSDoc, string(attrs),
				e.FilePath, blob, blobDim, blobModel, now); err != nil {
				return fmt.Errorf("insert code doc for %s: %w", e.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(documented), nil
}
