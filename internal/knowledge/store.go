package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// Knowledge reads and writes the semantic knowledge graph. The embedder is
// optional; without one, records are stored for structured retrieval only.
type Knowledge struct {
	db    *store.Store
	emb   embeddings.Embedder
	clock clock.Clock
}

// New returns a Knowledge over db. emb may be nil. A nil clk defaults to
// system time.
func New(db *store.Store, emb embeddings.Embedder, clk clock.Clock) *Knowledge {
	if clk == nil {
		clk = clock.System{}
	}
	return &Knowledge{db: db, emb: emb, clock: clk}
}

// embedOrNil embeds each text, tolerating embedder failure. Returns nil
// vectors when embedding is not possible; storing proceeds without them and
// the rows stay reachable through structured queries.
func (k *Knowledge) embedOrNil(ctx context.Context, texts []string) [][]float32 {
	if k.emb == nil {
		return nil
	}
	vectors, err := k.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil
	}
	for _, v := range vectors {
		embeddings.Normalize(v)
	}
	return vectors
}

const upsertEntitySQL = `
	INSERT OR REPLACE INTO knowledge_entities
		(id, entity_type, name, content, attrs, code_area, file_path,
		 embedding, embedding_dim, embedding_model, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertShadowSQL = `
	INSERT OR IGNORE INTO knowledge_entities
		(id, entity_type, name, created_at)
	VALUES (?, ?, ?, ?)`

const insertEdgeSQL = `
	INSERT OR IGNORE INTO knowledge_relationships (from_id, to_id, rel_type, created_at)
	VALUES (?, ?, ?, ?)`

// StoreLearnings upserts a batch of learnings in one transaction, creating
// the CodeArea and File shadow entities they reference and the ABOUT and
// IN_FILE edges. Embeddings are computed before the transaction opens.
func (k *Knowledge) StoreLearnings(ctx context.Context, learnings []Learning) error {
	if len(learnings) == 0 {
		return nil
	}
	for i := range learnings {
		if learnings[i].Content == "" {
			return fmt.Errorf("%w: learning content is empty", store.ErrInvalidInput)
		}
		if learnings[i].ID == "" {
			learnings[i].ID = newID("learning")
		}
	}

	texts := make([]string, len(learnings))
	for i, l := range learnings {
		texts[i] = l.Content
	}
	vectors := k.embedOrNil(ctx, texts)

	now := k.clock.Now().Format(time.RFC3339)
	return k.db.Tx(ctx, func(tx *sql.Tx) error {
		for i, l := range learnings {
			attrs, err := json.Marshal(map[string]any{
				"sourceIssue": l.SourceIssue,
				"confidence":  l.Confidence,
			})
			if err != nil {
				return err
			}
			blob, dim, model := vectorArgs(vectors, i, k.emb)
			if _, err := tx.Exec(upsertEntitySQL,
				l.ID, TypeLearning, nil, l.Content, string(attrs),
				nullString(l.CodeArea), nullString(l.FilePath),
				blob, dim, model, now); err != nil {
				return fmt.Errorf("store learning %s: %w", l.ID, err)
			}
			if err := k.linkShadows(tx, l.ID, l.CodeArea, l.FilePath, RelAbout, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// StorePattern upserts one pattern with its APPLIES_TO edge.
func (k *Knowledge) StorePattern(ctx context.Context, p Pattern) error {
	if p.Name == "" {
		return fmt.Errorf("%w: pattern name is empty", store.ErrInvalidInput)
	}
	if p.ID == "" {
		p.ID = newID("pattern")
	}

	vectors := k.embedOrNil(ctx, []string{p.Name + ": " + p.Description})

	now := k.clock.Now().Format(time.RFC3339)
	return k.db.Tx(ctx, func(tx *sql.Tx) error {
		blob, dim, model := vectorArgs(vectors, 0, k.emb)
		if _, err := tx.Exec(upsertEntitySQL,
			p.ID, TypePattern, p.Name, p.Description, nil,
			nullString(p.CodeArea), nil, blob, dim, model, now); err != nil {
			return fmt.Errorf("store pattern %s: %w", p.ID, err)
		}
		return k.linkShadows(tx, p.ID, p.CodeArea, "", RelAppliesTo, now)
	})
}

// StoreMistake upserts one mistake with its IN_FILE edge.
func (k *Knowledge) StoreMistake(ctx context.Context, m Mistake) error {
	if m.Description == "" {
		return fmt.Errorf("%w: mistake description is empty", store.ErrInvalidInput)
	}
	if m.ID == "" {
		m.ID = newID("mistake")
	}

	vectors := k.embedOrNil(ctx, []string{m.Description + " " + m.HowFixed})

	now := k.clock.Now().Format(time.RFC3339)
	return k.db.Tx(ctx, func(tx *sql.Tx) error {
		attrs, err := json.Marshal(map[string]string{"howFixed": m.HowFixed})
		if err != nil {
			return err
		}
		blob, dim, model := vectorArgs(vectors, 0, k.emb)
		if _, err := tx.Exec(upsertEntitySQL,
			m.ID, TypeMistake, nil, m.Description, string(attrs),
			nil, nullString(m.FilePath), blob, dim, model, now); err != nil {
			return fmt.Errorf("store mistake %s: %w", m.ID, err)
		}
		return k.linkShadows(tx, m.ID, "", m.FilePath, "", now)
	})
}

// linkShadows creates the shadow entities a record references and the edges
// to them. areaRel is the edge type toward the CodeArea shadow; file links
// always use IN_FILE.
func (k *Knowledge) linkShadows(tx *sql.Tx, fromID, codeArea, filePath, areaRel, now string) error {
	if codeArea != "" && areaRel != "" {
		areaID := CodeAreaID(codeArea)
		if _, err := tx.Exec(insertShadowSQL, areaID, TypeCodeArea, codeArea, now); err != nil {
			return fmt.Errorf("create code area %s: %w", codeArea, err)
		}
		if _, err := tx.Exec(insertEdgeSQL, fromID, areaID, areaRel, now); err != nil {
			return fmt.Errorf("link %s to area %s: %w", fromID, codeArea, err)
		}
	}
	if filePath != "" {
		fileID := FileEntityID(filePath)
		if _, err := tx.Exec(insertShadowSQL, fileID, TypeFile, filePath, now); err != nil {
			return fmt.Errorf("create file entity %s: %w", filePath, err)
		}
		if _, err := tx.Exec(insertEdgeSQL, fromID, fileID, RelInFile, now); err != nil {
			return fmt.Errorf("link %s to file %s: %w", fromID, filePath, err)
		}
	}
	return nil
}

func vectorArgs(vectors [][]float32, i int, emb embeddings.Embedder) (blob, dim, model any) {
	if vectors == nil || i >= len(vectors) {
		return nil, nil, nil
	}
	return embeddings.Encode(vectors[i]), emb.Dimensions(), emb.ModelVersion()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
