// Package docs indexes Markdown documentation into embedded, searchable
// sections. Indexing is gated by a content hash so unchanged files are
// skipped, and sections are replaced wholesale when a file changes.
package docs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// Index statuses.
const (
	StatusIndexed   = "indexed"
	StatusUnchanged = "unchanged"
)

// Section is one heading-delimited chunk of a documentation file.
type Section struct {
	Heading   string `json:"heading"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line"`
}

// IndexResult reports what one IndexFile call did.
type IndexResult struct {
	FilePath        string `json:"file_path"`
	Status          string `json:"status"`
	SectionsIndexed int    `json:"sections_indexed"`
}

// IndexOptions tunes a single index run.
type IndexOptions struct {
	// Force reindexes even when the content hash is unchanged.
	Force bool
	// SpecVersion tags sections of an external specification.
	SpecVersion string
}

// Indexer writes documentation sections into the knowledge graph.
type Indexer struct {
	db    *store.Store
	emb   embeddings.Embedder
	clock clock.Clock
}

// NewIndexer returns an Indexer over db. emb may be nil; sections are then
// stored without embeddings. A nil clk defaults to system time.
func NewIndexer(db *store.Store, emb embeddings.Embedder, clk clock.Clock) *Indexer {
	if clk == nil {
		clk = clock.System{}
	}
	return &Indexer{db: db, emb: emb, clock: clk}
}

// SectionID derives the stable id for a section of a file.
func SectionID(filePath string, startLine int) string {
	return fmt.Sprintf("doc_section:%s:%d", filePath, startLine)
}

// IndexFile indexes one documentation file. Unchanged content (by hash) is
// skipped unless opts.Force is set.
func (ix *Indexer) IndexFile(ctx context.Context, path string, opts IndexOptions) (*IndexResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	hash := embeddings.ContentHash(string(data))

	var existing string
	err = ix.db.DB().QueryRowContext(ctx,
		`SELECT content_hash FROM doc_index WHERE file_path = ?`, path).Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("consult doc index: %w", err)
	}
	if existing == hash && !opts.Force {
		return &IndexResult{FilePath: path, Status: StatusUnchanged}, nil
	}

	sections := SplitSections(string(data))

	// Embeddings happen before the write transaction opens.
	var vectors [][]float32
	if ix.emb != nil {
		texts := make([]string, len(sections))
		for i, s := range sections {
			texts[i] = s.Heading + "\n" + s.Content
		}
		if vs, err := ix.emb.EmbedBatch(ctx, texts); err == nil {
			for _, v := range vs {
				embeddings.Normalize(v)
			}
			vectors = vs
		}
	}

	now := ix.clock.Now().Format(time.RFC3339)
	err = ix.db.Tx(ctx, func(tx *sql.Tx) error {
		if err := deleteSections(tx, path); err != nil {
			return err
		}

		fileID := knowledge.FileEntityID(path)
		if _, err := tx.Exec(`
			INSERT OR IGNORE INTO knowledge_entities (id, entity_type, name, created_at)
			VALUES (?, ?, ?, ?)`, fileID, knowledge.TypeFile, path, now); err != nil {
			return fmt.Errorf("create file entity: %w", err)
		}

		for i, s := range sections {
			id := SectionID(path, s.StartLine)
			attrs, err := json.Marshal(map[string]any{
				"heading":     s.Heading,
				"location":    fmt.Sprintf("%s:%d", path, s.StartLine),
				"specVersion": opts.SpecVersion,
			})
			if err != nil {
				return err
			}
			// A provider may return fewer vectors than sections; the rest
			// index without embeddings.
			var blob, dim, model any
			if i < len(vectors) {
				blob = embeddings.Encode(vectors[i])
				dim = ix.emb.Dimensions()
				model = ix.emb.ModelVersion()
			}
			if _, err := tx.Exec(`
				INSERT OR REPLACE INTO knowledge_entities
					(id, entity_type, name, content, attrs, file_path,
					 embedding, embedding_dim, embedding_model, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, knowledge.TypeDocSection, s.Heading, s.Content, string(attrs),
				path, blob, dim, model, now); err != nil {
				return fmt.Errorf("insert section %s: %w", id, err)
			}
			if _, err := tx.Exec(`
				INSERT OR IGNORE INTO knowledge_relationships (from_id, to_id, rel_type, created_at)
				VALUES (?, ?, ?, ?)`, id, fileID, knowledge.RelInDoc, now); err != nil {
				return fmt.Errorf("link section %s: %w", id, err)
			}
		}

		if _, err := tx.Exec(`
			INSERT OR REPLACE INTO doc_index (file_path, content_hash, indexed_at)
			VALUES (?, ?, ?)`, path, hash, now); err != nil {
			return fmt.Errorf("update doc index: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &IndexResult{FilePath: path, Status: StatusIndexed, SectionsIndexed: len(sections)}, nil
}

// IndexDir indexes documentation files under root, skipping hidden
// directories and node_modules. patterns are doublestar globs matched
// against the path relative to root; when empty, every Markdown file is
// indexed. Per-file failures are skipped; the walk continues.
func (ix *Indexer) IndexDir(ctx context.Context, root string, patterns ...string) ([]IndexResult, error) {
	return ix.indexDir(ctx, root, IndexOptions{}, patterns)
}

// IndexDirForce reindexes matching files regardless of the content-hash
// gate.
func (ix *Indexer) IndexDirForce(ctx context.Context, root string, patterns ...string) ([]IndexResult, error) {
	return ix.indexDir(ctx, root, IndexOptions{Force: true}, patterns)
}

func (ix *Indexer) indexDir(ctx context.Context, root string, opts IndexOptions, patterns []string) ([]IndexResult, error) {
	if len(patterns) == 0 {
		patterns = []string{"**/*.md"}
	}
	var results []IndexResult
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			name := d.Name()
			if name == "node_modules" || (strings.HasPrefix(name, ".") && path != root) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		if !matchesAny(patterns, filepath.ToSlash(rel)) {
			return nil
		}
		res, err := ix.IndexFile(ctx, path, opts)
		if err != nil {
			return nil
		}
		results = append(results, *res)
		return nil
	})
	if err != nil {
		return results, err
	}
	return results, nil
}

func matchesAny(patterns []string, rel string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// Status reports the files currently in the doc index.
func (ix *Indexer) Status(ctx context.Context) (map[string]string, error) {
	rows, err := ix.db.DB().QueryContext(ctx, `SELECT file_path, indexed_at FROM doc_index`)
	if err != nil {
		return nil, fmt.Errorf("doc status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var path, at string
		if err := rows.Scan(&path, &at); err != nil {
			return nil, err
		}
		out[path] = at
	}
	return out, rows.Err()
}

// Clean removes sections and index entries whose source file no longer
// exists. Existence checks run outside the transaction, deletions inside.
// Returns the cleaned file paths.
func (ix *Indexer) Clean(ctx context.Context) ([]string, error) {
	indexed, err := ix.Status(ctx)
	if err != nil {
		return nil, err
	}
	var missing []string
	for path := range indexed {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			missing = append(missing, path)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	err = ix.db.Tx(ctx, func(tx *sql.Tx) error {
		for _, path := range missing {
			if err := deleteSections(tx, path); err != nil {
				return err
			}
			if _, err := tx.Exec(`DELETE FROM doc_index WHERE file_path = ?`, path); err != nil {
				return fmt.Errorf("clean doc index for %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return missing, nil
}

// deleteSections removes a file's DocSection rows and their edges in the
// same transaction, so no orphan edges survive.
func deleteSections(tx *sql.Tx, path string) error {
	if _, err := tx.Exec(`
		DELETE FROM knowledge_relationships
		WHERE from_id IN (
			SELECT id FROM knowledge_entities WHERE entity_type = ? AND file_path = ?
		)`, knowledge.TypeDocSection, path); err != nil {
		return fmt.Errorf("delete section edges for %s: %w", path, err)
	}
	if _, err := tx.Exec(`
		DELETE FROM knowledge_entities WHERE entity_type = ? AND file_path = ?`,
		knowledge.TypeDocSection, path); err != nil {
		return fmt.Errorf("delete sections for %s: %w", path, err)
	}
	return nil
}

// SplitSections splits Markdown content along heading boundaries. Content
// before the first heading becomes a preamble section.
func SplitSections(content string) []Section {
	lines := strings.Split(content, "\n")
	var sections []Section
	current := Section{Heading: "(preamble)", StartLine: 1}
	var body []string

	flush := func() {
		text := strings.TrimSpace(strings.Join(body, "\n"))
		if text != "" || current.Heading != "(preamble)" {
			current.Content = text
			sections = append(sections, current)
		}
		body = nil
	}

	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
		}
		if !inFence && strings.HasPrefix(line, "#") {
			flush()
			current = Section{
				Heading:   strings.TrimSpace(strings.TrimLeft(line, "#")),
				StartLine: i + 1,
			}
			continue
		}
		body = append(body, line)
	}
	flush()
	return sections
}
