package docs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
	"github.com/anthropics/claude-knowledge/internal/store"
)

func testIndexer(t *testing.T) *Indexer {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewIndexer(db, embeddings.NewHashEmbedder(64), nil)
}

func writeDoc(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "a.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return path
}

// shortBatchEmbedder returns one vector regardless of how many texts were
// requested.
type shortBatchEmbedder struct {
	*embeddings.HashEmbedder
}

func (s shortBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	v, err := s.HashEmbedder.Embed(ctx, texts[0])
	if err != nil {
		return nil, err
	}
	return [][]float32{v}, nil
}

func TestIndexFileToleratesShortVectorBatch(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	ix := NewIndexer(db, shortBatchEmbedder{embeddings.NewHashEmbedder(64)}, nil)

	res, err := ix.IndexFile(context.Background(), writeDoc(t, sampleDoc), IndexOptions{})
	if err != nil {
		t.Fatalf("IndexFile: %v", err)
	}
	if res.SectionsIndexed != 2 {
		t.Fatalf("sections indexed = %d, want 2", res.SectionsIndexed)
	}

	var withVec int
	err = db.DB().QueryRow(`
		SELECT COUNT(*) FROM knowledge_entities
		WHERE entity_type = ? AND embedding IS NOT NULL`, knowledge.TypeDocSection).Scan(&withVec)
	if err != nil {
		t.Fatalf("count embedded sections: %v", err)
	}
	if withVec != 1 {
		t.Errorf("embedded sections = %d, want 1 (second section stored without a vector)", withVec)
	}
}

const sampleDoc = `# Setup

Install the dependencies first.

## Configuration

Set the database path in the config file.
`

func TestSplitSections(t *testing.T) {
	sections := SplitSections(sampleDoc)
	if len(sections) != 2 {
		t.Fatalf("section count = %d, want 2", len(sections))
	}
	if sections[0].Heading != "Setup" || sections[0].StartLine != 1 {
		t.Errorf("first section = %+v", sections[0])
	}
	if sections[1].Heading != "Configuration" || sections[1].StartLine != 5 {
		t.Errorf("second section = %+v", sections[1])
	}
	if sections[1].Content != "Set the database path in the config file." {
		t.Errorf("content = %q", sections[1].Content)
	}
}

func TestSplitSectionsIgnoresFencedHeadings(t *testing.T) {
	doc := "# Real\n\n```\n# not a heading\n```\n"
	sections := SplitSections(doc)
	if len(sections) != 1 {
		t.Fatalf("section count = %d, want 1", len(sections))
	}
}

func TestSplitSectionsPreamble(t *testing.T) {
	sections := SplitSections("intro text\n\n# First\nbody\n")
	if len(sections) != 2 {
		t.Fatalf("section count = %d, want 2", len(sections))
	}
	if sections[0].Heading != "(preamble)" || sections[0].Content != "intro text" {
		t.Errorf("preamble = %+v", sections[0])
	}
}

func TestIndexContentHashGate(t *testing.T) {
	ix := testIndexer(t)
	ctx := context.Background()
	path := writeDoc(t, sampleDoc)

	first, err := ix.IndexFile(ctx, path, IndexOptions{})
	if err != nil {
		t.Fatalf("first index: %v", err)
	}
	if first.Status != StatusIndexed || first.SectionsIndexed != 2 {
		t.Fatalf("first = %+v", first)
	}

	second, err := ix.IndexFile(ctx, path, IndexOptions{})
	if err != nil {
		t.Fatalf("second index: %v", err)
	}
	if second.Status != StatusUnchanged || second.SectionsIndexed != 0 {
		t.Fatalf("second = %+v, want unchanged", second)
	}

	var n int
	ix.db.DB().QueryRow(`SELECT COUNT(*) FROM knowledge_entities WHERE entity_type = ?`,
		knowledge.TypeDocSection).Scan(&n)
	if n != 2 {
		t.Errorf("section rows = %d after double index, want 2", n)
	}

	// Force reindexes despite the unchanged hash.
	forced, err := ix.IndexFile(ctx, path, IndexOptions{Force: true})
	if err != nil {
		t.Fatalf("forced index: %v", err)
	}
	if forced.Status != StatusIndexed {
		t.Errorf("forced = %+v", forced)
	}
}

func TestIndexReplacesSectionsOnChange(t *testing.T) {
	ix := testIndexer(t)
	ctx := context.Background()
	path := writeDoc(t, sampleDoc)

	if _, err := ix.IndexFile(ctx, path, IndexOptions{}); err != nil {
		t.Fatalf("index: %v", err)
	}
	if err := os.WriteFile(path, []byte("# Only\n\none section now\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	res, err := ix.IndexFile(ctx, path, IndexOptions{})
	if err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if res.Status != StatusIndexed || res.SectionsIndexed != 1 {
		t.Fatalf("reindex = %+v", res)
	}

	var n int
	ix.db.DB().QueryRow(`SELECT COUNT(*) FROM knowledge_entities WHERE entity_type = ? AND file_path = ?`,
		knowledge.TypeDocSection, path).Scan(&n)
	if n != 1 {
		t.Errorf("section rows = %d after change, want 1", n)
	}
	// Old sections' edges are gone with them.
	ix.db.DB().QueryRow(`
		SELECT COUNT(*) FROM knowledge_relationships r
		LEFT JOIN knowledge_entities e ON e.id = r.from_id
		WHERE e.id IS NULL`).Scan(&n)
	if n != 0 {
		t.Errorf("orphan edges = %d", n)
	}
}

func TestSearchRanksRelevantSection(t *testing.T) {
	ix := testIndexer(t)
	ctx := context.Background()
	path := writeDoc(t, "# Caching\n\neviction policy details\n\n# Deploy\n\nrelease steps\n")

	if _, err := ix.IndexFile(ctx, path, IndexOptions{}); err != nil {
		t.Fatalf("index: %v", err)
	}

	hits, err := ix.Search(ctx, "eviction policy", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("no hits")
	}
	if hits[0].Heading != "Caching" {
		t.Errorf("top hit = %+v, want Caching section", hits[0])
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("hits not sorted at %d", i)
		}
	}
}

func TestClean(t *testing.T) {
	ix := testIndexer(t)
	ctx := context.Background()

	dir := t.TempDir()
	path := filepath.Join(dir, "gone.md")
	if err := os.WriteFile(path, []byte("# A\n\nbody\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ix.IndexFile(ctx, path, IndexOptions{}); err != nil {
		t.Fatalf("index: %v", err)
	}
	os.Remove(path)

	cleaned, err := ix.Clean(ctx)
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if len(cleaned) != 1 || cleaned[0] != path {
		t.Fatalf("cleaned = %v", cleaned)
	}

	var n int
	ix.db.DB().QueryRow(`SELECT COUNT(*) FROM doc_index WHERE file_path = ?`, path).Scan(&n)
	if n != 0 {
		t.Error("doc_index entry survived clean")
	}
	ix.db.DB().QueryRow(`SELECT COUNT(*) FROM knowledge_entities WHERE entity_type = ? AND file_path = ?`,
		knowledge.TypeDocSection, path).Scan(&n)
	if n != 0 {
		t.Error("sections survived clean")
	}
}

func TestAPIVersion(t *testing.T) {
	cases := map[string]string{
		"2.4.1":   "v2",
		"v2.0":    "v2",
		"1":       "v1",
		"3-beta":  "v3",
		"":        "unversioned",
		"latest":  "unversioned",
		"  v10.2": "v10",
	}
	for in, want := range cases {
		if got := APIVersion(in); got != want {
			t.Errorf("APIVersion(%q) = %q, want %q", in, got, want)
		}
	}
}
