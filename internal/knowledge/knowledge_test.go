package knowledge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/store"
)

func testKnowledge(t *testing.T) *Knowledge {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, embeddings.NewHashEmbedder(64), nil)
}

func TestStoreLearningRoundTrip(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	l := Learning{
		ID:          "learning:1",
		Content:     "always close rows before reusing the connection",
		SourceIssue: 42,
		CodeArea:    "store",
		FilePath:    "internal/store/db.go",
		Confidence:  0.9,
	}
	if err := k.StoreLearnings(ctx, []Learning{l}); err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	got, err := k.Query(ctx, Filter{FilePath: l.FilePath})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("query by file path returned %d rows, want 1", len(got))
	}
	if got[0].ID != l.ID || got[0].SourceIssue != 42 || got[0].Confidence != 0.9 {
		t.Errorf("round trip mismatch: %+v", got[0])
	}
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("model crashed")
}
func (failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model crashed")
}
func (failingEmbedder) ModelVersion() string { return "broken-v1" }
func (failingEmbedder) Dimensions() int      { return 64 }
func (failingEmbedder) Close() error         { return nil }

func TestStoreLearningsToleratesEmbedFailure(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	k := New(db, failingEmbedder{}, nil)
	ctx := context.Background()

	err = k.StoreLearnings(ctx, []Learning{
		{ID: "learning:1", Content: "embedding failed but the row persists", CodeArea: "store"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings with failing embedder: %v", err)
	}

	got, err := k.Query(ctx, Filter{CodeArea: "store"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("rows = %d, want 1", len(got))
	}

	var blob any
	if err := k.db.DB().QueryRow(
		`SELECT embedding FROM knowledge_entities WHERE id = 'learning:1'`).Scan(&blob); err != nil {
		t.Fatalf("read embedding column: %v", err)
	}
	if blob != nil {
		t.Error("failed embed should leave the embedding column NULL")
	}
}

func TestStoreCreatesShadowEntitiesAndEdges(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	err := k.StoreLearnings(ctx, []Learning{
		{ID: "learning:1", Content: "x", CodeArea: "parser", FilePath: "a.ts"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	var n int
	err = k.db.DB().QueryRow(`
		SELECT COUNT(*) FROM knowledge_entities
		WHERE id IN (?, ?)`, CodeAreaID("parser"), FileEntityID("a.ts")).Scan(&n)
	if err != nil || n != 2 {
		t.Fatalf("shadow entities = %d (err %v), want 2", n, err)
	}

	err = k.db.DB().QueryRow(`
		SELECT COUNT(*) FROM knowledge_relationships
		WHERE from_id = 'learning:1' AND rel_type IN (?, ?)`, RelAbout, RelInFile).Scan(&n)
	if err != nil || n != 2 {
		t.Fatalf("edges = %d (err %v), want ABOUT and IN_FILE", n, err)
	}
}

func TestQueryKeywordsAllMustMatch(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "Cache Eviction policy uses LRU"},
		{ID: "l2", Content: "cache warming on startup"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	got, err := k.Query(ctx, Filter{Keywords: []string{"cache", "eviction"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Errorf("keyword AND filter returned %+v, want only l1", got)
	}
}

func TestQueryByIssueNumber(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "a", SourceIssue: 7},
		{ID: "l2", Content: "b", SourceIssue: 8},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	got, err := k.Query(ctx, Filter{IssueNumber: 7})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "l1" {
		t.Errorf("issue filter returned %+v", got)
	}
}

func TestSearchSimilarWithAreaFilter(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "cache eviction policy", CodeArea: "cache"},
		{ID: "l2", Content: "cache eviction policy", CodeArea: "parser"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	res, err := k.SearchSimilar(ctx, "eviction", SearchOptions{Limit: 10, CodeArea: "cache"})
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(res) != 1 || res[0].Learning.ID != "l1" {
		t.Fatalf("filtered search returned %+v, want l1 only", res)
	}
}

func TestSearchSimilarSortedAndThresholded(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "parser error recovery strategy"},
		{ID: "l2", Content: "parser error recovery"},
		{ID: "l3", Content: "unrelated deployment notes"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	res, err := k.SearchSimilar(ctx, "parser error recovery", SearchOptions{Limit: 10, Threshold: 0.5})
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(res) == 0 {
		t.Fatal("no results above threshold")
	}
	for i := 1; i < len(res); i++ {
		if res[i].Score > res[i-1].Score {
			t.Errorf("results not sorted descending at %d", i)
		}
	}
	for _, r := range res {
		if r.Score < 0.5 {
			t.Errorf("result %s below threshold: %f", r.Learning.ID, r.Score)
		}
		if r.Learning.ID == "l3" {
			t.Errorf("unrelated learning passed 0.5 threshold")
		}
	}
}

func TestSearchSimilarIncludeRelated(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	if err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "debounce watcher events", CodeArea: "watcher", FilePath: "watch.ts"},
	}); err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}
	if err := k.StorePattern(ctx, Pattern{ID: "p1", Name: "debounce", Description: "coalesce bursts", CodeArea: "watcher"}); err != nil {
		t.Fatalf("StorePattern: %v", err)
	}
	if err := k.StoreMistake(ctx, Mistake{ID: "m1", Description: "missed rename events", HowFixed: "watch the directory", FilePath: "watch.ts"}); err != nil {
		t.Fatalf("StoreMistake: %v", err)
	}

	res, err := k.SearchSimilar(ctx, "debounce watcher", SearchOptions{Limit: 5, IncludeRelated: true})
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(res) == 0 {
		t.Fatal("no results")
	}
	top := res[0]
	if len(top.RelatedPatterns) != 1 || top.RelatedPatterns[0].ID != "p1" {
		t.Errorf("related patterns = %+v", top.RelatedPatterns)
	}
	if len(top.RelatedMistakes) != 1 || top.RelatedMistakes[0].HowFixed != "watch the directory" {
		t.Errorf("related mistakes = %+v", top.RelatedMistakes)
	}
}

func TestSearchSimilarNoEmbedder(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	k := New(db, nil, nil)

	_, err = k.SearchSimilar(context.Background(), "anything", SearchOptions{})
	if err == nil {
		t.Fatal("expected ErrUnavailable without embedder")
	}
}

func TestStoreWithoutEmbedderStillQueryable(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer db.Close()
	k := New(db, nil, nil)
	ctx := context.Background()

	if err := k.StoreLearnings(ctx, []Learning{{ID: "l1", Content: "structured only"}}); err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}
	got, err := k.Query(ctx, Filter{Keywords: []string{"structured"}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("structured fallback query returned %d rows", len(got))
	}
}

func TestListAreasAndStats(t *testing.T) {
	k := testKnowledge(t)
	ctx := context.Background()

	if err := k.StoreLearnings(ctx, []Learning{
		{ID: "l1", Content: "a", CodeArea: "cache"},
		{ID: "l2", Content: "b", CodeArea: "cache"},
	}); err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	areas, err := k.ListAreas(ctx)
	if err != nil {
		t.Fatalf("ListAreas: %v", err)
	}
	if areas["cache"] != 2 {
		t.Errorf("cache area count = %d, want 2", areas["cache"])
	}

	stats, err := k.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[TypeLearning] != 2 {
		t.Errorf("learning count = %d, want 2", stats[TypeLearning])
	}
	if stats[TypeCodeArea] != 1 {
		t.Errorf("code area count = %d, want 1", stats[TypeCodeArea])
	}
}
