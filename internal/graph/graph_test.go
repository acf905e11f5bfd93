package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/extract"
	"github.com/anthropics/claude-knowledge/internal/store"
)

func testDB(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleResult builds a small graph: callee.ts defines callee, caller.ts
// defines caller which calls callee and imports callee.ts.
func sampleResult() *extract.Result {
	pkg := "app"
	calleeFn := extract.EntityID(pkg, "callee.ts", extract.KindFunction, "callee")
	callerFn := extract.EntityID(pkg, "caller.ts", extract.KindFunction, "caller")
	calleeFile := extract.FileID(pkg, "callee.ts")
	callerFile := extract.FileID(pkg, "caller.ts")

	return &extract.Result{
		Package: pkg,
		Entities: []extract.Entity{
			{ID: calleeFile, Package: pkg, Name: "callee.ts", Kind: extract.KindFile, FilePath: "callee.ts", Line: 1},
			{ID: calleeFn, Package: pkg, Name: "callee", Kind: extract.KindFunction, FilePath: "callee.ts", Line: 1, Exported: true, JSDoc: "Returns one."},
			{ID: callerFile, Package: pkg, Name: "caller.ts", Kind: extract.KindFile, FilePath: "caller.ts", Line: 1},
			{ID: callerFn, Package: pkg, Name: "caller", Kind: extract.KindFunction, FilePath: "caller.ts", Line: 3, Exported: true},
		},
		Relationships: []extract.Relationship{
			{FromID: calleeFile, ToID: calleeFn, Kind: extract.RelDefines},
			{FromID: callerFile, ToID: callerFn, Kind: extract.RelDefines},
			{FromID: callerFile, ToID: calleeFile, Kind: extract.RelImports},
			{FromID: callerFn, ToID: calleeFn, Kind: extract.RelCalls},
		},
	}
}

func sampleFiles() []FileUpdate {
	return []FileUpdate{
		{Path: "callee.ts", MtimeMs: 1000},
		{Path: "caller.ts", MtimeMs: 1000},
	}
}

func TestStoreFullAndQuery(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	if err := gs.StoreFull(ctx, sampleResult(), sampleFiles()); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	q := NewQuery(db)
	callers, err := q.WhatCalls(ctx, "callee")
	if err != nil {
		t.Fatalf("WhatCalls: %v", err)
	}
	if len(callers) != 1 || callers[0].Name != "caller" {
		t.Fatalf("WhatCalls = %+v, want single caller", callers)
	}
}

func TestQueryPatternsCaseSensitive(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	if err := gs.StoreFull(ctx, sampleResult(), sampleFiles()); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	q := NewQuery(db)
	if callers, _ := q.WhatCalls(ctx, "CALLEE"); len(callers) != 0 {
		t.Errorf("WhatCalls(CALLEE) matched %d caller(s), name patterns are case-sensitive", len(callers))
	}
	if callers, _ := q.WhatCalls(ctx, "callee"); len(callers) != 1 {
		t.Errorf("WhatCalls(callee) = %d caller(s), want 1", len(callers))
	}
	if rows, _ := q.FindEntities(ctx, "Caller", "", 0); len(rows) != 0 {
		t.Errorf("FindEntities(Caller) matched %d row(s), want 0", len(rows))
	}
	if impacts, _ := q.BlastRadius(ctx, "CALLEE.TS", 2); len(impacts) != 0 {
		t.Errorf("BlastRadius(CALLEE.TS) matched %d row(s), want 0", len(impacts))
	}
}

func TestStoreFullIdempotent(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := gs.StoreFull(ctx, sampleResult(), sampleFiles()); err != nil {
			t.Fatalf("StoreFull run %d: %v", i, err)
		}
	}

	sum, err := NewQuery(db).GetSummary(ctx, "app")
	if err != nil {
		t.Fatalf("GetSummary: %v", err)
	}
	if sum.TotalEntities != 4 {
		t.Errorf("TotalEntities = %d after double store, want 4", sum.TotalEntities)
	}
	if sum.TotalRelationships != 4 {
		t.Errorf("TotalRelationships = %d after double store, want 4", sum.TotalRelationships)
	}
}

func TestStoreIncrementalReplacesChangedFile(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	if err := gs.StoreFull(ctx, sampleResult(), sampleFiles()); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	// Reparse of caller.ts: caller was renamed to invoke and no longer
	// calls callee.
	pkg := "app"
	callerFile := extract.FileID(pkg, "caller.ts")
	invokeFn := extract.EntityID(pkg, "caller.ts", extract.KindFunction, "invoke")
	inc := &extract.Result{
		Package: pkg,
		Entities: []extract.Entity{
			{ID: callerFile, Package: pkg, Name: "caller.ts", Kind: extract.KindFile, FilePath: "caller.ts", Line: 1},
			{ID: invokeFn, Package: pkg, Name: "invoke", Kind: extract.KindFunction, FilePath: "caller.ts", Line: 3, Exported: true},
		},
		Relationships: []extract.Relationship{
			{FromID: callerFile, ToID: invokeFn, Kind: extract.RelDefines},
		},
	}
	err := gs.StoreIncremental(ctx, inc, []FileUpdate{{Path: "caller.ts", MtimeMs: 2000}}, nil)
	if err != nil {
		t.Fatalf("StoreIncremental: %v", err)
	}

	q := NewQuery(db)
	if rows, _ := q.FindEntities(ctx, "caller", "function", 0); len(rows) != 0 {
		t.Errorf("old caller entity survived incremental write: %+v", rows)
	}
	if rows, _ := q.FindEntities(ctx, "invoke", "function", 0); len(rows) != 1 {
		t.Errorf("new invoke entity missing")
	}
	if callers, _ := q.WhatCalls(ctx, "callee"); len(callers) != 0 {
		t.Errorf("stale calls edge survived: %+v", callers)
	}
	// callee.ts untouched.
	if rows, _ := q.FindEntities(ctx, "callee", "function", 0); len(rows) != 1 {
		t.Errorf("unchanged file lost its entities")
	}
}

func TestStoreIncrementalDeletedFile(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	if err := gs.StoreFull(ctx, sampleResult(), sampleFiles()); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}
	empty := &extract.Result{Package: "app"}
	if err := gs.StoreIncremental(ctx, empty, nil, []string{"caller.ts"}); err != nil {
		t.Fatalf("StoreIncremental: %v", err)
	}

	q := NewQuery(db)
	if rows, _ := q.FindEntities(ctx, "caller", "", 0); len(rows) != 0 {
		t.Errorf("deleted file's entities survived: %+v", rows)
	}
	idx, err := gs.FileIndex(ctx, "app")
	if err != nil {
		t.Fatalf("FileIndex: %v", err)
	}
	if _, ok := idx["caller.ts"]; ok {
		t.Error("deleted file still in file index")
	}
	if _, ok := idx["callee.ts"]; !ok {
		t.Error("unchanged file missing from file index")
	}
}

func TestBlastRadiusDepthAndCycles(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()

	// a <- b <- c, plus a cycle b <-> c.
	pkg := "app"
	mk := func(file, name string) extract.Entity {
		return extract.Entity{
			ID:      extract.EntityID(pkg, file, extract.KindFunction, name),
			Package: pkg, Name: name, Kind: extract.KindFunction, FilePath: file, Line: 1,
		}
	}
	a, b, c := mk("a.ts", "a"), mk("b.ts", "b"), mk("c.ts", "c")
	res := &extract.Result{
		Package:  pkg,
		Entities: []extract.Entity{a, b, c},
		Relationships: []extract.Relationship{
			{FromID: b.ID, ToID: a.ID, Kind: extract.RelCalls},
			{FromID: c.ID, ToID: b.ID, Kind: extract.RelCalls},
			{FromID: b.ID, ToID: c.ID, Kind: extract.RelCalls},
		},
	}
	if err := gs.StoreFull(ctx, res, nil); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	q := NewQuery(db)
	full, err := q.BlastRadius(ctx, "a.ts", 5)
	if err != nil {
		t.Fatalf("BlastRadius: %v", err)
	}
	depths := map[string]int{}
	for _, im := range full {
		depths[im.Name] = im.Depth
	}
	if depths["a"] != 0 || depths["b"] != 1 || depths["c"] != 2 {
		t.Errorf("depths = %v, want a=0 b=1 c=2", depths)
	}

	shallow, err := q.BlastRadius(ctx, "a.ts", 1)
	if err != nil {
		t.Fatalf("BlastRadius depth 1: %v", err)
	}
	if len(shallow) >= len(full) && len(full) != len(shallow) {
		t.Errorf("deeper traversal returned fewer rows")
	}
	for _, im := range shallow {
		if im.Depth > 1 {
			t.Errorf("entity %s exceeds depth cap: %d", im.Name, im.Depth)
		}
	}
}

func TestFindEntitiesValidatesKind(t *testing.T) {
	db := testDB(t)
	q := NewQuery(db)
	_, err := q.FindEntities(context.Background(), "x", "banana", 0)
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}

func TestGetCallersExactMatch(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()
	if err := gs.StoreFull(ctx, sampleResult(), nil); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	q := NewQuery(db)
	if rows, _ := q.GetCallers(ctx, "callee"); len(rows) != 1 {
		t.Errorf("exact callers = %d, want 1", len(rows))
	}
	if rows, _ := q.GetCallers(ctx, "calle"); len(rows) != 0 {
		t.Errorf("prefix should not match exact caller lookup")
	}
}

func TestGetExports(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()
	if err := gs.StoreFull(ctx, sampleResult(), nil); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	rows, err := NewQuery(db).GetExports(ctx, "app")
	if err != nil {
		t.Fatalf("GetExports: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("exports = %d, want 2", len(rows))
	}
}

func TestBackfillCodeDocs(t *testing.T) {
	db := testDB(t)
	gs := NewStore(db, nil)
	ctx := context.Background()
	res := sampleResult()
	if err := gs.StoreFull(ctx, res, nil); err != nil {
		t.Fatalf("StoreFull: %v", err)
	}

	emb := embeddings.NewHashEmbedder(64)
	n, err := gs.BackfillCodeDocs(ctx, emb, res.Entities)
	if err != nil {
		t.Fatalf("BackfillCodeDocs: %v", err)
	}
	if n != 1 {
		t.Fatalf("backfilled %d docs, want 1", n)
	}

	var content string
	var dim int
	calleeFn := extract.EntityID("app", "callee.ts", extract.KindFunction, "callee")
	err = db.DB().QueryRow(`
		SELECT content, embedding_dim FROM knowledge_entities WHERE id = ?`,
		CodeDocID(calleeFn)).Scan(&content, &dim)
	if err != nil {
		t.Fatalf("query code doc: %v", err)
	}
	if content != "Returns one." {
		t.Errorf("content = %q", content)
	}
	if dim != 64 {
		t.Errorf("embedding_dim = %d, want 64", dim)
	}
}
