package hooks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
	"github.com/anthropics/claude-knowledge/internal/clock"
	"github.com/anthropics/claude-knowledge/internal/docs"
	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/graph"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
	"github.com/anthropics/claude-knowledge/internal/store"
)

type fixedExtractor struct {
	extraction *Extraction
	called     bool
}

func (f *fixedExtractor) Extract(_ context.Context, _, _, _ []string) (*Extraction, error) {
	f.called = true
	return f.extraction, nil
}

func testHooks(t *testing.T, extractor LearningExtractor, clk clock.Clock) (*Hooks, *store.Store) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	emb := embeddings.NewHashEmbedder(64)
	h := New(nil,
		knowledge.New(db, emb, clk),
		checkpoint.New(db, clk),
		docs.NewIndexer(db, emb, clk),
		graph.NewQuery(db),
		extractor, clk)
	return h, db
}

func TestSessionStartWritesMetadata(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, _ := testHooks(t, nil, clk)

	out, err := h.SessionStart(context.Background(), StartInput{
		SessionID:  "s1",
		WorkingDir: t.TempDir(),
		Branch:     "fix/cache",
	})
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	if out.MetadataPath == "" {
		t.Fatal("no metadata file written")
	}
	if _, err := os.Stat(out.MetadataPath); err != nil {
		t.Fatalf("metadata file missing: %v", err)
	}
	if !strings.HasPrefix(out.MetadataLine, SessionMetadataMarker) {
		t.Errorf("metadata line = %q", out.MetadataLine)
	}
	if !strings.Contains(out.MetadataLine, "sessionId=s1") {
		t.Errorf("metadata line missing session id: %q", out.MetadataLine)
	}
}

func TestSessionStartSweepsStaleAndEmitsResume(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, db := testHooks(t, nil, clk)
	ctx := context.Background()
	cp := checkpoint.New(db, clk)

	stale, err := cp.CreateWorkflow(ctx, 1, "old", "")
	if err != nil {
		t.Fatalf("create stale: %v", err)
	}
	clk.Advance(25 * time.Hour)
	fresh, err := cp.CreateWorkflow(ctx, 2, "fresh", "")
	if err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	out, err := h.SessionStart(ctx, StartInput{SessionID: "s1"})
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	if out.StaleSwept != 1 {
		t.Errorf("swept = %d, want 1", out.StaleSwept)
	}
	if !strings.Contains(out.ResumePrompt, fresh.ID) {
		t.Errorf("resume prompt missing fresh workflow: %q", out.ResumePrompt)
	}
	if strings.Contains(out.ResumePrompt, stale.ID) {
		t.Errorf("resume prompt lists swept workflow")
	}
}

func TestSessionStartInjectsLearnings(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, db := testHooks(t, nil, clk)
	ctx := context.Background()

	know := knowledge.New(db, embeddings.NewHashEmbedder(64), clk)
	if err := know.StoreLearnings(ctx, []knowledge.Learning{
		{ID: "l1", Content: "cache eviction uses LRU ordering", CodeArea: "cache"},
	}); err != nil {
		t.Fatalf("seed learning: %v", err)
	}

	out, err := h.SessionStart(ctx, StartInput{
		SessionID:     "s1",
		Branch:        "fix/cache-eviction",
		ModifiedFiles: []string{"cache.ts"},
	})
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	if out.LearningsInjected == 0 {
		t.Error("no learnings injected")
	}
	if !strings.Contains(out.ContextBlock, "LRU") {
		t.Errorf("context block missing learning: %q", out.ContextBlock)
	}
}

func TestSessionEndFullFlow(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	ex := &fixedExtractor{extraction: &Extraction{
		Learnings: []knowledge.Learning{{Content: "extracted learning", CodeArea: "parser"}},
		Patterns:  []knowledge.Pattern{{Name: "two-pass", Description: "entities then edges"}},
		Mistakes:  []knowledge.Mistake{{Description: "forgot escape", HowFixed: "added ESCAPE clause"}},
	}}
	h, db := testHooks(t, ex, clk)
	ctx := context.Background()

	// session-start writes the rendezvous file.
	start, err := h.SessionStart(ctx, StartInput{SessionID: "s1"})
	if err != nil {
		t.Fatalf("SessionStart: %v", err)
	}

	// A transcript modified inside the session window.
	tdir := t.TempDir()
	transcript := filepath.Join(tdir, "t.jsonl")
	if err := os.WriteFile(transcript, []byte("{}\n"), 0o644); err != nil {
		t.Fatalf("write transcript: %v", err)
	}
	h.TranscriptDirs = []string{tdir}

	clk.Advance(30 * time.Minute)
	mt := clk.Now().Add(-10 * time.Minute)
	if err := os.Chtimes(transcript, mt, mt); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	out, err := h.SessionEnd(ctx, EndInput{FilesRead: 8})
	if err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}
	if out.SessionID != "s1" {
		t.Errorf("session id not hydrated: %q", out.SessionID)
	}
	if out.TranscriptsFound != 1 {
		t.Errorf("transcripts = %d, want 1", out.TranscriptsFound)
	}
	if !ex.called {
		t.Error("extractor not called")
	}
	if out.LearningsCaptured != 1 || out.PatternsCaptured != 1 || out.MistakesCaptured != 1 {
		t.Errorf("captured = %+v", out)
	}
	if !out.MetricsRecorded {
		t.Error("metrics not recorded")
	}

	// Rendezvous file deleted on success.
	if _, err := os.Stat(start.MetadataPath); !os.IsNotExist(err) {
		t.Error("session metadata file not deleted")
	}

	metrics, err := checkpoint.New(db, clk).ListSessionMetrics(ctx, 5)
	if err != nil {
		t.Fatalf("ListSessionMetrics: %v", err)
	}
	if len(metrics) != 1 || metrics[0].SessionID != "s1" {
		t.Fatalf("metrics = %+v", metrics)
	}
	if metrics[0].DurationMinutes < 29 || metrics[0].DurationMinutes > 31 {
		t.Errorf("duration = %f, want ~30", metrics[0].DurationMinutes)
	}
	if metrics[0].LearningsCaptured != 1 {
		t.Errorf("learnings captured metric = %d", metrics[0].LearningsCaptured)
	}
}

func TestSessionEndHydratesIssueNumber(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, db := testHooks(t, nil, clk)
	ctx := context.Background()

	if _, err := h.SessionStart(ctx, StartInput{SessionID: "s1", IssueNumber: 42}); err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	clk.Advance(5 * time.Minute)

	out, err := h.SessionEnd(ctx, EndInput{})
	if err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}
	if out.SessionID != "s1" {
		t.Fatalf("session id not hydrated: %q", out.SessionID)
	}

	metrics, err := checkpoint.New(db, clk).ListSessionMetrics(ctx, 5)
	if err != nil {
		t.Fatalf("ListSessionMetrics: %v", err)
	}
	if len(metrics) != 1 {
		t.Fatalf("metrics = %+v", metrics)
	}
	if metrics[0].IssueNumber != 42 {
		t.Errorf("issue number = %d, want 42 from the metadata file", metrics[0].IssueNumber)
	}
}

func TestSessionStartGeneratesSessionID(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, _ := testHooks(t, nil, clk)

	out, err := h.SessionStart(context.Background(), StartInput{Branch: "main", IssueNumber: 7})
	if err != nil {
		t.Fatalf("SessionStart without session id: %v", err)
	}
	if !strings.Contains(out.MetadataLine, "sessionId=") {
		t.Errorf("metadata line missing generated id: %q", out.MetadataLine)
	}
	if out.MetadataPath == "" {
		t.Fatal("no metadata file written")
	}
	if _, err := os.Stat(out.MetadataPath); err != nil {
		t.Fatalf("metadata file missing: %v", err)
	}
}

func TestSessionEndDryRun(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	ex := &fixedExtractor{extraction: &Extraction{}}
	h, db := testHooks(t, ex, clk)
	ctx := context.Background()

	if _, err := h.SessionStart(ctx, StartInput{SessionID: "s1"}); err != nil {
		t.Fatalf("SessionStart: %v", err)
	}
	clk.Advance(10 * time.Minute)

	out, err := h.SessionEnd(ctx, EndInput{DryRun: true})
	if err != nil {
		t.Fatalf("SessionEnd dry run: %v", err)
	}
	if !out.DryRun || len(out.Diagnostics) == 0 {
		t.Errorf("dry run output = %+v", out)
	}
	if ex.called {
		t.Error("dry run called the extractor")
	}
	if out.MetricsRecorded {
		t.Error("dry run recorded metrics")
	}
	metrics, _ := checkpoint.New(db, clk).ListSessionMetrics(ctx, 5)
	if len(metrics) != 0 {
		t.Errorf("dry run wrote %d metric rows", len(metrics))
	}
}

func TestSessionEndFallbackWindowWithoutMetadata(t *testing.T) {
	clk := &clock.Fixed{T: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)}
	h, _ := testHooks(t, nil, clk)

	out, err := h.SessionEnd(context.Background(), EndInput{SessionID: "manual"})
	if err != nil {
		t.Fatalf("SessionEnd: %v", err)
	}
	if out.SessionID != "manual" {
		t.Errorf("session id = %q", out.SessionID)
	}
	if !out.MetricsRecorded {
		t.Error("metrics should record even without a metadata file")
	}
}
