package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(Config{
		DBPath:   filepath.Join(t.TempDir(), "test.db"),
		Embedder: embeddings.NewHashEmbedder(64),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func callReq(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("result has %d content items, want 1", len(res.Content))
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want TextContent", res.Content[0])
	}
	return text.Text
}

func TestNewRejectsUnknownTool(t *testing.T) {
	_, err := New(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Tools:  []string{"ck_bogus"},
	})
	if err == nil {
		t.Fatal("expected error for unknown tool")
	}
	if !strings.Contains(err.Error(), "ck_bogus") {
		t.Errorf("error %q should name the tool", err)
	}
}

func TestHandleSearchRequiresQuery(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleSearch(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if !res.IsError {
		t.Error("missing query should produce an error result")
	}
}

func TestHandleSearchFindsStoredLearning(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	err := s.know.StoreLearnings(ctx, []knowledge.Learning{
		{Content: "the session hook sweeps stale workflows before injecting context", CodeArea: "hooks"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	res, err := s.handleSearch(ctx, callReq(map[string]any{
		"query": "stale workflow sweep",
		"limit": float64(3),
	}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if res.IsError {
		t.Fatalf("search failed: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "stale workflows") {
		t.Errorf("result should contain the stored learning, got: %s", resultText(t, res))
	}
}

func TestHandleSearchFallsBackWithoutEmbedder(t *testing.T) {
	// No embedder: similarity search is unavailable, so the handler falls
	// back to the structured keyword query instead of erroring.
	s, err := New(Config{DBPath: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	err = s.know.StoreLearnings(ctx, []knowledge.Learning{
		{Content: "retry the parse with a smaller batch", CodeArea: "extract"},
	})
	if err != nil {
		t.Fatalf("StoreLearnings: %v", err)
	}

	res, err := s.handleSearch(ctx, callReq(map[string]any{"query": "retry"}))
	if err != nil {
		t.Fatalf("handleSearch: %v", err)
	}
	if res.IsError {
		t.Fatalf("fallback should not error: %s", resultText(t, res))
	}
	if !strings.Contains(resultText(t, res), "smaller batch") {
		t.Errorf("fallback should return the keyword match, got: %s", resultText(t, res))
	}
}

func TestHandleWhatCallsRequiresName(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleWhatCalls(context.Background(), callReq(map[string]any{}))
	if err != nil {
		t.Fatalf("handleWhatCalls: %v", err)
	}
	if !res.IsError {
		t.Error("missing name should produce an error result")
	}
}

func TestHandleBlastRadiusRequiresFile(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleBlastRadius(context.Background(), callReq(map[string]any{
		"depth": float64(2),
	}))
	if err != nil {
		t.Fatalf("handleBlastRadius: %v", err)
	}
	if !res.IsError {
		t.Error("missing file should produce an error result")
	}
}

func TestHandleBlastRadiusEmptyGraph(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleBlastRadius(context.Background(), callReq(map[string]any{
		"file": "src/nothing.ts",
	}))
	if err != nil {
		t.Fatalf("handleBlastRadius: %v", err)
	}
	if res.IsError {
		t.Fatalf("empty graph should not error: %s", resultText(t, res))
	}
}

func TestHandleSummaryEmptyGraph(t *testing.T) {
	s := newTestServer(t)

	res, err := s.handleSummary(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handleSummary: %v", err)
	}
	if res.IsError {
		t.Fatalf("summary failed: %s", resultText(t, res))
	}

	var sum struct {
		TotalEntities int `json:"total_entities"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &sum); err != nil {
		t.Fatalf("summary is not JSON: %v", err)
	}
	if sum.TotalEntities != 0 {
		t.Errorf("empty graph has %d entities, want 0", sum.TotalEntities)
	}
}
