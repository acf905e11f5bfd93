package cmd

import (
	"reflect"
	"testing"

	"github.com/anthropics/claude-knowledge/internal/graph"
)

func TestDiffFileIndex(t *testing.T) {
	index := map[string]graph.FileState{
		"src/a.ts": {FilePath: "src/a.ts", MtimeMs: 100},
		"src/b.ts": {FilePath: "src/b.ts", MtimeMs: 200},
		"src/c.ts": {FilePath: "src/c.ts", MtimeMs: 300},
	}
	updates := []graph.FileUpdate{
		{Path: "src/a.ts", MtimeMs: 100}, // unchanged
		{Path: "src/b.ts", MtimeMs: 250}, // touched
		{Path: "src/d.ts", MtimeMs: 400}, // new
	}

	changed, deleted := diffFileIndex(index, updates)

	wantChanged := []graph.FileUpdate{
		{Path: "src/b.ts", MtimeMs: 250},
		{Path: "src/d.ts", MtimeMs: 400},
	}
	if !reflect.DeepEqual(changed, wantChanged) {
		t.Errorf("changed = %v, want %v", changed, wantChanged)
	}
	if !reflect.DeepEqual(deleted, []string{"src/c.ts"}) {
		t.Errorf("deleted = %v, want [src/c.ts]", deleted)
	}
}

func TestDiffFileIndexEmpty(t *testing.T) {
	changed, deleted := diffFileIndex(nil, nil)
	if len(changed) != 0 || len(deleted) != 0 {
		t.Errorf("empty diff produced changed=%v deleted=%v", changed, deleted)
	}
}
