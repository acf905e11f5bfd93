package parser

import (
	"strings"
	"testing"
)

func TestLanguageForFile(t *testing.T) {
	cases := map[string]Language{
		"src/app.ts":      TypeScript,
		"src/App.tsx":     TSX,
		"src/Widget.vue":  Vue,
		"src/readme.md":   "",
		"src/legacy.js":   "",
		"src/types.d.TS":  TypeScript,
	}
	for path, want := range cases {
		if got := LanguageForFile(path); got != want {
			t.Errorf("LanguageForFile(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseTypeScript(t *testing.T) {
	p, err := New(TypeScript)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	defer p.Close()

	result, err := p.Parse([]byte("export function greet(name: string): string { return name; }"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer result.Close()

	if result.HasErrors() {
		t.Error("unexpected syntax errors")
	}
	funcs := result.FindNodesByType("function_declaration")
	if len(funcs) != 1 {
		t.Fatalf("expected 1 function_declaration, got %d", len(funcs))
	}
	name := result.NodeText(funcs[0].ChildByFieldName("name"))
	if name != "greet" {
		t.Errorf("expected function name greet, got %q", name)
	}
}

func TestSplitSFCPreservesLineNumbers(t *testing.T) {
	src := []byte("<template>\n  <div/>\n</template>\n<script lang=\"ts\">\nexport function f() {}\n</script>\n")

	script, _, err := SplitSFC(src)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(script) != len(src) {
		t.Fatalf("script length %d != source length %d", len(script), len(src))
	}

	lines := strings.Split(string(script), "\n")
	if !strings.Contains(lines[4], "export function f() {}") {
		t.Errorf("expected script content on line 5, got %q", lines[4])
	}
	if strings.Contains(lines[0], "template") {
		t.Errorf("expected template markup blanked, got %q", lines[0])
	}
}

func TestSplitSFCScriptSetup(t *testing.T) {
	src := []byte("<script setup lang=\"ts\">\nconst x = 1\n</script>\n<template><div/></template>\n")

	_, tmpl, err := SplitSFC(src)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if tmpl == nil {
		t.Fatal("expected template block")
	}
	if !tmpl.ScriptSetup {
		t.Error("expected ScriptSetup to be detected")
	}
}

func TestVueTemplateComponents(t *testing.T) {
	tmpl := &VueTemplate{
		Content:   "\n  <div>\n    <UserCard :id=\"id\" />\n    <status-badge/>\n    <span>plain</span>\n  </div>\n",
		StartLine: 2,
	}

	uses := tmpl.Components()
	if len(uses) != 2 {
		t.Fatalf("expected 2 components, got %d: %+v", len(uses), uses)
	}
	if uses[0].Name != "UserCard" {
		t.Errorf("expected UserCard, got %q", uses[0].Name)
	}
	if uses[1].Name != "StatusBadge" {
		t.Errorf("expected kebab tag normalized to StatusBadge, got %q", uses[1].Name)
	}
	if uses[0].Line != 4 {
		t.Errorf("expected UserCard on line 4, got %d", uses[0].Line)
	}
}

func TestParseVueFile(t *testing.T) {
	p, err := New(Vue)
	if err != nil {
		t.Fatalf("new parser: %v", err)
	}
	defer p.Close()

	src := []byte("<template>\n  <HelloChild/>\n</template>\n<script lang=\"ts\">\nexport function setup() {}\n</script>\n")
	result, err := p.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	defer result.Close()

	if result.Template == nil {
		t.Fatal("expected template block")
	}
	funcs := result.FindNodesByType("function_declaration")
	if len(funcs) != 1 {
		t.Fatalf("expected 1 function in script block, got %d", len(funcs))
	}
	if line := funcs[0].StartPoint().Row + 1; line != 5 {
		t.Errorf("expected function on line 5 of the .vue file, got %d", line)
	}
}
