// Package parser provides tree-sitter based parsing for TypeScript sources
// and Vue single-file components. It exposes the raw AST plus traversal
// helpers; semantic projection into graph entities lives in internal/extract.
package parser

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Language represents a supported source language.
type Language string

const (
	// TypeScript covers .ts sources and extracted Vue script blocks.
	TypeScript Language = "typescript"
	// TSX covers .tsx sources.
	TSX Language = "tsx"
	// Vue covers .vue single-file components.
	Vue Language = "vue"
)

// Parser wraps tree-sitter for source parsing.
type Parser struct {
	parser *sitter.Parser
	lang   Language
}

// Result contains the parsed AST and metadata.
type Result struct {
	// Tree is the complete tree-sitter parse tree.
	Tree *sitter.Tree
	// Root is the root node of the AST.
	Root *sitter.Node
	// Source is the source text that was parsed. For Vue files this is the
	// script block padded so line numbers match the original file.
	Source []byte
	// FilePath is the path to the source file (empty for in-memory parsing).
	FilePath string
	// Language is the language of the source.
	Language Language
	// Template holds the Vue template block, nil for plain TypeScript.
	Template *VueTemplate
}

// New creates a parser for the given language.
func New(lang Language) (*Parser, error) {
	p := sitter.NewParser()
	switch lang {
	case TypeScript, Vue:
		p.SetLanguage(typescript.GetLanguage())
	case TSX:
		p.SetLanguage(tsx.GetLanguage())
	default:
		return nil, &UnsupportedLanguageError{Language: string(lang)}
	}
	return &Parser{parser: p, lang: lang}, nil
}

// LanguageForFile returns the language for a file path, or "" when the file
// is not parseable by this package.
func LanguageForFile(path string) Language {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ts":
		return TypeScript
	case ".tsx":
		return TSX
	case ".vue":
		return Vue
	default:
		return ""
	}
}

// Parse parses source text and returns the AST.
func (p *Parser) Parse(source []byte) (*Result, error) {
	src := source
	var tmpl *VueTemplate
	if p.lang == Vue {
		script, template, err := SplitSFC(source)
		if err != nil {
			return nil, err
		}
		src = script
		tmpl = template
	}

	tree, err := p.parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, &ParseError{Message: err.Error()}
	}

	return &Result{
		Tree:     tree,
		Root:     tree.RootNode(),
		Source:   src,
		Language: p.lang,
		Template: tmpl,
	}, nil
}

// ParseFile parses a file from disk.
func (p *Parser) ParseFile(path string) (*Result, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, &FileReadError{Path: path, Err: err}
	}

	result, err := p.Parse(source)
	if err != nil {
		if pe, ok := err.(*ParseError); ok {
			pe.File = path
		}
		return nil, err
	}

	result.FilePath = path
	return result, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
		p.parser = nil
	}
}

// Close releases the parse tree resources.
func (r *Result) Close() {
	if r.Tree != nil {
		r.Tree.Close()
		r.Tree = nil
		r.Root = nil
	}
}

// HasErrors returns true if the parse tree contains syntax errors.
func (r *Result) HasErrors() bool {
	return r.Root != nil && r.Root.HasError()
}

// WalkNodes traverses the AST depth-first, calling the visitor for each
// node. If the visitor returns false, that node's subtree is skipped.
func (r *Result) WalkNodes(visitor func(*sitter.Node) bool) {
	if r.Root == nil {
		return
	}
	walkNode(r.Root, visitor)
}

func walkNode(node *sitter.Node, visitor func(*sitter.Node) bool) {
	if !visitor(node) {
		return
	}
	for i := uint32(0); i < node.ChildCount(); i++ {
		walkNode(node.Child(int(i)), visitor)
	}
}

// FindNodesByType returns all nodes of the specified type.
func (r *Result) FindNodesByType(nodeType string) []*sitter.Node {
	var nodes []*sitter.Node
	r.WalkNodes(func(node *sitter.Node) bool {
		if node.Type() == nodeType {
			nodes = append(nodes, node)
		}
		return true
	})
	return nodes
}

// NodeText returns the source text for a node.
func (r *Result) NodeText(node *sitter.Node) string {
	if node == nil || r.Source == nil {
		return ""
	}
	if node.EndByte() > uint32(len(r.Source)) {
		return ""
	}
	return node.Content(r.Source)
}
