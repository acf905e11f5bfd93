// Package mcp exposes the knowledge engine over the Model Context Protocol
// so agents can query the code graph and knowledge base without shelling out
// to the CLI.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/graph"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
	"github.com/anthropics/claude-knowledge/internal/store"
)

// DefaultTools is the set of tools registered when none are named.
var DefaultTools = []string{"ck_search", "ck_what_calls", "ck_blast_radius", "ck_summary"}

// Server wraps an MCP server over an open store.
type Server struct {
	mcpServer *server.MCPServer
	store     *store.Store
	query     *graph.Query
	know      *knowledge.Knowledge
}

// Config holds server construction options.
type Config struct {
	DBPath   string
	Embedder embeddings.Embedder
	Tools    []string
}

// New opens the store and registers the requested tools.
func New(cfg Config) (*Server, error) {
	path := cfg.DBPath
	if path == "" {
		path = store.DefaultDBPath
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	s := &Server{
		mcpServer: server.NewMCPServer("claude-knowledge", "1.0.0", server.WithToolCapabilities(false)),
		store:     db,
		query:     graph.NewQuery(db),
		know:      knowledge.New(db, cfg.Embedder, nil),
	}

	tools := cfg.Tools
	if len(tools) == 0 {
		tools = DefaultTools
	}
	for _, name := range tools {
		if err := s.registerTool(name); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) registerTool(name string) error {
	switch name {
	case "ck_search":
		s.registerSearchTool()
	case "ck_what_calls":
		s.registerWhatCallsTool()
	case "ck_blast_radius":
		s.registerBlastRadiusTool()
	case "ck_summary":
		s.registerSummaryTool()
	default:
		return fmt.Errorf("unknown tool: %s", name)
	}
	return nil
}

// ServeStdio starts the server on the stdio transport.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close releases the store.
func (s *Server) Close() error {
	return s.store.Close()
}

func (s *Server) registerSearchTool() {
	tool := mcp.NewTool("ck_search",
		mcp.WithDescription("Search stored learnings by similarity, with optional code-area filter."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text to search for"),
		),
		mcp.WithString("code_area",
			mcp.Description("Restrict to one code area"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default: 5)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleSearch)
}

func (s *Server) registerWhatCallsTool() {
	tool := mcp.NewTool("ck_what_calls",
		mcp.WithDescription("List the callers of entities whose name matches a pattern."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Entity name or fragment"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleWhatCalls)
}

func (s *Server) registerBlastRadiusTool() {
	tool := mcp.NewTool("ck_blast_radius",
		mcp.WithDescription("Compute which entities a change to a file could affect, with depth."),
		mcp.WithString("file",
			mcp.Required(),
			mcp.Description("File path or fragment"),
		),
		mcp.WithNumber("depth",
			mcp.Description("Maximum traversal depth (default: 5)"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleBlastRadius)
}

func (s *Server) registerSummaryTool() {
	tool := mcp.NewTool("ck_summary",
		mcp.WithDescription("Summarize the code graph: entity and relationship counts by kind and package."),
		mcp.WithString("package",
			mcp.Description("Restrict to one package"),
		),
	)
	s.mcpServer.AddTool(tool, s.handleSummary)
}

// Tool handlers

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return mcp.NewToolResultError("query parameter is required"), nil
	}
	area, _ := args["code_area"].(string)
	limit := 5
	if l, ok := args["limit"].(float64); ok {
		limit = int(l)
	}

	results, err := s.know.SearchSimilar(ctx, query, knowledge.SearchOptions{Limit: limit, CodeArea: area})
	if err != nil {
		// Structured fallback keeps the tool useful without an embedder.
		learnings, qerr := s.know.Query(ctx, knowledge.Filter{
			CodeArea: area,
			Keywords: []string{query},
			Limit:    limit,
		})
		if qerr != nil {
			return mcp.NewToolResultError(qerr.Error()), nil
		}
		return jsonResult(learnings)
	}
	return jsonResult(results)
}

func (s *Server) handleWhatCalls(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, ok := args["name"].(string)
	if !ok || name == "" {
		return mcp.NewToolResultError("name parameter is required"), nil
	}
	callers, err := s.query.WhatCalls(ctx, name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(callers)
}

func (s *Server) handleBlastRadius(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	file, ok := args["file"].(string)
	if !ok || file == "" {
		return mcp.NewToolResultError("file parameter is required"), nil
	}
	depth := graph.DefaultBlastDepth
	if d, ok := args["depth"].(float64); ok {
		depth = int(d)
	}
	impacts, err := s.query.BlastRadius(ctx, file, depth)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(impacts)
}

func (s *Server) handleSummary(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pkg, _ := req.GetArguments()["package"].(string)
	sum, err := s.query.GetSummary(ctx, pkg)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(sum)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
