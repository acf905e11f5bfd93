package cmd

import (
	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/mcp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the query surface over MCP on stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing the
knowledge-base query tools (ck_search, ck_what_calls, ck_blast_radius,
ck_summary) for agent use.`,
	RunE: runServe,
}

var serveTools []string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringArrayVar(&serveTools, "tool", nil, "Tool to expose (repeatable; default: all)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	path := dbPath
	if path == "" {
		path = cfg.Database.Path
	}

	srv, err := mcp.New(mcp.Config{
		DBPath:   path,
		Embedder: newEmbedder(cfg),
		Tools:    serveTools,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.ServeStdio()
}
