// Package cmd contains all CLI commands for ck.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/anthropics/claude-knowledge/internal/config"
	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/store"
)

var (
	// Version is the current version of ck
	Version = "0.1.0"

	// Global flags
	verbose    bool
	jsonOutput bool
	dbPath     string
	forAgents  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ck",
	Short: "Local engineering-knowledge engine",
	Long: `ck maintains a persistent knowledge base for a codebase: a code graph
built from TypeScript/Vue sources, captured learnings with embedding-backed
search, indexed documentation, and durable workflow checkpoints.

Everything lives in one SQLite file (default .claude/execution-state.db).

Main capabilities:
  - Parse a package into a code graph and query it (callers, dependencies,
    blast radius)
  - Store and retrieve learnings, patterns, and mistakes
  - Index Markdown docs into searchable sections
  - Track workflow and milestone state across sessions
  - Run session-start/session-end hooks that inject and capture knowledge
  - Serve the query surface over MCP for agent use

Every command exits 0 on success and nonzero with a one-line error on
failure. Use --json for a single machine-readable object on stdout.

See 'ck <command> --help' for command-specific options.`,
	Version: Version,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Emit a single JSON object instead of prose")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: .ck config or .claude/execution-state.db)")
	rootCmd.Flags().BoolVar(&forAgents, "for-agents", false, "Output machine-readable capability discovery JSON")

	// Set custom help function to intercept --for-agents flag
	originalHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if forAgents {
			outputAgentHelp(cmd)
			return
		}
		originalHelp(cmd, args)
	})
}

// CommandInfo represents a command for agent discovery
type CommandInfo struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Usage       string        `json:"usage"`
	Flags       []FlagInfo    `json:"flags,omitempty"`
	Subcommands []CommandInfo `json:"subcommands,omitempty"`
}

// FlagInfo represents a command flag for agent discovery
type FlagInfo struct {
	Name        string `json:"name"`
	Shorthand   string `json:"shorthand,omitempty"`
	Description string `json:"description"`
	Type        string `json:"type"`
	Default     string `json:"default,omitempty"`
}

// outputAgentHelp outputs machine-readable JSON describing all commands
func outputAgentHelp(cmd *cobra.Command) {
	root := buildCommandInfo(cmd.Root())

	output := map[string]interface{}{
		"version":      Version,
		"commands":     root.Subcommands,
		"global_flags": root.Flags,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(output)
}

// buildCommandInfo recursively builds command information for agent discovery
func buildCommandInfo(cmd *cobra.Command) CommandInfo {
	info := CommandInfo{
		Name:        cmd.Name(),
		Description: cmd.Short,
		Usage:       cmd.UseLine(),
	}

	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		info.Flags = append(info.Flags, FlagInfo{
			Name:        f.Name,
			Shorthand:   f.Shorthand,
			Description: f.Usage,
			Type:        f.Value.Type(),
			Default:     f.DefValue,
		})
	})

	for _, sub := range cmd.Commands() {
		if !sub.Hidden {
			info.Subcommands = append(info.Subcommands, buildCommandInfo(sub))
		}
	}

	return info
}

// loadConfig reads .ck/config.yaml from the working directory, falling back
// to defaults on any load failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(".")
	if err != nil {
		return config.DefaultConfig()
	}
	return cfg
}

// openStore opens the configured database, honoring the --db override.
func openStore() (*store.Store, error) {
	path := dbPath
	if path == "" {
		path = loadConfig().Database.Path
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return s, nil
}

// newEmbedder builds the configured embedder. Returns nil for provider
// "none"; callers treat nil as structured-only mode.
func newEmbedder(cfg *config.Config) embeddings.Embedder {
	switch cfg.Embeddings.Provider {
	case "hash":
		return embeddings.NewHashEmbedder(cfg.Embeddings.Dimensions)
	case "none":
		return nil
	default:
		return embeddings.NewOllamaEmbedderWithConfig(
			cfg.Embeddings.Endpoint, cfg.Embeddings.Model, cfg.Embeddings.Dimensions)
	}
}

// newLogger builds the CLI logger. Warnings and above go to stderr; verbose
// mode includes info.
func newLogger() *zap.Logger {
	level := zap.WarnLevel
	if verbose {
		level = zap.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// printJSON writes v as one indented JSON object to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
