package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/extract"
	"github.com/anthropics/claude-knowledge/internal/graph"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build and query the code graph",
	Long:  `Parse a TypeScript/Vue package into the code graph and run structural queries over it.`,
}

var graphParseCmd = &cobra.Command{
	Use:   "parse [dir]",
	Short: "Parse a package into the code graph",
	Long: `Parse the TypeScript and Vue sources under dir (default .) and store the
resulting entities and relationships.

With --incremental, only files whose modification time changed since the
last parse are reparsed, and entities of deleted files are removed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraphParse,
}

var graphWhatCallsCmd = &cobra.Command{
	Use:   "what-calls <name>",
	Short: "List callers of entities matching a name",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhatCalls,
}

var graphWhatDependsCmd = &cobra.Command{
	Use:   "what-depends-on <name>",
	Short: "List entities that depend on a name (imports, extends, implements, calls)",
	Args:  cobra.ExactArgs(1),
	RunE:  runWhatDependsOn,
}

var graphBlastRadiusCmd = &cobra.Command{
	Use:   "blast-radius <file>",
	Short: "Show which entities a change to a file could affect",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlastRadius,
}

var graphFindCmd = &cobra.Command{
	Use:   "find <pattern>",
	Short: "Find code entities by name pattern",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphFind,
}

var graphExportsCmd = &cobra.Command{
	Use:   "exports <package>",
	Short: "List the exported entities of a package",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphExports,
}

var graphCallersCmd = &cobra.Command{
	Use:   "callers <name>",
	Short: "List callers of a function by exact name",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphCallers,
}

var graphSummaryCmd = &cobra.Command{
	Use:   "summary [package]",
	Short: "Summarize the code graph",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraphSummary,
}

var (
	parsePackage     string
	parseIncremental bool
	parseQuiet       bool
	blastDepth       int
	graphFindKind    string
	graphFindLimit   int
)

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphParseCmd)
	graphCmd.AddCommand(graphWhatCallsCmd)
	graphCmd.AddCommand(graphWhatDependsCmd)
	graphCmd.AddCommand(graphBlastRadiusCmd)
	graphCmd.AddCommand(graphFindCmd)
	graphCmd.AddCommand(graphExportsCmd)
	graphCmd.AddCommand(graphCallersCmd)
	graphCmd.AddCommand(graphSummaryCmd)

	graphParseCmd.Flags().StringVar(&parsePackage, "package", "", "Package name (default: directory base name)")
	graphParseCmd.Flags().BoolVar(&parseIncremental, "incremental", false, "Reparse only changed files")
	graphParseCmd.Flags().BoolVar(&parseQuiet, "quiet", false, "Suppress per-file progress output")

	graphBlastRadiusCmd.Flags().IntVar(&blastDepth, "depth", graph.DefaultBlastDepth, "Maximum traversal depth")
	graphFindCmd.Flags().StringVar(&graphFindKind, "kind", "", "Filter by entity kind (function|class|interface|type|variable|enum|file)")
	graphFindCmd.Flags().IntVar(&graphFindLimit, "limit", graph.DefaultFindLimit, "Maximum results")
}

func runGraphParse(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	pkg := parsePackage
	if pkg == "" {
		abs, err := filepath.Abs(root)
		if err != nil {
			return err
		}
		pkg = filepath.Base(abs)
	}

	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	gstore := graph.NewStore(db, nil)
	ctx := cmd.Context()

	current, err := extract.ListFiles(root)
	if err != nil {
		return fmt.Errorf("list source files: %w", err)
	}
	updates, err := fileUpdates(root, current)
	if err != nil {
		return err
	}

	var (
		res     *extract.Result
		deleted []string
	)
	if parseIncremental {
		index, err := gstore.FileIndex(ctx, pkg)
		if err != nil {
			return err
		}
		var changed []graph.FileUpdate
		changed, deleted = diffFileIndex(index, updates)

		if len(changed) == 0 && len(deleted) == 0 {
			if jsonOutput {
				return printJSON(map[string]any{"package": pkg, "changed": 0, "deleted": 0})
			}
			if !parseQuiet {
				fmt.Println("Nothing to do: no files changed")
			}
			return nil
		}

		// An unchanged-file mtime makes reparsing it a no-op, so only the
		// changed subset is parsed.
		res = &extract.Result{Package: pkg}
		if len(changed) > 0 {
			files := make([]string, len(changed))
			for i, u := range changed {
				files[i] = u.Path
			}
			res, err = extract.Parse(ctx, extract.Options{Root: root, Package: pkg, Files: files})
			if err != nil {
				return fmt.Errorf("parse: %w", err)
			}
		}
		if err := gstore.StoreIncremental(ctx, res, changed, deleted); err != nil {
			return fmt.Errorf("store graph: %w", err)
		}
	} else {
		res, err = extract.Parse(ctx, extract.Options{Root: root, Package: pkg})
		if err != nil {
			return fmt.Errorf("parse: %w", err)
		}
		if err := gstore.StoreFull(ctx, res, updates); err != nil {
			return fmt.Errorf("store graph: %w", err)
		}
	}

	// JSDoc-bearing entities become searchable CodeDoc rows. Best effort:
	// a missing embedder leaves the code graph intact.
	backfilled := 0
	if emb := newEmbedder(loadConfig()); emb != nil {
		defer emb.Close()
		if n, err := gstore.BackfillCodeDocs(ctx, emb, res.Entities); err == nil {
			backfilled = n
		} else if !parseQuiet {
			fmt.Fprintf(os.Stderr, "warning: code doc backfill failed: %v\n", err)
		}
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"package":       pkg,
			"stats":         res.Stats,
			"deleted_files": len(deleted),
			"code_docs":     backfilled,
		})
	}
	fmt.Printf("Parsed %d files (%d skipped) into package %q\n",
		res.Stats.FilesParsed, res.Stats.FilesSkipped, pkg)
	fmt.Printf("Entities: %d  Relationships: %d\n", len(res.Entities), len(res.Relationships))
	if len(deleted) > 0 {
		fmt.Printf("Removed %d deleted files\n", len(deleted))
	}
	if backfilled > 0 {
		fmt.Printf("Indexed %d code docs\n", backfilled)
	}
	return nil
}

// diffFileIndex compares the stored file index with the current on-disk
// state. New or touched files are changed; indexed files no longer present
// are deleted.
func diffFileIndex(index map[string]graph.FileState, updates []graph.FileUpdate) (changed []graph.FileUpdate, deleted []string) {
	present := make(map[string]bool, len(updates))
	for _, u := range updates {
		present[u.Path] = true
		if prev, ok := index[u.Path]; ok && prev.MtimeMs == u.MtimeMs {
			continue
		}
		changed = append(changed, u)
	}
	for path := range index {
		if !present[path] {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	return changed, deleted
}

// fileUpdates stats each file and pairs it with its mtime in milliseconds.
func fileUpdates(root string, files []string) ([]graph.FileUpdate, error) {
	updates := make([]graph.FileUpdate, 0, len(files))
	for _, f := range files {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(f)))
		if err != nil {
			continue
		}
		updates = append(updates, graph.FileUpdate{Path: f, MtimeMs: info.ModTime().UnixMilli()})
	}
	return updates, nil
}

func runWhatCalls(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := graph.NewQuery(db).WhatCalls(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printEntityRows(rows, fmt.Sprintf("Callers of %q", args[0]))
}

func runWhatDependsOn(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	deps, err := graph.NewQuery(db).WhatDependsOn(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(deps)
	}
	if len(deps) == 0 {
		fmt.Printf("Nothing depends on %q\n", args[0])
		return nil
	}
	fmt.Printf("Dependents of %q:\n", args[0])
	for _, d := range deps {
		fmt.Printf("  %-10s %s %s (%s:%d)\n", d.RelType, d.Kind, d.Name, d.FilePath, d.Line)
	}
	return nil
}

func runBlastRadius(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	impacts, err := graph.NewQuery(db).BlastRadius(cmd.Context(), args[0], blastDepth)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(impacts)
	}
	if len(impacts) == 0 {
		fmt.Printf("No entities match %q\n", args[0])
		return nil
	}
	fmt.Printf("Blast radius of %q (depth %d):\n", args[0], blastDepth)
	for _, im := range impacts {
		fmt.Printf("  [%d] %s %s (%s:%d)\n", im.Depth, im.Kind, im.Name, im.FilePath, im.Line)
	}
	return nil
}

func runGraphFind(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := graph.NewQuery(db).FindEntities(cmd.Context(), args[0], graphFindKind, graphFindLimit)
	if err != nil {
		return err
	}
	return printEntityRows(rows, fmt.Sprintf("Entities matching %q", args[0]))
}

func runGraphExports(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := graph.NewQuery(db).GetExports(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printEntityRows(rows, fmt.Sprintf("Exports of package %q", args[0]))
}

func runGraphCallers(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	rows, err := graph.NewQuery(db).GetCallers(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printEntityRows(rows, fmt.Sprintf("Callers of %q", args[0]))
}

func runGraphSummary(cmd *cobra.Command, args []string) error {
	pkg := ""
	if len(args) > 0 {
		pkg = args[0]
	}
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	sum, err := graph.NewQuery(db).GetSummary(cmd.Context(), pkg)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sum)
	}
	fmt.Printf("Entities: %d  Relationships: %d\n", sum.TotalEntities, sum.TotalRelationships)
	fmt.Println("By kind:")
	for kind, n := range sum.EntitiesByKind {
		fmt.Printf("  %-10s %d\n", kind, n)
	}
	fmt.Println("Relationships:")
	for kind, n := range sum.RelationshipsByKind {
		fmt.Printf("  %-10s %d\n", kind, n)
	}
	if len(sum.EntitiesByPackage) > 1 {
		fmt.Println("By package:")
		for p, n := range sum.EntitiesByPackage {
			fmt.Printf("  %-20s %d\n", p, n)
		}
	}
	return nil
}

func printEntityRows(rows []graph.EntityRow, heading string) error {
	if jsonOutput {
		return printJSON(rows)
	}
	if len(rows) == 0 {
		fmt.Println("No results")
		return nil
	}
	fmt.Printf("%s:\n", heading)
	for _, r := range rows {
		fmt.Printf("  %s %s (%s:%d)\n", r.Kind, r.Name, r.FilePath, r.Line)
	}
	return nil
}
