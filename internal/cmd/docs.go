package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/docs"
)

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Index and search documentation",
}

var docsIndexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Index Markdown documentation under a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDocsIndex,
}

var docsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which files are in the doc index",
	RunE:  runDocsStatus,
}

var docsCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove index entries for files that no longer exist",
	RunE:  runDocsClean,
}

var docsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search indexed documentation by similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsSearch,
}

var docsForCodeCmd = &cobra.Command{
	Use:   "for-code <entity-id>",
	Short: "Show documentation linked to a code entity",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsForCode,
}

var docsIndexExternalCmd = &cobra.Command{
	Use:   "index-external <file>",
	Short: "Index an external specification file with a version tag",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocsIndexExternal,
}

var (
	docsForce       bool
	docsLimit       int
	docsSpecVersion string
)

func init() {
	rootCmd.AddCommand(docsCmd)
	docsCmd.AddCommand(docsIndexCmd)
	docsCmd.AddCommand(docsStatusCmd)
	docsCmd.AddCommand(docsCleanCmd)
	docsCmd.AddCommand(docsSearchCmd)
	docsCmd.AddCommand(docsForCodeCmd)
	docsCmd.AddCommand(docsIndexExternalCmd)

	docsIndexCmd.Flags().BoolVar(&docsForce, "force", false, "Reindex even when content is unchanged")
	docsSearchCmd.Flags().IntVar(&docsLimit, "limit", 5, "Maximum results")
	docsIndexExternalCmd.Flags().StringVar(&docsSpecVersion, "spec-version", "", "Version tag for the specification")
}

// openIndexer opens the store plus the configured embedder.
func openIndexer() (*docs.Indexer, func(), error) {
	db, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	emb := newEmbedder(loadConfig())
	cleanup := func() {
		if emb != nil {
			emb.Close()
		}
		db.Close()
	}
	return docs.NewIndexer(db, emb, nil), cleanup, nil
}

func runDocsIndex(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	include := loadConfig().Docs.Include
	var results []docs.IndexResult
	if docsForce {
		results, err = ix.IndexDirForce(cmd.Context(), root, include...)
	} else {
		results, err = ix.IndexDir(cmd.Context(), root, include...)
	}
	if err != nil {
		return err
	}

	indexed, unchanged := 0, 0
	for _, r := range results {
		switch r.Status {
		case docs.StatusIndexed:
			indexed++
		case docs.StatusUnchanged:
			unchanged++
		}
	}
	if jsonOutput {
		return printJSON(map[string]any{"indexed": indexed, "unchanged": unchanged})
	}
	fmt.Printf("Indexed %d files (%d unchanged)\n", indexed, unchanged)
	return nil
}

func runDocsStatus(cmd *cobra.Command, args []string) error {
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := ix.Status(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(status)
	}
	if len(status) == 0 {
		fmt.Println("Doc index is empty")
		return nil
	}
	for path, at := range status {
		fmt.Printf("  %-50s %s\n", path, at)
	}
	return nil
}

func runDocsClean(cmd *cobra.Command, args []string) error {
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	removed, err := ix.Clean(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"removed": removed})
	}
	if len(removed) == 0 {
		fmt.Println("Nothing to clean")
		return nil
	}
	for _, path := range removed {
		fmt.Printf("Removed %s\n", path)
	}
	return nil
}

func runDocsSearch(cmd *cobra.Command, args []string) error {
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	hits, err := ix.Search(cmd.Context(), args[0], docsLimit)
	if err != nil {
		return err
	}
	return printDocHits(hits)
}

func runDocsForCode(cmd *cobra.Command, args []string) error {
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	hits, err := ix.ForCode(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return printDocHits(hits)
}

func runDocsIndexExternal(cmd *cobra.Command, args []string) error {
	ix, cleanup, err := openIndexer()
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := ix.IndexFile(cmd.Context(), args[0], docs.IndexOptions{
		Force:       true,
		SpecVersion: docsSpecVersion,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(res)
	}
	fmt.Printf("Indexed %s: %d sections", res.FilePath, res.SectionsIndexed)
	if docsSpecVersion != "" {
		fmt.Printf(" (spec %s, api %s)", docsSpecVersion, docs.APIVersion(docsSpecVersion))
	}
	fmt.Println()
	return nil
}

func printDocHits(hits []docs.Hit) error {
	if jsonOutput {
		return printJSON(hits)
	}
	if len(hits) == 0 {
		fmt.Println("No results")
		return nil
	}
	for _, h := range hits {
		fmt.Printf("[%.3f] %s", h.Score, h.Heading)
		if h.FilePath != "" {
			fmt.Printf(" (%s)", h.FilePath)
		}
		fmt.Println()
	}
	return nil
}
