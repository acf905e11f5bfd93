package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/embeddings"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
)

var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Store and retrieve learnings, patterns, and mistakes",
}

var knowStoreLearningCmd = &cobra.Command{
	Use:   "store-learning <content>",
	Short: "Store a learning",
	Args:  cobra.ExactArgs(1),
	RunE:  runStoreLearning,
}

var knowStorePatternCmd = &cobra.Command{
	Use:   "store-pattern <name> <description>",
	Short: "Store a named pattern",
	Args:  cobra.ExactArgs(2),
	RunE:  runStorePattern,
}

var knowStoreMistakeCmd = &cobra.Command{
	Use:   "store-mistake <description> <how-fixed>",
	Short: "Store a mistake and its fix",
	Args:  cobra.ExactArgs(2),
	RunE:  runStoreMistake,
}

var knowQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query learnings with structured filters",
	RunE:  runKnowledgeQuery,
}

var knowSearchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search learnings by similarity",
	Args:  cobra.ExactArgs(1),
	RunE:  runKnowledgeSearch,
}

var knowListAreasCmd = &cobra.Command{
	Use:   "list-areas",
	Short: "List code areas and their learning counts",
	RunE:  runListAreas,
}

var knowListFilesCmd = &cobra.Command{
	Use:   "list-files",
	Short: "List files and their learning counts",
	RunE:  runListFiles,
}

var knowStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show knowledge-base entity counts",
	RunE:  runKnowledgeStats,
}

var (
	knowCodeArea   string
	knowFilePath   string
	knowIssue      int
	knowConfidence float64
	knowKeywords   []string
	knowLimit      int
	knowThreshold  float64
	knowRelated    bool
)

func init() {
	rootCmd.AddCommand(knowledgeCmd)
	knowledgeCmd.AddCommand(knowStoreLearningCmd)
	knowledgeCmd.AddCommand(knowStorePatternCmd)
	knowledgeCmd.AddCommand(knowStoreMistakeCmd)
	knowledgeCmd.AddCommand(knowQueryCmd)
	knowledgeCmd.AddCommand(knowSearchCmd)
	knowledgeCmd.AddCommand(knowListAreasCmd)
	knowledgeCmd.AddCommand(knowListFilesCmd)
	knowledgeCmd.AddCommand(knowStatsCmd)

	knowStoreLearningCmd.Flags().StringVar(&knowCodeArea, "code-area", "", "Code area the learning applies to")
	knowStoreLearningCmd.Flags().StringVar(&knowFilePath, "file", "", "File path the learning applies to")
	knowStoreLearningCmd.Flags().IntVar(&knowIssue, "issue", 0, "Source issue number")
	knowStoreLearningCmd.Flags().Float64Var(&knowConfidence, "confidence", 0, "Confidence in [0,1]")

	knowStorePatternCmd.Flags().StringVar(&knowCodeArea, "code-area", "", "Code area the pattern applies to")
	knowStoreMistakeCmd.Flags().StringVar(&knowFilePath, "file", "", "File path the mistake occurred in")

	knowQueryCmd.Flags().StringVar(&knowCodeArea, "code-area", "", "Filter by code area")
	knowQueryCmd.Flags().StringVar(&knowFilePath, "file", "", "Filter by file path")
	knowQueryCmd.Flags().IntVar(&knowIssue, "issue", 0, "Filter by source issue")
	knowQueryCmd.Flags().StringArrayVar(&knowKeywords, "keyword", nil, "Keyword filter (repeatable, all must match)")
	knowQueryCmd.Flags().IntVar(&knowLimit, "limit", 20, "Maximum results")

	knowSearchCmd.Flags().StringVar(&knowCodeArea, "code-area", "", "Filter by code area")
	knowSearchCmd.Flags().StringVar(&knowFilePath, "file", "", "Filter by file path")
	knowSearchCmd.Flags().IntVar(&knowLimit, "limit", 5, "Maximum results")
	knowSearchCmd.Flags().Float64Var(&knowThreshold, "threshold", 0, "Minimum similarity score")
	knowSearchCmd.Flags().BoolVar(&knowRelated, "related", false, "Attach related patterns and mistakes")
}

// openKnowledge opens the store plus the configured embedder.
func openKnowledge() (*knowledge.Knowledge, func(), error) {
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
	return knowledge.New(db, emb, nil), cleanup, nil
}

func runStoreLearning(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	l := knowledge.Learning{
		Content:     args[0],
		CodeArea:    knowCodeArea,
		FilePath:    knowFilePath,
		SourceIssue: knowIssue,
		Confidence:  knowConfidence,
	}
	if err := know.StoreLearnings(cmd.Context(), []knowledge.Learning{l}); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"stored": 1})
	}
	fmt.Println("Learning stored")
	return nil
}

func runStorePattern(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	p := knowledge.Pattern{Name: args[0], Description: args[1], CodeArea: knowCodeArea}
	if err := know.StorePattern(cmd.Context(), p); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"stored": 1})
	}
	fmt.Printf("Pattern %q stored\n", p.Name)
	return nil
}

func runStoreMistake(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	m := knowledge.Mistake{Description: args[0], HowFixed: args[1], FilePath: knowFilePath}
	if err := know.StoreMistake(cmd.Context(), m); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"stored": 1})
	}
	fmt.Println("Mistake stored")
	return nil
}

func runKnowledgeQuery(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	learnings, err := know.Query(cmd.Context(), knowledge.Filter{
		CodeArea:    knowCodeArea,
		FilePath:    knowFilePath,
		Keywords:    knowKeywords,
		IssueNumber: knowIssue,
		Limit:       knowLimit,
	})
	if err != nil {
		return err
	}
	return printLearnings(learnings)
}

func runKnowledgeSearch(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := know.SearchSimilar(cmd.Context(), args[0], knowledge.SearchOptions{
		Limit:          knowLimit,
		Threshold:      knowThreshold,
		CodeArea:       knowCodeArea,
		FilePath:       knowFilePath,
		IncludeRelated: knowRelated,
	})
	if errors.Is(err, embeddings.ErrUnavailable) {
		return fmt.Errorf("embedder unavailable; use 'ck knowledge query' for structured search")
	}
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(results)
	}
	if len(results) == 0 {
		fmt.Println("No results")
		return nil
	}
	for _, r := range results {
		fmt.Printf("[%.3f] %s", r.Score, r.Learning.Content)
		if r.Learning.CodeArea != "" {
			fmt.Printf(" (area: %s)", r.Learning.CodeArea)
		}
		fmt.Println()
		for _, p := range r.RelatedPatterns {
			fmt.Printf("    pattern: %s\n", p.Name)
		}
		for _, m := range r.RelatedMistakes {
			fmt.Printf("    mistake: %s\n", m.Description)
		}
	}
	return nil
}

func runListAreas(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	areas, err := know.ListAreas(cmd.Context())
	if err != nil {
		return err
	}
	return printCounts(areas, "No code areas recorded")
}

func runListFiles(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	files, err := know.ListFiles(cmd.Context())
	if err != nil {
		return err
	}
	return printCounts(files, "No files recorded")
}

func runKnowledgeStats(cmd *cobra.Command, args []string) error {
	know, cleanup, err := openKnowledge()
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := know.Stats(cmd.Context())
	if err != nil {
		return err
	}
	return printCounts(stats, "Knowledge base is empty")
}

func printLearnings(learnings []knowledge.Learning) error {
	if jsonOutput {
		return printJSON(learnings)
	}
	if len(learnings) == 0 {
		fmt.Println("No results")
		return nil
	}
	for _, l := range learnings {
		fmt.Printf("- %s", l.Content)
		if l.CodeArea != "" {
			fmt.Printf(" (area: %s)", l.CodeArea)
		}
		if l.FilePath != "" {
			fmt.Printf(" (%s)", l.FilePath)
		}
		fmt.Println()
	}
	return nil
}

func printCounts(counts map[string]int, empty string) error {
	if jsonOutput {
		return printJSON(counts)
	}
	if len(counts) == 0 {
		fmt.Println(empty)
		return nil
	}
	for name, n := range counts {
		fmt.Printf("  %-30s %d\n", name, n)
	}
	return nil
}
