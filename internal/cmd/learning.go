package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var learningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Extract and query captured learnings",
}

var learningAnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Extract learnings from session transcripts",
	Long: `Run the learning extractor over recent transcripts and commits. The
extractor is supplied by the embedding application; the standalone binary
has none configured.`,
	RunE: runLearningAnalyze,
}

var learningQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query stored learnings (alias for 'knowledge query')",
	RunE:  runKnowledgeQuery,
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the knowledge base from project history",
}

var bootstrapMinePRsCmd = &cobra.Command{
	Use:   "mine-prs [limit]",
	Short: "Mine merged pull requests for learnings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runBootstrapMinePRs,
}

func init() {
	rootCmd.AddCommand(learningCmd)
	rootCmd.AddCommand(bootstrapCmd)
	learningCmd.AddCommand(learningAnalyzeCmd)
	learningCmd.AddCommand(learningQueryCmd)
	bootstrapCmd.AddCommand(bootstrapMinePRsCmd)

	learningQueryCmd.Flags().StringVar(&knowCodeArea, "code-area", "", "Filter by code area")
	learningQueryCmd.Flags().StringVar(&knowFilePath, "file", "", "Filter by file path")
	learningQueryCmd.Flags().IntVar(&knowIssue, "issue", 0, "Filter by source issue")
	learningQueryCmd.Flags().StringArrayVar(&knowKeywords, "keyword", nil, "Keyword filter (repeatable, all must match)")
	learningQueryCmd.Flags().IntVar(&knowLimit, "limit", 20, "Maximum results")
}

func runLearningAnalyze(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("no learning extractor configured; analysis runs through the embedding application")
}

func runBootstrapMinePRs(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("no learning extractor configured; PR mining runs through the embedding application")
}
