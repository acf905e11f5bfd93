package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
	"github.com/anthropics/claude-knowledge/internal/docs"
	"github.com/anthropics/claude-knowledge/internal/graph"
	"github.com/anthropics/claude-knowledge/internal/hooks"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
)

var sessionStartCmd = &cobra.Command{
	Use:   "session-start",
	Short: "Run the session-start hook",
	Long: `Prepare a session: reindex docs, sweep stale workflows, and print a
context block with relevant learnings and the blast radius of modified
files. Writes the session-metadata file the session-end hook correlates
against.`,
	RunE: runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "session-end",
	Short: "Run the session-end hook",
	Long: `Finish a session: hydrate identity from the session-metadata file,
discover transcripts, extract learnings when an extractor is configured,
and record session metrics. External failures never abort the flow.`,
	RunE: runSessionEnd,
}

var (
	ssSessionID string
	ssBranch    string
	ssIssue     int
	ssWorkDir   string
	ssFiles     []string

	seWorkflowID        string
	seSessionID         string
	seIssue             int
	seStartTime         string
	seDryRun            bool
	seCompacted         bool
	seInterrupted       bool
	seReviewFindings    int
	seFilesRead         int
	seLearningsInjected int
	seCommits           []string
	seModifiedFiles     []string
)

func init() {
	rootCmd.AddCommand(sessionStartCmd)
	rootCmd.AddCommand(sessionEndCmd)

	sessionStartCmd.Flags().StringVar(&ssSessionID, "session-id", "", "Session identifier (default: generated)")
	sessionStartCmd.Flags().StringVar(&ssBranch, "branch", "", "Current branch")
	sessionStartCmd.Flags().IntVar(&ssIssue, "issue", 0, "Issue number being worked")
	sessionStartCmd.Flags().StringVar(&ssWorkDir, "dir", ".", "Working directory for doc indexing")
	sessionStartCmd.Flags().StringArrayVar(&ssFiles, "file", nil, "Modified file (repeatable)")

	sessionEndCmd.Flags().BoolVar(&seDryRun, "dry-run", false, "Report readiness without writing anything")
	sessionEndCmd.Flags().StringVar(&seWorkflowID, "workflow-id", "", "Workflow the session worked on")
	sessionEndCmd.Flags().StringVar(&seSessionID, "session-id", "", "Session identifier (default: from metadata file)")
	sessionEndCmd.Flags().IntVar(&seIssue, "issue", 0, "Issue number worked (default: from metadata file)")
	sessionEndCmd.Flags().StringVar(&seStartTime, "start-time", "", "Session start time, RFC 3339 (default: from metadata file)")
	sessionEndCmd.Flags().BoolVar(&seCompacted, "compacted", false, "Session context was compacted")
	sessionEndCmd.Flags().BoolVar(&seInterrupted, "interrupted", false, "Session was interrupted")
	sessionEndCmd.Flags().IntVar(&seReviewFindings, "review-findings", 0, "Review findings count")
	sessionEndCmd.Flags().IntVar(&seFilesRead, "files-read", 0, "Files read during the session")
	sessionEndCmd.Flags().IntVar(&seLearningsInjected, "learnings-injected", 0, "Learnings injected at session start")
	sessionEndCmd.Flags().StringArrayVar(&seCommits, "commit", nil, "Commit SHA made during the session (repeatable)")
	sessionEndCmd.Flags().StringArrayVar(&seModifiedFiles, "file", nil, "Modified file (repeatable)")
}

// newHooks wires the full hook pipeline. No LearningExtractor is configured
// here; the embedding application supplies one through its own entry point.
func newHooks() (*hooks.Hooks, func(), error) {
	db, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	cfg := loadConfig()
	emb := newEmbedder(cfg)
	log := newLogger()

	h := hooks.New(log,
		knowledge.New(db, emb, nil),
		checkpoint.New(db, nil),
		docs.NewIndexer(db, emb, nil),
		graph.NewQuery(db),
		nil, nil)
	h.TranscriptDirs = cfg.Hooks.TranscriptDirs

	cleanup := func() {
		log.Sync()
		if emb != nil {
			emb.Close()
		}
		db.Close()
	}
	return h, cleanup, nil
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	h, cleanup, err := newHooks()
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := h.SessionStart(cmd.Context(), hooks.StartInput{
		SessionID:     ssSessionID,
		WorkingDir:    ssWorkDir,
		Branch:        ssBranch,
		ModifiedFiles: ssFiles,
		IssueNumber:   ssIssue,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out)
	}
	if out.ResumePrompt != "" {
		fmt.Print(out.ResumePrompt)
	}
	if out.ContextBlock != "" {
		fmt.Print(out.ContextBlock)
	}
	fmt.Println(out.MetadataLine)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	var start time.Time
	if seStartTime != "" {
		t, err := time.Parse(time.RFC3339, seStartTime)
		if err != nil {
			return fmt.Errorf("invalid --start-time: %w", err)
		}
		start = t
	}

	h, cleanup, err := newHooks()
	if err != nil {
		return err
	}
	defer cleanup()

	out, err := h.SessionEnd(cmd.Context(), hooks.EndInput{
		WorkflowID:        seWorkflowID,
		SessionID:         seSessionID,
		IssueNumber:       seIssue,
		StartTime:         start,
		ModifiedFiles:     seModifiedFiles,
		Commits:           seCommits,
		FilesRead:         seFilesRead,
		Compacted:         seCompacted,
		Interrupted:       seInterrupted,
		ReviewFindings:    seReviewFindings,
		LearningsInjected: seLearningsInjected,
		DryRun:            seDryRun,
	})
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(out)
	}
	if out.DryRun {
		for _, d := range out.Diagnostics {
			fmt.Println(d)
		}
		return nil
	}
	fmt.Printf("Session %s ended: %d transcripts, %d learnings captured, metrics recorded: %t\n",
		out.SessionID, out.TranscriptsFound, out.LearningsCaptured, out.MetricsRecorded)
	return nil
}
