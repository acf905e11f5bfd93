package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
)

var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Manage workflow checkpoints",
	Long: `A workflow is a durable state record for one unit of work (typically one
issue and one branch), with a phase, a status, and ordered action and
commit logs. State survives across sessions in the database.`,
}

var wfCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a workflow for an issue and branch",
	RunE:  runWorkflowCreate,
}

var wfGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a workflow with its action and commit logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowGet,
}

var wfFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find the workflow for an issue",
	RunE:  runWorkflowFind,
}

var wfSetPhaseCmd = &cobra.Command{
	Use:   "set-phase <id> <phase>",
	Short: "Move a workflow to a new phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkflowSetPhase,
}

var wfSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Set a workflow's status (completed and failed are terminal)",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkflowSetStatus,
}

var wfLogActionCmd = &cobra.Command{
	Use:   "log-action <id> <action> <result>",
	Short: "Append an action to a workflow's log",
	Args:  cobra.ExactArgs(3),
	RunE:  runWorkflowLogAction,
}

var wfLogCommitCmd = &cobra.Command{
	Use:   "log-commit <id> <sha> <message>",
	Short: "Append a commit to a workflow's log",
	Args:  cobra.ExactArgs(3),
	RunE:  runWorkflowLogCommit,
}

var wfListActiveCmd = &cobra.Command{
	Use:   "list-active",
	Short: "List running and paused workflows",
	RunE:  runWorkflowListActive,
}

var wfListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all workflows",
	RunE:  runWorkflowList,
}

var wfDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a workflow and its logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowDelete,
}

var wfLinkCmd = &cobra.Command{
	Use:   "link <milestone-id> <workflow-id>",
	Short: "Attach a workflow to a milestone",
	Args:  cobra.ExactArgs(2),
	RunE:  runWorkflowLink,
}

var wfCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Fail workflows that have gone stale",
	RunE:  runWorkflowCleanup,
}

var (
	wfIssue    int
	wfBranch   string
	wfWorktree string
	wfMeta     []string
	wfWave     int
	wfHours    int
)

func init() {
	rootCmd.AddCommand(workflowCmd)
	workflowCmd.AddCommand(wfCreateCmd)
	workflowCmd.AddCommand(wfGetCmd)
	workflowCmd.AddCommand(wfFindCmd)
	workflowCmd.AddCommand(wfSetPhaseCmd)
	workflowCmd.AddCommand(wfSetStatusCmd)
	workflowCmd.AddCommand(wfLogActionCmd)
	workflowCmd.AddCommand(wfLogCommitCmd)
	workflowCmd.AddCommand(wfListActiveCmd)
	workflowCmd.AddCommand(wfListCmd)
	workflowCmd.AddCommand(wfDeleteCmd)
	workflowCmd.AddCommand(wfLinkCmd)
	workflowCmd.AddCommand(wfCleanupCmd)

	wfCreateCmd.Flags().IntVar(&wfIssue, "issue", 0, "Issue number")
	wfCreateCmd.Flags().StringVar(&wfBranch, "branch", "", "Branch name")
	wfCreateCmd.Flags().StringVar(&wfWorktree, "worktree", "", "Worktree path")
	wfFindCmd.Flags().IntVar(&wfIssue, "issue", 0, "Issue number")
	wfLogActionCmd.Flags().StringArrayVar(&wfMeta, "meta", nil, "Metadata key=value (repeatable)")
	wfLinkCmd.Flags().IntVar(&wfWave, "wave", 0, "Execution wave within the milestone")
	wfCleanupCmd.Flags().IntVar(&wfHours, "hours", 24, "Staleness threshold in hours")
}

// openCheckpoint opens the store wrapped in a Checkpoint.
func openCheckpoint() (*checkpoint.Checkpoint, func(), error) {
	db, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	return checkpoint.New(db, nil), func() { db.Close() }, nil
}

func runWorkflowCreate(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := cp.CreateWorkflow(cmd.Context(), wfIssue, wfBranch, wfWorktree)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(w)
	}
	fmt.Printf("Created workflow %s (issue #%d, branch %s)\n", w.ID, w.IssueNumber, w.Branch)
	return nil
}

func runWorkflowGet(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	w, err := cp.GetWorkflow(ctx, args[0])
	if err != nil {
		return err
	}
	actions, err := cp.Actions(ctx, w.ID)
	if err != nil {
		return err
	}
	commits, err := cp.Commits(ctx, w.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"workflow": w, "actions": actions, "commits": commits})
	}
	printWorkflow(*w)
	if len(actions) > 0 {
		fmt.Println("Actions:")
		for _, a := range actions {
			fmt.Printf("  %s %s (%s)\n", a.CreatedAt, a.Action, a.Result)
		}
	}
	if len(commits) > 0 {
		fmt.Println("Commits:")
		for _, c := range commits {
			fmt.Printf("  %s %s\n", c.SHA, c.Message)
		}
	}
	return nil
}

func runWorkflowFind(cmd *cobra.Command, args []string) error {
	if wfIssue == 0 {
		return fmt.Errorf("--issue is required")
	}
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	w, err := cp.FindWorkflow(cmd.Context(), wfIssue)
	if err != nil {
		return err
	}
	if w == nil {
		if jsonOutput {
			return printJSON(nil)
		}
		fmt.Printf("No workflow for issue #%d\n", wfIssue)
		return nil
	}
	if jsonOutput {
		return printJSON(w)
	}
	printWorkflow(*w)
	return nil
}

func runWorkflowSetPhase(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.SetWorkflowPhase(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "phase": args[1]})
	}
	fmt.Printf("Workflow %s moved to phase %s\n", args[0], args[1])
	return nil
}

func runWorkflowSetStatus(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.SetWorkflowStatus(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "status": args[1]})
	}
	fmt.Printf("Workflow %s status set to %s\n", args[0], args[1])
	return nil
}

func runWorkflowLogAction(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	meta := make(map[string]string, len(wfMeta))
	for _, kv := range wfMeta {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("invalid --meta %q, want key=value", kv)
		}
		meta[k] = v
	}
	if err := cp.LogAction(cmd.Context(), args[0], args[1], args[2], meta); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "action": args[1], "result": args[2]})
	}
	fmt.Printf("Logged %s (%s)\n", args[1], args[2])
	return nil
}

func runWorkflowLogCommit(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.LogCommit(cmd.Context(), args[0], args[1], args[2]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "sha": args[1]})
	}
	fmt.Printf("Logged commit %s\n", args[1])
	return nil
}

func runWorkflowListActive(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	flows, err := cp.ListActiveWorkflows(cmd.Context())
	if err != nil {
		return err
	}
	return printWorkflows(flows, "No active workflows")
}

func runWorkflowList(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	flows, err := cp.ListWorkflows(cmd.Context())
	if err != nil {
		return err
	}
	return printWorkflows(flows, "No workflows")
}

func runWorkflowDelete(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.DeleteWorkflow(cmd.Context(), args[0]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"deleted": args[0]})
	}
	fmt.Printf("Deleted workflow %s\n", args[0])
	return nil
}

func runWorkflowLink(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.LinkWorkflow(cmd.Context(), args[0], args[1], wfWave); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"milestone": args[0], "workflow": args[1], "wave": wfWave})
	}
	fmt.Printf("Linked workflow %s to milestone %s (wave %d)\n", args[1], args[0], wfWave)
	return nil
}

func runWorkflowCleanup(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := cp.CleanupStaleWorkflows(cmd.Context(), wfHours)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]int{"swept": n})
	}
	fmt.Printf("Failed %d stale workflows\n", n)
	return nil
}

func printWorkflow(w checkpoint.Workflow) {
	fmt.Printf("%s  issue #%d  branch %s  phase %s  status %s  updated %s\n",
		w.ID, w.IssueNumber, w.Branch, w.Phase, w.Status, w.UpdatedAt)
}

func printWorkflows(flows []checkpoint.Workflow, empty string) error {
	if jsonOutput {
		return printJSON(flows)
	}
	if len(flows) == 0 {
		fmt.Println(empty)
		return nil
	}
	for _, w := range flows {
		printWorkflow(w)
	}
	return nil
}
