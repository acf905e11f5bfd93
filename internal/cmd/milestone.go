package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
)

var milestoneCmd = &cobra.Command{
	Use:   "milestone",
	Short: "Manage milestones that group workflows",
}

var msCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a milestone",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneCreate,
}

var msGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a milestone and its linked workflows",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneGet,
}

var msFindCmd = &cobra.Command{
	Use:   "find",
	Short: "Find a milestone by name or GitHub number",
	RunE:  runMilestoneFind,
}

var msSetPhaseCmd = &cobra.Command{
	Use:   "set-phase <id> <phase>",
	Short: "Move a milestone to a new phase",
	Args:  cobra.ExactArgs(2),
	RunE:  runMilestoneSetPhase,
}

var msSetStatusCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Set a milestone's status (completed and failed are terminal)",
	Args:  cobra.ExactArgs(2),
	RunE:  runMilestoneSetStatus,
}

var msListActiveCmd = &cobra.Command{
	Use:   "list-active",
	Short: "List running and paused milestones",
	RunE:  runMilestoneListActive,
}

var msDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a milestone and its links",
	Args:  cobra.ExactArgs(1),
	RunE:  runMilestoneDelete,
}

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Capture lint and typecheck baselines for a milestone",
}

var baselineSaveCmd = &cobra.Command{
	Use:   "save <milestone-id> <lint-exit> <lint-warn> <lint-err> <tc-exit> <tc-err>",
	Short: "Save a milestone's lint/typecheck baseline",
	Args:  cobra.ExactArgs(6),
	RunE:  runBaselineSave,
}

var (
	msName   string
	msGithub int
)

func init() {
	rootCmd.AddCommand(milestoneCmd)
	rootCmd.AddCommand(baselineCmd)
	milestoneCmd.AddCommand(msCreateCmd)
	milestoneCmd.AddCommand(msGetCmd)
	milestoneCmd.AddCommand(msFindCmd)
	milestoneCmd.AddCommand(msSetPhaseCmd)
	milestoneCmd.AddCommand(msSetStatusCmd)
	milestoneCmd.AddCommand(msListActiveCmd)
	milestoneCmd.AddCommand(msDeleteCmd)
	baselineCmd.AddCommand(baselineSaveCmd)

	msCreateCmd.Flags().IntVar(&msGithub, "github", 0, "GitHub milestone number")
	msFindCmd.Flags().StringVar(&msName, "name", "", "Milestone name")
	msFindCmd.Flags().IntVar(&msGithub, "github", 0, "GitHub milestone number")
}

func runMilestoneCreate(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := cp.CreateMilestone(cmd.Context(), args[0], msGithub)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(m)
	}
	fmt.Printf("Created milestone %s (%s)\n", m.ID, m.Name)
	return nil
}

func runMilestoneGet(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()
	ctx := cmd.Context()

	m, err := cp.GetMilestone(ctx, args[0])
	if err != nil {
		return err
	}
	linked, err := cp.MilestoneWorkflows(ctx, m.ID)
	if err != nil {
		return err
	}
	baseline, err := cp.GetBaseline(ctx, m.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(map[string]any{"milestone": m, "workflows": linked, "baseline": baseline})
	}
	fmt.Printf("%s  %s  phase %s  status %s\n", m.ID, m.Name, m.Phase, m.Status)
	if baseline != nil {
		fmt.Printf("Baseline: lint exit %d (%d warnings, %d errors), typecheck exit %d (%d errors)\n",
			baseline.LintExit, baseline.LintWarnings, baseline.LintErrors,
			baseline.TypecheckExit, baseline.TypecheckErrors)
	}
	for _, lw := range linked {
		fmt.Printf("  wave %d: ", lw.Wave)
		printWorkflow(lw.Workflow)
	}
	return nil
}

func runMilestoneFind(cmd *cobra.Command, args []string) error {
	if msName == "" && msGithub == 0 {
		return fmt.Errorf("--name or --github is required")
	}
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	m, err := cp.FindMilestone(cmd.Context(), msName, msGithub)
	if err != nil {
		return err
	}
	if m == nil {
		if jsonOutput {
			return printJSON(nil)
		}
		fmt.Println("No matching milestone")
		return nil
	}
	if jsonOutput {
		return printJSON(m)
	}
	fmt.Printf("%s  %s  phase %s  status %s\n", m.ID, m.Name, m.Phase, m.Status)
	return nil
}

func runMilestoneSetPhase(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.SetMilestonePhase(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "phase": args[1]})
	}
	fmt.Printf("Milestone %s moved to phase %s\n", args[0], args[1])
	return nil
}

func runMilestoneSetStatus(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.SetMilestoneStatus(cmd.Context(), args[0], args[1]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"id": args[0], "status": args[1]})
	}
	fmt.Printf("Milestone %s status set to %s\n", args[0], args[1])
	return nil
}

func runMilestoneListActive(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	milestones, err := cp.ListActiveMilestones(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(milestones)
	}
	if len(milestones) == 0 {
		fmt.Println("No active milestones")
		return nil
	}
	for _, m := range milestones {
		fmt.Printf("%s  %s  phase %s  status %s\n", m.ID, m.Name, m.Phase, m.Status)
	}
	return nil
}

func runMilestoneDelete(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	if err := cp.DeleteMilestone(cmd.Context(), args[0]); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"deleted": args[0]})
	}
	fmt.Printf("Deleted milestone %s\n", args[0])
	return nil
}

func runBaselineSave(cmd *cobra.Command, args []string) error {
	nums := make([]int, 5)
	for i, raw := range args[1:] {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("argument %q must be an integer", raw)
		}
		nums[i] = n
	}

	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	b := checkpoint.Baseline{
		MilestoneID:     args[0],
		LintExit:        nums[0],
		LintWarnings:    nums[1],
		LintErrors:      nums[2],
		TypecheckExit:   nums[3],
		TypecheckErrors: nums[4],
	}
	if err := cp.SaveBaseline(cmd.Context(), b); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(b)
	}
	fmt.Printf("Baseline saved for milestone %s\n", args[0])
	return nil
}
