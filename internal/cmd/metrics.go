package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Inspect recorded session metrics",
}

var metricsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent session metrics",
	RunE:  runMetricsList,
}

var metricsSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Aggregate session metrics",
	RunE:  runMetricsSummary,
}

var metricsLimit int

func init() {
	rootCmd.AddCommand(metricsCmd)
	metricsCmd.AddCommand(metricsListCmd)
	metricsCmd.AddCommand(metricsSummaryCmd)

	metricsListCmd.Flags().IntVar(&metricsLimit, "limit", 20, "Maximum rows")
}

func runMetricsList(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	metrics, err := cp.ListSessionMetrics(cmd.Context(), metricsLimit)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(metrics)
	}
	if len(metrics) == 0 {
		fmt.Println("No session metrics recorded")
		return nil
	}
	for _, m := range metrics {
		fmt.Printf("%s  %.1f min  %d files read  %d learnings captured",
			m.SessionID, m.DurationMinutes, m.FilesRead, m.LearningsCaptured)
		if m.Compacted {
			fmt.Print("  (compacted)")
		}
		fmt.Println()
	}
	return nil
}

func runMetricsSummary(cmd *cobra.Command, args []string) error {
	cp, cleanup, err := openCheckpoint()
	if err != nil {
		return err
	}
	defer cleanup()

	sum, err := cp.SummarizeSessionMetrics(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(sum)
	}
	fmt.Printf("Sessions: %d (%d compacted)\n", sum.Sessions, sum.CompactedSessions)
	fmt.Printf("Average duration: %.1f min\n", sum.AvgDuration)
	fmt.Printf("Files read: %d  Review findings: %d\n", sum.TotalFilesRead, sum.ReviewFindings)
	fmt.Printf("Learnings: %d injected, %d captured\n", sum.LearningsInjected, sum.LearningsCaptured)
	return nil
}
