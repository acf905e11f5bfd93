package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/checkpoint"
	"github.com/anthropics/claude-knowledge/internal/graph"
	"github.com/anthropics/claude-knowledge/internal/knowledge"
)

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Database management commands",
}

var dbHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check database health",
	Long:  `Probe the database and report response time, file sizes, and warnings.`,
	RunE:  runDbHealth,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show an overview of the knowledge base",
	RunE:  runStatus,
}

var (
	statusCommits int
	statusIssues  int
)

func init() {
	rootCmd.AddCommand(dbCmd)
	rootCmd.AddCommand(statusCmd)
	dbCmd.AddCommand(dbHealthCmd)

	statusCmd.Flags().IntVar(&statusCommits, "commits", 5, "Recent workflow commits to show")
	statusCmd.Flags().IntVar(&statusIssues, "issues", 10, "Active workflows to show")
}

func runDbHealth(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()

	h := db.Health()
	if jsonOutput {
		return printJSON(h)
	}
	if h.Okay {
		fmt.Printf("Database OK (%.2f ms)\n", h.ResponseTimeMs)
	} else {
		fmt.Println("Database NOT OK")
	}
	fmt.Printf("Size: %d KB (WAL %d KB, SHM %d KB)\n", h.FileSizeKb, h.WalSizeKb, h.ShmSizeKb)
	for _, w := range h.Warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if !h.Okay {
		return fmt.Errorf("health check failed")
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore()
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := cmd.Context()

	health := db.Health()
	graphSummary, err := graph.NewQuery(db).GetSummary(ctx, "")
	if err != nil {
		return err
	}
	know := knowledge.New(db, nil, nil)
	knowStats, err := know.Stats(ctx)
	if err != nil {
		return err
	}
	cp := checkpoint.New(db, nil)
	active, err := cp.ListActiveWorkflows(ctx)
	if err != nil {
		return err
	}
	if len(active) > statusIssues {
		active = active[:statusIssues]
	}

	if jsonOutput {
		return printJSON(map[string]any{
			"health":           health,
			"graph":            graphSummary,
			"knowledge":        knowStats,
			"active_workflows": active,
		})
	}

	fmt.Printf("Database: %s (%d KB)\n", db.Path(), health.FileSizeKb)
	fmt.Printf("Code graph: %d entities, %d relationships\n",
		graphSummary.TotalEntities, graphSummary.TotalRelationships)
	if len(knowStats) > 0 {
		fmt.Println("Knowledge:")
		for typ, n := range knowStats {
			fmt.Printf("  %-14s %d\n", typ, n)
		}
	}
	if len(active) > 0 {
		fmt.Println("Active workflows:")
		for _, w := range active {
			fmt.Print("  ")
			printWorkflow(w)
			commits, err := cp.Commits(ctx, w.ID)
			if err != nil {
				continue
			}
			if len(commits) > statusCommits {
				commits = commits[len(commits)-statusCommits:]
			}
			for _, c := range commits {
				fmt.Printf("    %s %s\n", c.SHA, c.Message)
			}
		}
	}
	return nil
}
