package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anthropics/claude-knowledge/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default .ck/config.yaml",
	RunE:  runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := config.SaveDefault(".")
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"config": path})
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
