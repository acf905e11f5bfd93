// Package main is the entry point for the ck CLI tool.
package main

import (
	"github.com/anthropics/claude-knowledge/internal/cmd"
)

func main() {
	cmd.Execute()
}
