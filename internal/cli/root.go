// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package cli implements the swarmline command tree.
package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swarmline",
	Short: "Parallel goal execution over a shared git repository",
	Long: "swarmline runs a pool of worker processes against a shared git repository.\n" +
		"Each worker claims goals from a backlog, executes them on an isolated branch,\n" +
		"and the coordinator reconciles the branches back into the base branch.",
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reconcileCmd)
}
