// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"swarmline/internal/backlog"
	"swarmline/internal/coordinator"
	"swarmline/internal/worker"
)

var statusFlags struct {
	repoDir string
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlog and worker status",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusFlags.repoDir, "repo", ".", "repository to inspect")
}

func runStatus(_ *cobra.Command, _ []string) error {
	store, err := openBacklog(statusFlags.repoDir)
	if err != nil {
		return err
	}
	defer store.Close()

	counts, err := store.Counts()
	if err != nil {
		return err
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	fmt.Printf("goals: %d total\n", total)
	for _, status := range []string{backlog.StatusPending, backlog.StatusClaimed, backlog.StatusCompleted, backlog.StatusFailed} {
		fmt.Printf("  %-11s %d\n", status+":", counts[status])
	}

	printWorkers(filepath.Join(statusFlags.repoDir, coordinator.ScratchDir, "workers"))
	return nil
}

func printWorkers(workersDir string) {
	entries, err := os.ReadDir(workersDir)
	if err != nil {
		return // no workers have run yet
	}

	now := time.Now()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		status, err := worker.ReadStatus(workersDir, strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		age := status.HeartbeatAge(now).Round(time.Second)
		claimed := "idle"
		if len(status.ClaimedGoals) > 0 {
			claimed = strings.Join(status.ClaimedGoals, ", ")
		}
		fmt.Printf("worker %s: heartbeat %s ago, %s\n", status.WorkerID, age, claimed)
	}
}
