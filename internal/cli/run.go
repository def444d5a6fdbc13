// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package cli

import (
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swarmline/internal/coordinator"
	"swarmline/internal/reconciler"
)

var runFlags struct {
	repoDir string
	workers int
}

var runCmd = &cobra.Command{
	Use:   "run [goal]...",
	Short: "Run a worker pool over the given goals",
	Long: "Seeds the backlog with the given goals, spawns worker processes, merges\n" +
		"their branches when they finish, and runs one reconciliation cycle over\n" +
		"the merged result.",
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.repoDir, "repo", ".", "repository to operate on")
	runCmd.Flags().IntVar(&runFlags.workers, "workers", 0, "worker count (overrides config)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(runFlags.repoDir)
	if err != nil {
		return err
	}
	if runFlags.workers > 0 {
		cfg.Swarm.Workers = runFlags.workers
	}

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	repo, err := openRepo(runFlags.repoDir)
	if err != nil {
		return err
	}
	base, err := resolveBaseBranch(repo, cfg)
	if err != nil {
		return err
	}
	store, err := openBacklog(runFlags.repoDir)
	if err != nil {
		return err
	}
	defer store.Close()

	spawner := &coordinator.ExecSpawner{
		RepoDir:           runFlags.repoDir,
		BaseBranch:        base,
		BacklogPath:       backlogPath(runFlags.repoDir),
		HeartbeatInterval: cfg.Swarm.HeartbeatInterval,
	}
	coord := coordinator.New(coordinator.Options{
		Workers:           cfg.Swarm.Workers,
		BaseBranch:        base,
		RepoDir:           runFlags.repoDir,
		HeartbeatInterval: cfg.Swarm.HeartbeatInterval,
		GracePeriod:       cfg.Swarm.GracePeriod,
		MergeLockWait:     cfg.Swarm.MergeLockWait,
		DeleteMerged:      cfg.Swarm.DeleteMerged,
	}, repo, store, spawner, slog.Default())

	result := coord.Run(ctx, args)
	printRunResult(result)
	if result.Failed {
		return fmt.Errorf("run failed: %s", result.Error)
	}

	rec := reconciler.New(repo, runFlags.repoDir, base,
		reconciler.NewErrorBudget(cfg.Reconciler.Threshold), slog.Default())
	cycle := rec.RunCycle(ctx)
	fmt.Printf("reconcile: checked %d, fixed %d, remaining %d\n",
		cycle.FilesChecked, cycle.IssuesFixed, cycle.IssuesRemaining)
	if !cycle.Success {
		return fmt.Errorf("reconciliation left %d unresolved issues", cycle.IssuesRemaining)
	}
	return nil
}

func printRunResult(r *coordinator.Result) {
	fmt.Printf("goals: %d completed, %d failed, %d unclaimed\n",
		r.GoalsCompleted, r.GoalsFailed, r.GoalsUnclaimed)
	workerIDs := make([]string, 0, len(r.GoalsByWorker))
	for id := range r.GoalsByWorker {
		workerIDs = append(workerIDs, id)
	}
	sort.Strings(workerIDs)
	for _, id := range workerIDs {
		wc := r.GoalsByWorker[id]
		fmt.Printf("  %s: %d completed, %d failed\n", id, wc.Completed, wc.Failed)
	}
	if len(r.MergedBranches) > 0 {
		fmt.Printf("merged: %s\n", strings.Join(r.MergedBranches, ", "))
	}
	if len(r.ConflictBranches) > 0 {
		fmt.Printf("conflicts (manual resolution needed): %s\n", strings.Join(r.ConflictBranches, ", "))
	}
	if r.WorkersCrashed > 0 || r.WorkersStuck > 0 {
		fmt.Printf("workers: %d crashed, %d stuck\n", r.WorkersCrashed, r.WorkersStuck)
	}
	fmt.Printf("elapsed: %s\n", r.Elapsed.Round(time.Millisecond))
}
