// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package cli

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"swarmline/internal/backlog"
	"swarmline/internal/coordinator"
	"swarmline/internal/executor"
	"swarmline/internal/model"
	"swarmline/internal/worker"
)

var workerFlags struct {
	id        string
	repoDir   string
	base      string
	backlog   string
	heartbeat time.Duration
}

// workerCmd is the child-process entry point the coordinator execs.
// Hidden: users start workers through `swarmline run`.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single worker process",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	workerCmd.Flags().StringVar(&workerFlags.id, "id", "", "worker identifier")
	workerCmd.Flags().StringVar(&workerFlags.repoDir, "repo", ".", "repository to operate on")
	workerCmd.Flags().StringVar(&workerFlags.base, "base", "", "base branch (default: current branch)")
	workerCmd.Flags().StringVar(&workerFlags.backlog, "backlog", "", "backlog database path")
	workerCmd.Flags().DurationVar(&workerFlags.heartbeat, "heartbeat", 5*time.Second, "heartbeat interval")
	_ = workerCmd.MarkFlagRequired("id")
}

func runWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(workerFlags.repoDir)
	if err != nil {
		return err
	}

	dbPath := workerFlags.backlog
	if dbPath == "" {
		dbPath = backlogPath(workerFlags.repoDir)
	}
	store, err := backlog.Open(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	repo, err := openRepo(workerFlags.repoDir)
	if err != nil {
		return err
	}
	base := workerFlags.base
	if base == "" {
		if base, err = resolveBaseBranch(repo, cfg); err != nil {
			return err
		}
	}

	exec := executor.New(executor.DefaultStrategies(buildCollaborators(cfg.Model.BaseURL, cfg.Model.Synthesis, cfg.Model.Judge, workerFlags.repoDir)), slog.Default())

	w := worker.New(worker.Options{
		ID:                workerFlags.id,
		BaseBranch:        base,
		WorkersDir:        filepath.Join(workerFlags.repoDir, coordinator.ScratchDir, "workers"),
		HeartbeatInterval: workerFlags.heartbeat,
		GoalBudget:        cfg.Executor.GoalBudget,
	}, repo, store, exec, worker.PipelinePlanner{}, slog.Default())

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildCollaborators wires the strategy dependencies: models for
// synthesis, judging and research, the local shell for command tasks.
func buildCollaborators(baseURL, synthesisModel, judgeModel, repoDir string) executor.Collaborators {
	synthesis := model.NewClient(baseURL, synthesisModel)
	judge := model.NewClient(baseURL, judgeModel)
	return executor.Collaborators{
		Research:  &model.ResearchTool{Client: synthesis},
		Shell:     &executor.ShellTool{Dir: repoDir},
		Synthesis: synthesis,
		Judge:     judge,
	}
}
