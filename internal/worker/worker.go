// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package worker implements the worker process body: claim goals from
// the shared backlog, execute each goal's task graph on an isolated
// branch, and publish heartbeats for the coordinator.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"swarmline/internal/backlog"
	"swarmline/internal/executor"
	"swarmline/internal/gitops"
	"swarmline/internal/taskgraph"
	"swarmline/internal/telemetry"
)

// Planner turns a backlog goal into an executable task graph.
type Planner interface {
	Plan(ctx context.Context, goal *backlog.Goal) ([]*taskgraph.Task, error)
}

// Options configure a worker.
type Options struct {
	ID                string // e.g. "worker-3"
	BaseBranch        string
	WorkersDir        string
	HeartbeatInterval time.Duration
	GoalBudget        time.Duration // wall-clock budget per goal
}

// Worker claims and executes goals until the backlog drains.
type Worker struct {
	opts    Options
	repo    gitops.Repo
	store   *backlog.Store
	exec    *executor.Executor
	planner Planner
	logger  *slog.Logger

	mu      sync.Mutex
	claimed []string
}

// New creates a worker. The repo must already be checked out at the
// base branch.
func New(opts Options, repo gitops.Repo, store *backlog.Store, exec *executor.Executor, planner Planner, logger *slog.Logger) *Worker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.GoalBudget <= 0 {
		opts.GoalBudget = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		opts:    opts,
		repo:    repo,
		store:   store,
		exec:    exec,
		planner: planner,
		logger:  logger.With("worker", opts.ID),
	}
}

// Branch returns the worker's isolation branch name.
func (w *Worker) Branch() string {
	return "swarm/" + w.opts.ID
}

// Run executes the worker loop: create the isolation branch, heartbeat
// in the background, and claim goals until none remain or the context
// is cancelled. Goals in flight at cancellation are returned to the
// backlog.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.repo.CreateBranch(w.Branch(), w.opts.BaseBranch); err != nil {
		return fmt.Errorf("create worker branch: %w", err)
	}

	if err := w.heartbeat(); err != nil {
		return err
	}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(w.opts.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := w.heartbeat(); err != nil {
					w.logger.Error("heartbeat write failed", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()
	defer func() {
		close(stop)
		wg.Wait()
	}()

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		goal, err := w.store.ClaimNext(w.opts.ID)
		if err != nil {
			return fmt.Errorf("claim next goal: %w", err)
		}
		if goal == nil {
			w.logger.Info("backlog drained, worker exiting")
			return nil
		}

		w.setClaimed(goal)
		w.logger.Info("claimed goal", "goal", goal.ID, "description", goal.Description)

		if err := w.runGoal(ctx, goal); err != nil {
			w.setClaimed(nil)
			if ctx.Err() != nil {
				// Shutting down mid-goal; give the goal back.
				if uerr := w.store.Unclaim(goal.ID); uerr != nil {
					w.logger.Error("unclaim on shutdown failed", "goal", goal.ID, "error", uerr)
				}
				return ctx.Err()
			}
			w.logger.Error("goal failed", "goal", goal.ID, "error", err)
			if ferr := w.store.Fail(goal.ID, err.Error()); ferr != nil {
				return fmt.Errorf("record goal failure: %w", ferr)
			}
			continue
		}
		w.setClaimed(nil)

		if err := w.store.Complete(goal.ID, w.Branch()); err != nil {
			return fmt.Errorf("record goal completion: %w", err)
		}
		w.logger.Info("goal completed", "goal", goal.ID)
	}
}

// runGoal plans and executes one goal's task graph, then commits the
// resulting tree onto the worker branch.
func (w *Worker) runGoal(ctx context.Context, goal *backlog.Goal) error {
	ctx, span := telemetry.StartSpan(ctx, "worker", "worker.goal")
	defer span.End()
	span.SetAttributes(telemetry.AttrGoalID.Int64(goal.ID))
	span.SetAttributes(telemetry.WorkerAttrs(w.opts.ID, w.Branch())...)

	tasks, err := w.planner.Plan(ctx, goal)
	if err != nil {
		return fmt.Errorf("plan goal: %w", err)
	}

	report := w.exec.Execute(ctx, tasks, w.opts.GoalBudget)
	if report.Failed > 0 {
		return fmt.Errorf("%d of %d tasks failed", report.Failed, len(tasks))
	}
	if report.TimedOut {
		return fmt.Errorf("goal budget exhausted with %d tasks pending", report.Pending)
	}

	message := fmt.Sprintf("swarm: goal #%d: %s", goal.ID, goal.Description)
	committed, err := w.repo.CommitAll(message)
	if err != nil {
		return fmt.Errorf("commit goal work: %w", err)
	}
	if !committed {
		w.logger.Warn("goal produced no changes", "goal", goal.ID)
	}
	return nil
}

func (w *Worker) setClaimed(goal *backlog.Goal) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if goal == nil {
		w.claimed = nil
		return
	}
	w.claimed = []string{fmt.Sprintf("goal-%d", goal.ID)}
}

func (w *Worker) heartbeat() error {
	w.mu.Lock()
	claimed := append([]string(nil), w.claimed...)
	w.mu.Unlock()

	return WriteStatus(w.opts.WorkersDir, Status{
		WorkerID:      w.opts.ID,
		LastHeartbeat: time.Now().UTC().Format(time.RFC3339),
		ClaimedGoals:  claimed,
	})
}
