// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package executor runs a task graph to terminal states, maximizing safe
// concurrency. A single scheduling loop owns all progress state; tasks in
// a batch run on goroutines and report back over a channel.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gammazero/toposort"

	"swarmline/internal/taskgraph"
	"swarmline/internal/telemetry"
)

// Report summarizes one execution of a task graph. It is produced on every
// path, including deadlock, timeout and validation failure.
type Report struct {
	Completed int
	Failed    int
	Skipped   int
	Pending   int
	Elapsed   time.Duration
	Deadlock  bool
	TimedOut  bool
	Artifacts []string // Union of produces of all completed tasks
}

// Executor dispatches tasks to mode-specific strategies.
type Executor struct {
	strategies map[taskgraph.Mode]Strategy
	logger     *slog.Logger
}

// New creates an executor with the given strategy table.
func New(strategies map[taskgraph.Mode]Strategy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{strategies: strategies, logger: logger}
}

// taskOutcome carries a finished task's result back to the scheduling loop.
type taskOutcome struct {
	task    *taskgraph.Task
	outcome Outcome
}

// Execute runs tasks until every task is terminal, the graph deadlocks, or
// the wall-clock budget expires. It never returns an error for task-level
// failures; those are recorded on the tasks themselves.
func (e *Executor) Execute(ctx context.Context, tasks []*taskgraph.Task, budget time.Duration) *Report {
	start := time.Now()

	if err := taskgraph.Validate(tasks); err != nil {
		e.failAllPending(tasks, fmt.Sprintf("invalid task graph: %v", err))
		return e.buildReport(tasks, start, false, false)
	}
	if err := checkAcyclic(tasks); err != nil {
		e.failAllPending(tasks, err.Error())
		return e.buildReport(tasks, start, true, false)
	}
	// Tasks asserting the same parallel group must not touch the same
	// paths; the group label would dispatch them concurrently.
	for _, conflict := range taskgraph.FindConflicts(tasks) {
		if !conflict.SameGroup {
			continue
		}
		reason := fmt.Sprintf("parallel group conflict: %s and %s both modify %v",
			conflict.TaskA, conflict.TaskB, conflict.Overlap)
		e.logger.Error("refusing to execute conflicting graph",
			"task_a", conflict.TaskA, "task_b", conflict.TaskB, "overlap", conflict.Overlap)
		e.failAllPending(tasks, reason)
		return e.buildReport(tasks, start, false, false)
	}

	// Progress state owned exclusively by this loop.
	completedIDs := make(map[string]bool)
	completedArtifacts := make(map[string]bool)

	deadlock := false
	timedOut := false

	for {
		if time.Since(start) > budget || ctx.Err() != nil {
			e.logger.Warn("execution budget exhausted, returning partial state",
				"elapsed", time.Since(start), "budget", budget)
			timedOut = true
			break
		}

		ready := readyTasks(tasks, completedIDs, completedArtifacts)
		if len(ready) == 0 {
			if countPending(tasks) == 0 {
				break
			}
			// Pending tasks remain but none can ever become ready.
			e.logger.Error("deadlock detected, failing remaining tasks",
				"pending", countPending(tasks))
			e.failAllPending(tasks, "deadlock: dependencies can never be satisfied")
			deadlock = true
			break
		}

		for _, batch := range planBatches(ready) {
			if time.Since(start) > budget || ctx.Err() != nil {
				timedOut = true
				break
			}
			e.runBatch(ctx, batch)
			for _, task := range batch {
				if task.Status == taskgraph.StatusCompleted {
					completedIDs[task.ID] = true
					for _, artifact := range task.Produces {
						completedArtifacts[artifact] = true
					}
				}
			}
		}
		if timedOut {
			break
		}
	}

	return e.buildReport(tasks, start, deadlock, timedOut)
}

// runBatch executes one batch concurrently and applies the outcomes. Only
// this method (on the scheduling goroutine) mutates task state.
func (e *Executor) runBatch(ctx context.Context, batch []*taskgraph.Task) {
	ctx, span := telemetry.StartSpan(ctx, "executor", "executor.batch")
	defer span.End()
	span.SetAttributes(telemetry.AttrBatchSize.Int(len(batch)))

	results := make(chan taskOutcome, len(batch))

	for _, task := range batch {
		task.Status = taskgraph.StatusRunning
		e.logger.Info("dispatching task", "task", task.ID, "mode", task.Mode)
		telemetry.AddEvent(ctx, "task dispatched", telemetry.TaskAttrs(task.ID, string(task.Mode))...)
		go func(t *taskgraph.Task) {
			results <- taskOutcome{task: t, outcome: e.executeTask(ctx, t)}
		}(task)
	}

	for range batch {
		r := <-results
		r.outcome.apply(r.task)
		if r.task.Status == taskgraph.StatusCompleted {
			e.logger.Info("task completed", "task", r.task.ID)
		} else {
			e.logger.Error("task failed", "task", r.task.ID, "error", r.task.Error)
			attrs := telemetry.TaskAttrs(r.task.ID, string(r.task.Mode))
			attrs = append(attrs, telemetry.ErrorAttrs(errors.New(r.task.Error))...)
			telemetry.AddEvent(ctx, "task failed", attrs...)
		}
	}
}

// executeTask dispatches one task to its strategy. Strategy panics are
// converted into failed outcomes so they never unwind past the executor.
func (e *Executor) executeTask(ctx context.Context, task *taskgraph.Task) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Failure(fmt.Sprintf("strategy panic: %v", r))
		}
	}()

	strategy, ok := e.strategies[task.Mode]
	if !ok {
		return Failure(fmt.Sprintf("unknown task mode: %s", task.Mode))
	}
	return strategy.Execute(ctx, task)
}

// planBatches groups ready tasks into concurrent batches. Tasks sharing a
// non-empty parallel group form one batch. Ungrouped tasks are packed
// together as long as their modifies sets stay pairwise disjoint; an
// overlapping task is deferred to a later batch.
func planBatches(ready []*taskgraph.Task) [][]*taskgraph.Task {
	var batches [][]*taskgraph.Task
	groups := make(map[string]int)
	var ungrouped []*taskgraph.Task

	for _, task := range ready {
		if task.ParallelGroup != "" {
			idx, ok := groups[task.ParallelGroup]
			if !ok {
				idx = len(batches)
				groups[task.ParallelGroup] = idx
				batches = append(batches, nil)
			}
			batches[idx] = append(batches[idx], task)
		} else {
			ungrouped = append(ungrouped, task)
		}
	}

	for len(ungrouped) > 0 {
		var batch []*taskgraph.Task
		var deferred []*taskgraph.Task
		claimed := make(map[string]bool)
		for _, task := range ungrouped {
			if overlapsClaimed(task, claimed) {
				deferred = append(deferred, task)
				continue
			}
			for _, path := range task.Modifies {
				claimed[path] = true
			}
			batch = append(batch, task)
		}
		batches = append(batches, batch)
		ungrouped = deferred
	}

	return batches
}

func overlapsClaimed(task *taskgraph.Task, claimed map[string]bool) bool {
	for _, path := range task.Modifies {
		if claimed[path] {
			return true
		}
	}
	return false
}

func readyTasks(tasks []*taskgraph.Task, completedIDs, completedArtifacts map[string]bool) []*taskgraph.Task {
	var ready []*taskgraph.Task
	for _, t := range tasks {
		if t.Status == taskgraph.StatusPending && t.IsReady(completedIDs, completedArtifacts) {
			ready = append(ready, t)
		}
	}
	return ready
}

func countPending(tasks []*taskgraph.Task) int {
	n := 0
	for _, t := range tasks {
		if t.Status == taskgraph.StatusPending {
			n++
		}
	}
	return n
}

func (e *Executor) failAllPending(tasks []*taskgraph.Task, reason string) {
	for _, t := range tasks {
		if t.Status == taskgraph.StatusPending {
			t.Status = taskgraph.StatusFailed
			t.Error = reason
		}
	}
}

func (e *Executor) buildReport(tasks []*taskgraph.Task, start time.Time, deadlock, timedOut bool) *Report {
	report := &Report{
		Elapsed:  time.Since(start),
		Deadlock: deadlock,
		TimedOut: timedOut,
	}
	seen := make(map[string]bool)
	for _, t := range tasks {
		switch t.Status {
		case taskgraph.StatusCompleted:
			report.Completed++
			for _, a := range t.Produces {
				if !seen[a] {
					seen[a] = true
					report.Artifacts = append(report.Artifacts, a)
				}
			}
		case taskgraph.StatusFailed:
			report.Failed++
		case taskgraph.StatusSkipped:
			report.Skipped++
		default:
			report.Pending++
		}
	}
	return report
}

// checkAcyclic runs a topological sort over depends_on edges and reports
// an error when the graph contains a cycle.
func checkAcyclic(tasks []*taskgraph.Task) error {
	var edges []toposort.Edge
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			edges = append(edges, toposort.Edge{dep, t.ID})
		}
	}
	if len(edges) == 0 {
		return nil
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("cycle detected in task graph: %w", err)
	}
	return nil
}
