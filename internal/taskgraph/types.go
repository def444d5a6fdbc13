// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package taskgraph defines the task graph model: units of work, the
// artifacts they produce and require, and static analysis over the graph.
package taskgraph

import "fmt"

// Mode selects the execution strategy for a task.
type Mode string

const (
	ModeResearch    Mode = "research"
	ModeCommand     Mode = "command"
	ModeGenerate    Mode = "generate"
	ModeSelfImprove Mode = "self_improve"
	ModeVerify      Mode = "verify"
)

// Status is the lifecycle state of a task. A task starts pending and
// reaches a terminal state (completed, failed, skipped) exactly once.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// Task is a single unit of work supplied by an external planner.
// The executor is the only component that mutates Status, Output and Error;
// tasks are retained after completion for reporting and artifact lineage.
type Task struct {
	ID          string // Unique task identifier
	Mode        Mode   // Execution strategy selector
	Description string // What the task should do
	Status      Status // Lifecycle state

	Produces  []string // Artifact identifiers created on completion
	Requires  []string // Artifact identifiers that must exist before running
	DependsOn []string // Task IDs that must complete first
	Modifies  []string // Resource paths this task writes to

	ParallelGroup string // Tasks sharing a label are safe to run concurrently
	IsContract    bool   // Task defines an interface
	Contract      string // Contract task ID this implementation satisfies

	Output string // Result description, set by the executor
	Error  string // Failure reason, set by the executor
}

// NewTask creates a pending task with the given id, mode and description.
func NewTask(id string, mode Mode, description string) *Task {
	return &Task{
		ID:          id,
		Mode:        mode,
		Description: description,
		Status:      StatusPending,
	}
}

// IsReady reports whether every dependency ID is completed and every
// required artifact has been produced.
func (t *Task) IsReady(completedIDs, completedArtifacts map[string]bool) bool {
	for _, dep := range t.DependsOn {
		if !completedIDs[dep] {
			return false
		}
	}
	for _, artifact := range t.Requires {
		if !completedArtifacts[artifact] {
			return false
		}
	}
	return true
}

// ModifiesOverlap returns the resource paths both tasks write to.
func (t *Task) ModifiesOverlap(other *Task) []string {
	if len(t.Modifies) == 0 || len(other.Modifies) == 0 {
		return nil
	}
	mine := make(map[string]bool, len(t.Modifies))
	for _, path := range t.Modifies {
		mine[path] = true
	}
	var overlap []string
	for _, path := range other.Modifies {
		if mine[path] {
			overlap = append(overlap, path)
		}
	}
	return overlap
}

// Validate checks structural invariants that must hold before execution.
func Validate(tasks []*Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task id %q", t.ID)
		}
		seen[t.ID] = true
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !seen[dep] {
				return fmt.Errorf("task %q depends on unknown task %q", t.ID, dep)
			}
		}
		if t.Contract != "" && !seen[t.Contract] {
			return fmt.Errorf("task %q references unknown contract %q", t.ID, t.Contract)
		}
	}
	return nil
}
