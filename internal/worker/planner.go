// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"context"
	"fmt"

	"swarmline/internal/backlog"
	"swarmline/internal/taskgraph"
)

// PipelinePlanner expands every goal into the standard three-stage
// graph: research the relevant code, generate the change, verify it.
type PipelinePlanner struct{}

// Plan builds the task graph for one goal.
func (PipelinePlanner) Plan(_ context.Context, goal *backlog.Goal) ([]*taskgraph.Task, error) {
	if goal.Description == "" {
		return nil, fmt.Errorf("goal %d has no description", goal.ID)
	}

	prefix := fmt.Sprintf("goal-%d", goal.ID)

	research := taskgraph.NewTask(prefix+"-research", taskgraph.ModeResearch,
		"Find code relevant to: "+goal.Description)
	research.Produces = []string{prefix + "-findings"}

	generate := taskgraph.NewTask(prefix+"-generate", taskgraph.ModeGenerate, goal.Description)
	generate.DependsOn = []string{research.ID}
	generate.Requires = []string{prefix + "-findings"}
	generate.Produces = []string{prefix + "-change"}

	verify := taskgraph.NewTask(prefix+"-verify", taskgraph.ModeVerify,
		"Confirm the change accomplishes: "+goal.Description)
	verify.DependsOn = []string{generate.ID}
	verify.Requires = []string{prefix + "-change"}

	return []*taskgraph.Task{research, generate, verify}, nil
}
