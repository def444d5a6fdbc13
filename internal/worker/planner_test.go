// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmline/internal/backlog"
	"swarmline/internal/taskgraph"
)

func TestPipelinePlanner_BuildsValidChain(t *testing.T) {
	tasks, err := PipelinePlanner{}.Plan(context.Background(), &backlog.Goal{
		ID:          7,
		Description: "add retry to the fetcher",
	})
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	require.NoError(t, taskgraph.Validate(tasks))

	assert.Equal(t, taskgraph.ModeResearch, tasks[0].Mode)
	assert.Equal(t, taskgraph.ModeGenerate, tasks[1].Mode)
	assert.Equal(t, taskgraph.ModeVerify, tasks[2].Mode)
	assert.Equal(t, []string{"goal-7-research"}, tasks[1].DependsOn)
	assert.Equal(t, []string{"goal-7-generate"}, tasks[2].DependsOn)
}

func TestPipelinePlanner_EmptyDescription(t *testing.T) {
	_, err := PipelinePlanner{}.Plan(context.Background(), &backlog.Goal{ID: 1})
	assert.Error(t, err)
}
