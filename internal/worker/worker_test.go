// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmline/internal/backlog"
	"swarmline/internal/executor"
	"swarmline/internal/taskgraph"
)

// fakeRepo records branch and commit activity without touching git.
type fakeRepo struct {
	mu       sync.Mutex
	branches []string
	commits  []string
}

func (f *fakeRepo) CurrentBranch() (string, error)        { return "main", nil }
func (f *fakeRepo) IsWorkingTreeClean() (bool, error)     { return true, nil }
func (f *fakeRepo) Checkout(string) error                 { return nil }
func (f *fakeRepo) BranchExists(string) bool              { return false }
func (f *fakeRepo) DeleteBranch(string, bool) error       { return nil }
func (f *fakeRepo) RebaseOnto(string) error               { return nil }
func (f *fakeRepo) AbortRebase() error                    { return nil }
func (f *fakeRepo) FastForwardMerge(string) error         { return nil }
func (f *fakeRepo) HeadRef() (string, error)              { return "deadbeef", nil }
func (f *fakeRepo) ChangedFiles(string) ([]string, error) { return nil, nil }

func (f *fakeRepo) FirstCommitTime(string, string) (time.Time, error) {
	return time.Time{}, nil
}

func (f *fakeRepo) CreateBranch(branch, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, branch)
	return nil
}

func (f *fakeRepo) CommitAll(message string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, message)
	return true, nil
}

// singleTaskPlanner maps each goal onto one command task.
type singleTaskPlanner struct{ err error }

func (p singleTaskPlanner) Plan(_ context.Context, goal *backlog.Goal) ([]*taskgraph.Task, error) {
	if p.err != nil {
		return nil, p.err
	}
	task := taskgraph.NewTask("goal", taskgraph.ModeCommand, goal.Description)
	return []*taskgraph.Task{task}, nil
}

type stubStrategy struct{ fail bool }

func (s stubStrategy) Execute(context.Context, *taskgraph.Task) executor.Outcome {
	if s.fail {
		return executor.Failure("stub failure")
	}
	return executor.Success("ok")
}

func newTestWorker(t *testing.T, strategy executor.Strategy, planner Planner) (*Worker, *backlog.Store, *fakeRepo, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := backlog.Open(filepath.Join(dir, "backlog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	repo := &fakeRepo{}
	exec := executor.New(map[taskgraph.Mode]executor.Strategy{
		taskgraph.ModeCommand: strategy,
	}, nil)

	workersDir := filepath.Join(dir, "workers")
	w := New(Options{
		ID:                "worker-1",
		BaseBranch:        "main",
		WorkersDir:        workersDir,
		HeartbeatInterval: 10 * time.Millisecond,
	}, repo, store, exec, planner, nil)
	return w, store, repo, workersDir
}

func TestRun_DrainsBacklog(t *testing.T) {
	w, store, repo, _ := newTestWorker(t, stubStrategy{}, singleTaskPlanner{})

	g1, err := store.Add("first goal")
	require.NoError(t, err)
	g2, err := store.Add("second goal")
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))

	for _, id := range []int64{g1.ID, g2.ID} {
		goal, err := store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, backlog.StatusCompleted, goal.Status)
		assert.Equal(t, "swarm/worker-1", goal.Branch)
	}
	assert.Equal(t, []string{"swarm/worker-1"}, repo.branches)
	assert.Len(t, repo.commits, 2)
	assert.Equal(t, fmt.Sprintf("swarm: goal #%d: first goal", g1.ID), repo.commits[0])
}

func TestRun_TaskFailureMarksGoalFailed(t *testing.T) {
	w, store, repo, _ := newTestWorker(t, stubStrategy{fail: true}, singleTaskPlanner{})

	g, err := store.Add("doomed goal")
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))

	goal, err := store.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, backlog.StatusFailed, goal.Status)
	assert.Contains(t, goal.Error, "tasks failed")
	assert.Empty(t, repo.commits)
}

func TestRun_PlannerErrorMarksGoalFailed(t *testing.T) {
	w, store, _, _ := newTestWorker(t, stubStrategy{}, singleTaskPlanner{err: errors.New("no plan")})

	g, err := store.Add("unplannable")
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))

	goal, err := store.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, backlog.StatusFailed, goal.Status)
	assert.Contains(t, goal.Error, "plan goal")
}

func TestRun_WritesHeartbeat(t *testing.T) {
	w, store, _, workersDir := newTestWorker(t, stubStrategy{}, singleTaskPlanner{})
	_, err := store.Add("goal")
	require.NoError(t, err)

	require.NoError(t, w.Run(context.Background()))

	status, err := ReadStatus(workersDir, "worker-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-1", status.WorkerID)
	assert.Less(t, status.HeartbeatAge(time.Now()), time.Minute)
}

func TestStatus_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	in := Status{
		WorkerID:      "worker-7",
		LastHeartbeat: time.Now().UTC().Format(time.RFC3339),
		ClaimedGoals:  []string{"goal-42"},
	}
	require.NoError(t, WriteStatus(dir, in))

	out, err := ReadStatus(dir, "worker-7")
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestHeartbeatAge_Malformed(t *testing.T) {
	s := Status{LastHeartbeat: "yesterday-ish"}
	assert.Greater(t, s.HeartbeatAge(time.Now()), 24*time.Hour)
}
