// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package coordinator supervises a pool of worker processes over a
// shared git repository. It seeds the backlog, spawns workers, watches
// their heartbeats, reaps crashed or stuck workers, and reconciles the
// surviving branches back into the base branch.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/codes"

	"swarmline/internal/backlog"
	"swarmline/internal/gitops"
	"swarmline/internal/telemetry"
	"swarmline/internal/worker"
)

// Scratch directory layout under the repository root.
const (
	ScratchDir      = ".swarmline"
	locksSubdir     = "locks"
	workersSubdir   = "workers"
	resourcesSubdir = "resources"
)

// Stuck threshold is this multiple of the heartbeat interval.
const stuckMultiplier = 12

// SetupError reports a precondition failure caught before any worker
// was spawned.
type SetupError struct {
	Reason string
}

func (e *SetupError) Error() string { return "setup: " + e.Reason }

// Options configure a coordinator run.
type Options struct {
	Workers           int
	BaseBranch        string
	RepoDir           string
	HeartbeatInterval time.Duration
	MonitorInterval   time.Duration
	GracePeriod       time.Duration // SIGTERM to SIGKILL window for stuck workers
	MergeLockWait     time.Duration
	DeleteMerged      bool
}

// Result is always produced, even when setup fails or the run panics.
type Result struct {
	Failed           bool
	Error            string
	GoalsCompleted   int
	GoalsFailed      int
	GoalsUnclaimed   int
	GoalsByWorker    map[string]backlog.WorkerCounts
	MergedBranches   []string
	ConflictBranches []string
	WorkersCrashed   int
	WorkersStuck     int
	Elapsed          time.Duration
}

// Proc is a handle on a spawned worker process.
type Proc interface {
	ID() string
	Done() <-chan struct{}
	ExitErr() error // valid once Done is closed
	Signal(sig os.Signal) error
	Kill() error
}

// Spawner launches worker processes.
type Spawner interface {
	Spawn(ctx context.Context, workerID string) (Proc, error)
}

// Coordinator runs the full orchestration cycle.
type Coordinator struct {
	opts    Options
	repo    gitops.Repo
	store   *backlog.Store
	spawner Spawner
	logger  *slog.Logger
}

// New creates a coordinator.
func New(opts Options, repo gitops.Repo, store *backlog.Store, spawner Spawner, logger *slog.Logger) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 5 * time.Second
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = opts.HeartbeatInterval
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	if opts.MergeLockWait <= 0 {
		opts.MergeLockWait = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{opts: opts, repo: repo, store: store, spawner: spawner, logger: logger}
}

// LocksDir returns the lock-file directory under the repo scratch dir.
func (c *Coordinator) LocksDir() string {
	return filepath.Join(c.opts.RepoDir, ScratchDir, locksSubdir)
}

// WorkersDir returns the worker status directory under the scratch dir.
func (c *Coordinator) WorkersDir() string {
	return filepath.Join(c.opts.RepoDir, ScratchDir, workersSubdir)
}

// Run seeds the backlog with goals, drives the worker pool to
// completion, and merges worker branches. It never panics; all failure
// paths produce a Result describing what happened.
func (c *Coordinator) Run(ctx context.Context, goals []string) (result *Result) {
	start := time.Now()
	result = &Result{}

	ctx, span := telemetry.StartSpan(ctx, "coordinator", "coordinator.run")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result.Failed = true
			result.Error = fmt.Sprintf("coordinator panic: %v", r)
		}
		result.Elapsed = time.Since(start)
		if result.Failed {
			telemetry.SetSpanStatus(ctx, codes.Error, result.Error)
		}
		telemetry.AddEvent(ctx, "run finished",
			telemetry.AttrSuccess.Bool(!result.Failed),
			telemetry.AttrDuration.Int64(result.Elapsed.Milliseconds()))
	}()

	if err := c.setup(goals); err != nil {
		result.Failed = true
		result.Error = err.Error()
		return result
	}

	procs := c.spawnWorkers(ctx, result)
	c.superviseWorkers(ctx, procs, result)

	if err := c.mergeWorkerBranches(result); err != nil {
		result.Failed = true
		result.Error = err.Error()
	}

	c.collectGoalCounts(result)
	return result
}

// setup verifies preconditions and prepares scratch state. A dirty
// working tree aborts the run before any worker starts.
func (c *Coordinator) setup(goals []string) error {
	clean, err := c.repo.IsWorkingTreeClean()
	if err != nil {
		return fmt.Errorf("inspect working tree: %w", err)
	}
	if !clean {
		return &SetupError{Reason: "working tree has uncommitted changes, commit or stash before running"}
	}

	// Record the base branch: whatever is checked out now, unless the
	// caller pinned one explicitly.
	if c.opts.BaseBranch == "" {
		branch, err := c.repo.CurrentBranch()
		if err != nil {
			return fmt.Errorf("resolve base branch: %w", err)
		}
		c.opts.BaseBranch = branch
	}
	c.logger.Info("base branch recorded", "branch", c.opts.BaseBranch)

	for _, sub := range []string{locksSubdir, workersSubdir, resourcesSubdir} {
		dir := filepath.Join(c.opts.RepoDir, ScratchDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create scratch dir %s: %w", sub, err)
		}
	}

	for _, goal := range goals {
		if _, err := c.store.Add(goal); err != nil {
			return fmt.Errorf("seed backlog: %w", err)
		}
	}
	return nil
}

func (c *Coordinator) spawnWorkers(ctx context.Context, result *Result) []Proc {
	var procs []Proc
	for i := 1; i <= c.opts.Workers; i++ {
		id := fmt.Sprintf("worker-%d", i)
		proc, err := c.spawner.Spawn(ctx, id)
		if err != nil {
			c.logger.Error("spawn failed", "worker", id, "error", err)
			result.WorkersCrashed++
			continue
		}
		c.logger.Info("worker started", "worker", id)
		procs = append(procs, proc)
	}
	return procs
}

// superviseWorkers polls worker processes and heartbeats until every
// worker has exited. Crashed and stuck workers get their claimed goals
// released so surviving workers can pick them up.
func (c *Coordinator) superviseWorkers(ctx context.Context, procs []Proc, result *Result) {
	stuckThreshold := time.Duration(stuckMultiplier) * c.opts.HeartbeatInterval
	ticker := time.NewTicker(c.opts.MonitorInterval)
	defer ticker.Stop()

	alive := make(map[string]Proc, len(procs))
	for _, p := range procs {
		alive[p.ID()] = p
	}

	for len(alive) > 0 {
		for id, proc := range alive {
			select {
			case <-proc.Done():
				delete(alive, id)
				if err := proc.ExitErr(); err != nil {
					c.logger.Error("worker crashed", "worker", id, "error", err)
					result.WorkersCrashed++
					c.releaseClaims(id)
				} else {
					c.logger.Info("worker exited cleanly", "worker", id)
				}
			default:
				if c.heartbeatAge(id) > stuckThreshold {
					c.logger.Error("worker stuck, terminating",
						"worker", id, "threshold", stuckThreshold)
					c.terminate(proc)
					delete(alive, id)
					result.WorkersStuck++
					c.releaseClaims(id)
				}
			}
		}
		if len(alive) == 0 {
			break
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.logger.Warn("run cancelled, terminating workers")
			for id, proc := range alive {
				c.terminate(proc)
				c.releaseClaims(id)
			}
			return
		}
	}
}

// heartbeatAge reads a worker's status file. A missing file counts as
// age zero so freshly spawned workers are not reaped before their first
// heartbeat.
func (c *Coordinator) heartbeatAge(workerID string) time.Duration {
	status, err := worker.ReadStatus(c.WorkersDir(), workerID)
	if err != nil {
		return 0
	}
	return status.HeartbeatAge(time.Now())
}

// terminate asks the process to stop, waits out the grace period, then
// kills it.
func (c *Coordinator) terminate(proc Proc) {
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		c.logger.Warn("SIGTERM failed", "worker", proc.ID(), "error", err)
	}
	select {
	case <-proc.Done():
		return
	case <-time.After(c.opts.GracePeriod):
	}
	if err := proc.Kill(); err != nil {
		c.logger.Warn("kill failed", "worker", proc.ID(), "error", err)
	}
	<-proc.Done()
}

func (c *Coordinator) releaseClaims(workerID string) {
	released, err := c.store.ReleaseClaimedBy(workerID)
	if err != nil {
		c.logger.Error("release claims failed", "worker", workerID, "error", err)
		return
	}
	if released > 0 {
		c.logger.Info("released claimed goals", "worker", workerID, "count", released)
	}
}

func (c *Coordinator) collectGoalCounts(result *Result) {
	counts, err := c.store.Counts()
	if err != nil {
		c.logger.Error("count goals failed", "error", err)
		return
	}
	result.GoalsCompleted = counts[backlog.StatusCompleted]
	result.GoalsFailed = counts[backlog.StatusFailed]
	result.GoalsUnclaimed = counts[backlog.StatusPending] + counts[backlog.StatusClaimed]

	byWorker, err := c.store.CountsByWorker()
	if err != nil {
		c.logger.Error("count goals by worker failed", "error", err)
		return
	}
	result.GoalsByWorker = byWorker
}
