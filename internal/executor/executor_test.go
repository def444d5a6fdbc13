// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"swarmline/internal/taskgraph"
	"swarmline/internal/telemetry"
)

// recordingStrategy completes every task and remembers the dispatch order
// plus the peak number of tasks in flight at once.
type recordingStrategy struct {
	mu       sync.Mutex
	order    []string
	inFlight int32
	peak     int32
	delay    time.Duration
	outcomes map[string]Outcome
}

func (s *recordingStrategy) Execute(_ context.Context, task *taskgraph.Task) Outcome {
	n := atomic.AddInt32(&s.inFlight, 1)
	for {
		p := atomic.LoadInt32(&s.peak)
		if n <= p || atomic.CompareAndSwapInt32(&s.peak, p, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	s.order = append(s.order, task.ID)
	s.mu.Unlock()
	atomic.AddInt32(&s.inFlight, -1)

	if s.outcomes != nil {
		if out, ok := s.outcomes[task.ID]; ok {
			return out
		}
	}
	return Success("done")
}

func newTestExecutor(s Strategy) *Executor {
	return New(map[taskgraph.Mode]Strategy{
		taskgraph.ModeCommand:  s,
		taskgraph.ModeGenerate: s,
	}, nil)
}

func TestExecute_DependencyOrder(t *testing.T) {
	strategy := &recordingStrategy{}
	exec := newTestExecutor(strategy)

	a := taskgraph.NewTask("a", taskgraph.ModeCommand, "first")
	b := taskgraph.NewTask("b", taskgraph.ModeCommand, "second")
	b.DependsOn = []string{"a"}
	c := taskgraph.NewTask("c", taskgraph.ModeCommand, "third")
	c.DependsOn = []string{"b"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{c, a, b}, time.Minute)

	assert.Equal(t, 3, report.Completed)
	assert.Zero(t, report.Failed)
	assert.False(t, report.Deadlock)
	assert.Equal(t, []string{"a", "b", "c"}, strategy.order)
}

// TestExecute_ParallelGroupSingleBatch runs three tasks in one parallel
// group with disjoint modifies; all three must be in flight concurrently.
func TestExecute_ParallelGroupSingleBatch(t *testing.T) {
	strategy := &recordingStrategy{delay: 20 * time.Millisecond}
	exec := newTestExecutor(strategy)

	var tasks []*taskgraph.Task
	for _, id := range []string{"auth", "store", "api"} {
		task := taskgraph.NewTask(id, taskgraph.ModeGenerate, "implement "+id)
		task.ParallelGroup = "impl"
		task.Modifies = []string{id + ".go"}
		tasks = append(tasks, task)
	}

	report := exec.Execute(context.Background(), tasks, time.Minute)

	assert.Equal(t, 3, report.Completed)
	assert.Equal(t, int32(3), strategy.peak)
}

// TestPlanBatches_OverlappingModifies defers an ungrouped task whose
// modifies set collides with one already packed into the batch.
func TestPlanBatches_OverlappingModifies(t *testing.T) {
	a := taskgraph.NewTask("a", taskgraph.ModeGenerate, "edit shared")
	a.Modifies = []string{"shared.go"}
	b := taskgraph.NewTask("b", taskgraph.ModeGenerate, "edit shared too")
	b.Modifies = []string{"shared.go"}
	c := taskgraph.NewTask("c", taskgraph.ModeGenerate, "edit other")
	c.Modifies = []string{"other.go"}

	batches := planBatches([]*taskgraph.Task{a, b, c})
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2) // a and c pack together
	assert.Len(t, batches[1], 1)
	assert.Equal(t, "b", batches[1][0].ID)
}

func TestPlanBatches_GroupedBeforeUngrouped(t *testing.T) {
	g1 := taskgraph.NewTask("g1", taskgraph.ModeGenerate, "grouped")
	g1.ParallelGroup = "impl"
	g2 := taskgraph.NewTask("g2", taskgraph.ModeGenerate, "grouped")
	g2.ParallelGroup = "impl"
	solo := taskgraph.NewTask("solo", taskgraph.ModeGenerate, "ungrouped")

	batches := planBatches([]*taskgraph.Task{g1, solo, g2})
	require.Len(t, batches, 2)
	assert.Len(t, batches[0], 2)
	assert.Equal(t, "solo", batches[1][0].ID)
}

// TestExecute_SameGroupConflictRefused rejects a graph whose parallel
// group claims concurrency its modifies sets contradict, before any task
// is dispatched.
func TestExecute_SameGroupConflictRefused(t *testing.T) {
	strategy := &recordingStrategy{}
	exec := newTestExecutor(strategy)

	a := taskgraph.NewTask("a", taskgraph.ModeGenerate, "edit shared")
	a.ParallelGroup = "impl"
	a.Modifies = []string{"shared.go"}
	b := taskgraph.NewTask("b", taskgraph.ModeGenerate, "edit shared too")
	b.ParallelGroup = "impl"
	b.Modifies = []string{"shared.go"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{a, b}, time.Minute)

	assert.Zero(t, report.Completed)
	assert.Equal(t, 2, report.Failed)
	assert.Empty(t, strategy.order)
	assert.Contains(t, a.Error, "parallel group conflict")
	assert.Contains(t, a.Error, "shared.go")
}

// TestExecute_Deadlock fails all pending tasks when a requires constraint
// can never be produced.
func TestExecute_Deadlock(t *testing.T) {
	exec := newTestExecutor(&recordingStrategy{})

	task := taskgraph.NewTask("stuck", taskgraph.ModeCommand, "waits forever")
	task.Requires = []string{"artifact-nobody-produces"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{task}, time.Minute)

	assert.True(t, report.Deadlock)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, taskgraph.StatusFailed, task.Status)
	assert.Contains(t, task.Error, "deadlock")
}

func TestExecute_CycleDetected(t *testing.T) {
	exec := newTestExecutor(&recordingStrategy{})

	a := taskgraph.NewTask("a", taskgraph.ModeCommand, "first")
	a.DependsOn = []string{"b"}
	b := taskgraph.NewTask("b", taskgraph.ModeCommand, "second")
	b.DependsOn = []string{"a"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{a, b}, time.Minute)

	assert.True(t, report.Deadlock)
	assert.Equal(t, 2, report.Failed)
	assert.Contains(t, a.Error, "cycle")
}

// TestExecute_Timeout returns partial state with TimedOut set instead of
// blocking past the budget.
func TestExecute_Timeout(t *testing.T) {
	strategy := &recordingStrategy{delay: 50 * time.Millisecond}
	exec := newTestExecutor(strategy)

	a := taskgraph.NewTask("a", taskgraph.ModeCommand, "slow")
	b := taskgraph.NewTask("b", taskgraph.ModeCommand, "never starts")
	b.DependsOn = []string{"a"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{a, b}, 10*time.Millisecond)

	assert.True(t, report.TimedOut)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, taskgraph.StatusPending, b.Status)
}

func TestExecute_UnknownMode(t *testing.T) {
	exec := New(map[taskgraph.Mode]Strategy{}, nil)

	task := taskgraph.NewTask("t", taskgraph.Mode("telepathy"), "read minds")
	report := exec.Execute(context.Background(), []*taskgraph.Task{task}, time.Minute)

	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, task.Error, "unknown task mode: telepathy")
}

type panickyStrategy struct{}

func (panickyStrategy) Execute(context.Context, *taskgraph.Task) Outcome {
	panic("boom")
}

func TestExecute_StrategyPanicBecomesFailure(t *testing.T) {
	exec := newTestExecutor(panickyStrategy{})

	task := taskgraph.NewTask("t", taskgraph.ModeCommand, "explodes")
	report := exec.Execute(context.Background(), []*taskgraph.Task{task}, time.Minute)

	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, task.Error, "strategy panic")
}

// TestExecute_FailureDoesNotBlockIndependentTasks completes the rest of
// the graph when one branch fails; only dependents of the failure stall.
func TestExecute_FailureDoesNotBlockIndependentTasks(t *testing.T) {
	strategy := &recordingStrategy{outcomes: map[string]Outcome{
		"bad": Failure("synthetic failure"),
	}}
	exec := newTestExecutor(strategy)

	bad := taskgraph.NewTask("bad", taskgraph.ModeCommand, "fails")
	child := taskgraph.NewTask("child", taskgraph.ModeCommand, "depends on bad")
	child.DependsOn = []string{"bad"}
	other := taskgraph.NewTask("other", taskgraph.ModeCommand, "independent")

	report := exec.Execute(context.Background(), []*taskgraph.Task{bad, child, other}, time.Minute)

	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, taskgraph.StatusCompleted, other.Status)
	// child can never become ready once bad has failed
	assert.Equal(t, 2, report.Failed)
	assert.True(t, report.Deadlock)
}

func TestExecute_ArtifactsFlowToDependents(t *testing.T) {
	strategy := &recordingStrategy{outcomes: map[string]Outcome{
		"producer": {Status: taskgraph.StatusCompleted, Output: "ok", Artifacts: []string{"schema.sql"}},
	}}
	exec := newTestExecutor(strategy)

	producer := taskgraph.NewTask("producer", taskgraph.ModeCommand, "emit schema")
	consumer := taskgraph.NewTask("consumer", taskgraph.ModeCommand, "use schema")
	consumer.Requires = []string{"schema.sql"}

	report := exec.Execute(context.Background(), []*taskgraph.Task{producer, consumer}, time.Minute)

	assert.Equal(t, 2, report.Completed)
	assert.Contains(t, report.Artifacts, "schema.sql")
}

func TestExecute_EmitsBatchSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	exec := newTestExecutor(&recordingStrategy{})
	a := taskgraph.NewTask("a", taskgraph.ModeCommand, "one")
	a.ParallelGroup = "impl"
	b := taskgraph.NewTask("b", taskgraph.ModeCommand, "two")
	b.ParallelGroup = "impl"

	exec.Execute(context.Background(), []*taskgraph.Task{a, b}, time.Minute)

	var batch *tracetest.SpanStub
	for _, s := range exporter.GetSpans() {
		if s.Name == "executor.batch" {
			batch = &s
			break
		}
	}
	require.NotNil(t, batch)
	assert.Contains(t, batch.Attributes, telemetry.AttrBatchSize.Int(2))
	assert.Len(t, batch.Events, 2)
}
