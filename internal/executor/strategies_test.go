// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swarmline/internal/taskgraph"
)

type fakeTool struct {
	result ToolResult
	err    error
	calls  []ToolCall
}

func (f *fakeTool) Execute(_ context.Context, call ToolCall) (ToolResult, error) {
	f.calls = append(f.calls, call)
	return f.result, f.err
}

// fakeModel returns canned responses in sequence.
type fakeModel struct {
	responses []string
	err       error
	prompts   []string
}

func (f *fakeModel) Generate(_ context.Context, prompt string, _ GenerateOptions) (string, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", nil
	}
	r := f.responses[0]
	if len(f.responses) > 1 {
		f.responses = f.responses[1:]
	}
	return r, nil
}

func TestCommandStrategy_SplitsDescription(t *testing.T) {
	tool := &fakeTool{result: ToolResult{Success: true, Output: "v1.2.3"}}
	s := &CommandStrategy{Tools: tool}

	task := taskgraph.NewTask("t", taskgraph.ModeCommand, "git describe --tags")
	out := s.Execute(context.Background(), task)

	assert.Equal(t, taskgraph.StatusCompleted, out.Status)
	require.Len(t, tool.calls, 1)
	assert.Equal(t, "git", tool.calls[0].Name)
	assert.Equal(t, []string{"describe", "--tags"}, tool.calls[0].Args)
}

func TestCommandStrategy_EmptyDescription(t *testing.T) {
	s := &CommandStrategy{Tools: &fakeTool{}}
	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeCommand, "   "))
	assert.Equal(t, taskgraph.StatusFailed, out.Status)
	assert.Equal(t, "empty command", out.Err)
}

func TestCommandStrategy_CarriesArtifacts(t *testing.T) {
	tool := &fakeTool{result: ToolResult{Success: true, Artifacts: []string{"dist/app"}}}
	s := &CommandStrategy{Tools: tool}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeCommand, "make build"))
	assert.Equal(t, []string{"dist/app"}, out.Artifacts)
}

func TestResearchStrategy_NoTools(t *testing.T) {
	s := &ResearchStrategy{}
	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeResearch, "find usages"))
	assert.Equal(t, taskgraph.StatusFailed, out.Status)
	assert.Contains(t, out.Err, "no tool executor")
}

func TestGenerateStrategy_ApprovedFirstPass(t *testing.T) {
	synth := &fakeModel{responses: []string{"package main"}}
	judge := &fakeModel{responses: []string{"APPROVE"}}
	s := &GenerateStrategy{Synthesis: synth, Judge: judge}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeGenerate, "write main"))

	assert.Equal(t, taskgraph.StatusCompleted, out.Status)
	assert.Equal(t, "package main", out.Output)
	assert.Len(t, synth.prompts, 1)
}

// TestGenerateStrategy_EscalatesOnReject retries once at higher fidelity
// after a judge rejection, then accepts the approved escalation.
func TestGenerateStrategy_EscalatesOnReject(t *testing.T) {
	synth := &fakeModel{responses: []string{"sloppy draft", "careful version"}}
	judge := &fakeModel{responses: []string{"REJECT: unsafe", "APPROVE"}}
	s := &GenerateStrategy{Synthesis: synth, Judge: judge}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeGenerate, "write handler"))

	assert.Equal(t, taskgraph.StatusCompleted, out.Status)
	assert.Equal(t, "careful version", out.Output)
	assert.Len(t, synth.prompts, 2)
	assert.Contains(t, synth.prompts[1], "HIGH QUALITY")
}

func TestGenerateStrategy_FailsAfterEscalation(t *testing.T) {
	synth := &fakeModel{responses: []string{"bad", "still bad"}}
	judge := &fakeModel{responses: []string{"REJECT", "REJECT"}}
	s := &GenerateStrategy{Synthesis: synth, Judge: judge}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeGenerate, "write handler"))

	assert.Equal(t, taskgraph.StatusFailed, out.Status)
	assert.Contains(t, out.Err, "quality validation failed")
}

func TestGenerateStrategy_JudgeErrorIsBestEffort(t *testing.T) {
	synth := &fakeModel{responses: []string{"content"}}
	judge := &fakeModel{err: errors.New("judge offline")}
	s := &GenerateStrategy{Synthesis: synth, Judge: judge}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeGenerate, "write"))
	assert.Equal(t, taskgraph.StatusCompleted, out.Status)
}

func TestGenerateStrategy_StripsFences(t *testing.T) {
	synth := &fakeModel{responses: []string{"```go\npackage main\n```"}}
	s := &GenerateStrategy{Synthesis: synth}

	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeGenerate, "write"))
	assert.Equal(t, "package main", out.Output)
}

func TestVerifyStrategy_PassAndFail(t *testing.T) {
	pass := &VerifyStrategy{Judge: &fakeModel{responses: []string{"PASS: looks correct"}}}
	out := pass.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeVerify, "check output"))
	assert.Equal(t, taskgraph.StatusCompleted, out.Status)

	fail := &VerifyStrategy{Judge: &fakeModel{responses: []string{"FAIL: wrong schema"}}}
	out = fail.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeVerify, "check output"))
	assert.Equal(t, taskgraph.StatusFailed, out.Status)
	assert.Contains(t, out.Err, "wrong schema")
}

func TestSelfImproveStrategy_NilImproverIsNoop(t *testing.T) {
	s := &SelfImproveStrategy{}
	out := s.Execute(context.Background(), taskgraph.NewTask("t", taskgraph.ModeSelfImprove, "tune prompts"))
	assert.Equal(t, taskgraph.StatusCompleted, out.Status)
}
