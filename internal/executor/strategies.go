// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package executor

import (
	"context"
	"fmt"
	"strings"

	"swarmline/internal/taskgraph"
)

// Outcome is the uniform result every strategy returns.
type Outcome struct {
	Status    taskgraph.Status
	Output    string
	Err       string
	Artifacts []string // Artifact identifiers discovered during execution
}

// Success builds a completed outcome.
func Success(output string) Outcome {
	return Outcome{Status: taskgraph.StatusCompleted, Output: output}
}

// Failure builds a failed outcome.
func Failure(err string) Outcome {
	return Outcome{Status: taskgraph.StatusFailed, Err: err}
}

// apply writes the outcome onto the task. Artifacts discovered at runtime
// extend the task's declared produces set.
func (o Outcome) apply(t *taskgraph.Task) {
	t.Status = o.Status
	t.Output = o.Output
	t.Error = o.Err
	if len(o.Artifacts) > 0 {
		t.Produces = append(t.Produces, o.Artifacts...)
	}
}

// Strategy executes one task mode.
type Strategy interface {
	Execute(ctx context.Context, task *taskgraph.Task) Outcome
}

// ToolCall is a request to the external tool layer.
type ToolCall struct {
	ID   string
	Name string
	Args []string
}

// ToolResult is the tool layer's response.
type ToolResult struct {
	Success   bool
	Output    string
	Artifacts []string
}

// ToolExecutor is the external tool layer (search, shell, file tools).
type ToolExecutor interface {
	Execute(ctx context.Context, call ToolCall) (ToolResult, error)
}

// GenerateOptions tune a model call.
type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

// SynthesisModel produces content from a prompt.
type SynthesisModel interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// JudgeModel renders pass/fail or approve/reject judgments.
type JudgeModel interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// SelfImprover is the higher-level self-modification flow; the executor
// treats it as a black box.
type SelfImprover interface {
	Improve(ctx context.Context, description string) (string, error)
}

// Collaborators bundles the external capabilities strategies depend on.
// Any field may be nil; strategies degrade with descriptive failures.
type Collaborators struct {
	Research  ToolExecutor
	Shell     ToolExecutor
	Synthesis SynthesisModel
	Judge     JudgeModel
	Improver  SelfImprover
}

// DefaultStrategies builds the mode dispatch table.
func DefaultStrategies(c Collaborators) map[taskgraph.Mode]Strategy {
	return map[taskgraph.Mode]Strategy{
		taskgraph.ModeResearch:    &ResearchStrategy{Tools: c.Research},
		taskgraph.ModeCommand:     &CommandStrategy{Tools: c.Shell},
		taskgraph.ModeGenerate:    &GenerateStrategy{Synthesis: c.Synthesis, Judge: c.Judge},
		taskgraph.ModeSelfImprove: &SelfImproveStrategy{Improver: c.Improver},
		taskgraph.ModeVerify:      &VerifyStrategy{Judge: c.Judge},
	}
}

// ResearchStrategy gathers information read-only through the tool layer.
type ResearchStrategy struct {
	Tools ToolExecutor
}

func (s *ResearchStrategy) Execute(ctx context.Context, task *taskgraph.Task) Outcome {
	if s.Tools == nil {
		return Failure("no tool executor available")
	}
	result, err := s.Tools.Execute(ctx, ToolCall{
		ID:   task.ID,
		Name: "codebase_search",
		Args: []string{task.Description},
	})
	if err != nil {
		return Failure(err.Error())
	}
	if !result.Success {
		return Failure(result.Output)
	}
	return Success(result.Output)
}

// CommandStrategy runs a shell-style command through the tool layer.
type CommandStrategy struct {
	Tools ToolExecutor
}

func (s *CommandStrategy) Execute(ctx context.Context, task *taskgraph.Task) Outcome {
	if s.Tools == nil {
		return Failure("no tool executor available")
	}
	parts := strings.Fields(task.Description)
	if len(parts) == 0 {
		return Failure("empty command")
	}
	result, err := s.Tools.Execute(ctx, ToolCall{
		ID:   task.ID,
		Name: parts[0],
		Args: parts[1:],
	})
	if err != nil {
		return Failure(err.Error())
	}
	if !result.Success {
		return Failure(result.Output)
	}
	return Outcome{
		Status:    taskgraph.StatusCompleted,
		Output:    result.Output,
		Artifacts: result.Artifacts,
	}
}

// GenerateStrategy synthesizes content, optionally validates it with the
// judge model, and escalates once to a higher-fidelity generation pass
// when the judge rejects.
type GenerateStrategy struct {
	Synthesis SynthesisModel
	Judge     JudgeModel
}

func (s *GenerateStrategy) Execute(ctx context.Context, task *taskgraph.Task) Outcome {
	if s.Synthesis == nil {
		return Failure("no synthesis model available")
	}

	prompt := fmt.Sprintf("Task: %s\n\nGenerate the content to accomplish this task.\nContent only, no explanations:", task.Description)
	content, err := s.Synthesis.Generate(ctx, prompt, GenerateOptions{Temperature: 0.7, MaxTokens: 2048})
	if err != nil {
		return Failure(err.Error())
	}
	content = stripMarkdownFences(content)

	if s.Judge == nil {
		return Success(content)
	}

	approved, err := s.validate(ctx, content)
	if err != nil || approved {
		// Validation is best-effort; judge errors do not fail the task.
		return Success(content)
	}

	// One escalation attempt at higher fidelity.
	escalated, err := s.Synthesis.Generate(ctx,
		fmt.Sprintf("Task: %s\n\nGenerate HIGH QUALITY content. Focus on correctness, safety, and best practices.\nContent only:", task.Description),
		GenerateOptions{Temperature: 0.3, MaxTokens: 2048})
	if err != nil {
		return Failure(err.Error())
	}
	escalated = stripMarkdownFences(escalated)

	approved, err = s.validate(ctx, escalated)
	if err != nil || approved {
		return Success(escalated)
	}
	return Failure("quality validation failed after escalation")
}

func (s *GenerateStrategy) validate(ctx context.Context, content string) (bool, error) {
	prompt := fmt.Sprintf("Review this content for correctness and quality:\n\n%s\n\nRespond with ONLY: \"APPROVE\" or \"REJECT\" with reason.", truncate(content, 1000))
	response, err := s.Judge.Generate(ctx, prompt, GenerateOptions{Temperature: 0.1, MaxTokens: 100})
	if err != nil {
		return false, err
	}
	return !strings.Contains(strings.ToUpper(response), "REJECT"), nil
}

// SelfImproveStrategy delegates to the higher-level self-modification flow.
type SelfImproveStrategy struct {
	Improver SelfImprover
}

func (s *SelfImproveStrategy) Execute(ctx context.Context, task *taskgraph.Task) Outcome {
	if s.Improver == nil {
		// No flow wired in; nothing to do.
		return Success("")
	}
	output, err := s.Improver.Improve(ctx, task.Description)
	if err != nil {
		return Failure(err.Error())
	}
	return Success(output)
}

// VerifyStrategy asks the judge model for a PASS/FAIL call.
type VerifyStrategy struct {
	Judge JudgeModel
}

func (s *VerifyStrategy) Execute(ctx context.Context, task *taskgraph.Task) Outcome {
	if s.Judge == nil {
		return Failure("no judge model available")
	}
	prompt := fmt.Sprintf("Verify: %s\n\nRespond with \"PASS\" or \"FAIL\" with reason.", task.Description)
	response, err := s.Judge.Generate(ctx, prompt, GenerateOptions{Temperature: 0.1, MaxTokens: 200})
	if err != nil {
		return Failure(err.Error())
	}
	if strings.Contains(strings.ToUpper(response), "PASS") {
		return Success(response)
	}
	if response == "" {
		response = "verification failed"
	}
	return Failure(response)
}

func stripMarkdownFences(content string) string {
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[0]), "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.HasPrefix(strings.TrimSpace(lines[len(lines)-1]), "```") {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
