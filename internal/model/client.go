// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package model connects task strategies to a local opencode serve
// instance. One Client serves both synthesis and judging; the model ID
// decides the behavior.
package model

import (
	"context"
	"fmt"
	"strings"

	"github.com/sst/opencode-sdk-go"
	"github.com/sst/opencode-sdk-go/option"

	"swarmline/internal/executor"
)

// Client wraps the OpenCode SDK client for prompt execution.
type Client struct {
	sdk     *opencode.Client
	modelID string
}

// NewClient creates a client against a local opencode serve instance.
// No API key is needed for local connections.
func NewClient(baseURL, modelID string) *Client {
	sdk := opencode.NewClient(
		option.WithBaseURL(baseURL),
	)
	return &Client{sdk: sdk, modelID: modelID}
}

// Generate sends the prompt in a fresh session and returns the
// concatenated text parts of the response. Sampling options the server
// does not expose are ignored.
func (c *Client) Generate(ctx context.Context, prompt string, _ executor.GenerateOptions) (string, error) {
	session, err := c.sdk.Session.New(ctx, opencode.SessionNewParams{
		Title: opencode.F("swarmline"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer func() {
		_, _ = c.sdk.Session.Delete(ctx, session.ID, opencode.SessionDeleteParams{})
	}()

	parts := []opencode.SessionPromptParamsPartUnion{
		opencode.TextPartInputParam{
			Type: opencode.F(opencode.TextPartInputTypeText),
			Text: opencode.F(prompt),
		},
	}
	promptParams := opencode.SessionPromptParams{
		Parts: opencode.F(parts),
	}
	if c.modelID != "" {
		promptParams.Model = opencode.F(opencode.SessionPromptParamsModel{
			ModelID: opencode.F(c.modelID),
		})
	}

	message, err := c.sdk.Session.Prompt(ctx, session.ID, promptParams)
	if err != nil {
		return "", fmt.Errorf("failed to send prompt: %w", err)
	}

	var text strings.Builder
	for _, part := range message.Parts {
		if part.Type == opencode.PartTypeText {
			text.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// ResearchTool adapts a Client into the research tool interface. The
// query runs as a read-only prompt against the server's view of the
// codebase.
type ResearchTool struct {
	Client *Client
}

// Execute answers a research call with the model's findings.
func (r *ResearchTool) Execute(ctx context.Context, call executor.ToolCall) (executor.ToolResult, error) {
	query := strings.Join(append([]string{call.Name}, call.Args...), " ")
	prompt := fmt.Sprintf("Research the codebase and answer concisely:\n\n%s", query)

	output, err := r.Client.Generate(ctx, prompt, executor.GenerateOptions{})
	if err != nil {
		return executor.ToolResult{}, err
	}
	return executor.ToolResult{Success: true, Output: output}, nil
}
