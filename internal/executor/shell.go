// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package executor

import (
	"context"
	"strconv"
	"strings"

	"github.com/bitfield/script"
)

// ShellTool executes command-mode tool calls as local shell pipelines.
type ShellTool struct {
	// Dir, when set, is prepended as a cd so pipelines run inside the
	// workspace rather than the process working directory.
	Dir string
}

// Execute runs the call as a shell command and captures combined output.
// A non-zero exit status is reported as an unsuccessful result, not an
// error, so the command strategy records it on the task.
func (s *ShellTool) Execute(_ context.Context, call ToolCall) (ToolResult, error) {
	cmdline := call.Name
	if len(call.Args) > 0 {
		cmdline += " " + strings.Join(call.Args, " ")
	}
	if s.Dir != "" {
		// script.Exec runs a single command, so directory changes go
		// through an explicit shell.
		cmdline = "sh -c " + strconv.Quote("cd "+s.Dir+" && "+cmdline)
	}

	output, err := script.Exec(cmdline).String()
	if err != nil {
		return ToolResult{Success: false, Output: strings.TrimSpace(output) + ": " + err.Error()}, nil
	}
	return ToolResult{Success: true, Output: strings.TrimSpace(output)}, nil
}
