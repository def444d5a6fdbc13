// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"
)

// ExecSpawner launches workers as child processes of the coordinator
// binary itself, invoking its hidden worker subcommand.
type ExecSpawner struct {
	Binary            string // path to the swarmline binary
	RepoDir           string
	BaseBranch        string
	BacklogPath       string
	HeartbeatInterval time.Duration
}

// Spawn starts one worker process. The child inherits the parent's
// stdio so worker logs interleave with coordinator logs.
func (s *ExecSpawner) Spawn(ctx context.Context, workerID string) (Proc, error) {
	binary := s.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate own binary: %w", err)
		}
		binary = self
	}

	cmd := exec.CommandContext(ctx, binary, "worker",
		"--id", workerID,
		"--repo", s.RepoDir,
		"--base", s.BaseBranch,
		"--backlog", s.BacklogPath,
		"--heartbeat", s.HeartbeatInterval.String(),
	)
	cmd.Dir = s.RepoDir
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", workerID, err)
	}

	proc := &execProc{id: workerID, cmd: cmd, done: make(chan struct{})}
	go func() {
		err := cmd.Wait()
		proc.mu.Lock()
		proc.exitErr = err
		proc.mu.Unlock()
		close(proc.done)
	}()
	return proc, nil
}

type execProc struct {
	id   string
	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
}

func (p *execProc) ID() string            { return p.id }
func (p *execProc) Done() <-chan struct{} { return p.done }

func (p *execProc) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProc) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *execProc) Kill() error {
	return p.cmd.Process.Kill()
}
