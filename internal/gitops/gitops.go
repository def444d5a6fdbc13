// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package gitops wraps the git operations the coordinator and workers
// need. Everything goes through the git CLI so the repository on disk is
// always the single source of truth.
package gitops

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Repo is the capability set used by the coordinator, workers and the
// reconciler. Implementations must be safe for sequential use from one
// process; cross-process safety comes from branch isolation.
type Repo interface {
	CurrentBranch() (string, error)
	IsWorkingTreeClean() (bool, error)
	Checkout(branch string) error
	CreateBranch(branch, from string) error
	BranchExists(branch string) bool
	DeleteBranch(branch string, force bool) error
	RebaseOnto(base string) error
	AbortRebase() error
	FastForwardMerge(branch string) error
	CommitAll(message string) (bool, error)
	FirstCommitTime(branch, base string) (time.Time, error)
	HeadRef() (string, error)
	ChangedFiles(base string) ([]string, error)
}

// Git is the exec-based Repo implementation rooted at a working directory.
type Git struct {
	workDir string
}

// New creates a Git rooted at workDir.
func New(workDir string) *Git {
	return &Git{workDir: workDir}
}

func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = g.workDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s", args[0], strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether the working directory is inside a git work tree.
func (g *Git) IsRepo() bool {
	out, err := g.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// IsWorkingTreeClean reports whether the tree has no uncommitted changes.
func (g *Git) IsWorkingTreeClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// Checkout switches to an existing branch.
func (g *Git) Checkout(branch string) error {
	_, err := g.run("checkout", branch)
	return err
}

// CreateBranch creates branch from the given start point and switches to
// it. An existing branch is checked out instead.
func (g *Git) CreateBranch(branch, from string) error {
	if g.BranchExists(branch) {
		return g.Checkout(branch)
	}
	_, err := g.run("checkout", "-b", branch, from)
	return err
}

// BranchExists checks whether a local branch exists.
func (g *Git) BranchExists(branch string) bool {
	cmd := exec.Command("git", "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	cmd.Dir = g.workDir
	return cmd.Run() == nil
}

// DeleteBranch deletes a local branch.
func (g *Git) DeleteBranch(branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, branch)
	return err
}

// RebaseOnto rebases the current branch onto base. On conflict the
// repository is left mid-rebase; callers must AbortRebase before moving on.
func (g *Git) RebaseOnto(base string) error {
	_, err := g.run("rebase", base)
	return err
}

// AbortRebase returns the repository to its pre-rebase state.
func (g *Git) AbortRebase() error {
	_, err := g.run("rebase", "--abort")
	return err
}

// FastForwardMerge merges branch into the current branch, fast-forward
// only. A rebased branch always fast-forwards; anything else is a bug.
func (g *Git) FastForwardMerge(branch string) error {
	_, err := g.run("merge", "--ff-only", branch)
	return err
}

// CommitAll stages everything and commits. Returns false when the tree
// had nothing to commit.
func (g *Git) CommitAll(message string) (bool, error) {
	if _, err := g.run("add", "-A"); err != nil {
		return false, err
	}
	cmd := exec.Command("git", "diff", "--cached", "--quiet")
	cmd.Dir = g.workDir
	if cmd.Run() == nil {
		return false, nil
	}
	if _, err := g.run("commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// FirstCommitTime returns the committer time of the first commit on
// branch that is not on base. Branches with no unique commits report a
// zero time and no error.
func (g *Git) FirstCommitTime(branch, base string) (time.Time, error) {
	out, err := g.run("log", "--reverse", "--format=%ct", base+".."+branch)
	if err != nil {
		return time.Time{}, err
	}
	return parseFirstUnixTime(out)
}

// HeadRef returns the full hash of HEAD.
func (g *Git) HeadRef() (string, error) {
	return g.run("rev-parse", "HEAD")
}

// ChangedFiles lists paths that differ between base and HEAD.
func (g *Git) ChangedFiles(base string) ([]string, error) {
	out, err := g.run("diff", "--name-only", base+"...HEAD")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// parseFirstUnixTime reads the first line of git log --format=%ct output.
func parseFirstUnixTime(out string) (time.Time, error) {
	lines := splitLines(out)
	if len(lines) == 0 {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(lines[0], 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse commit time %q: %w", lines[0], err)
	}
	return time.Unix(secs, 0).UTC(), nil
}

func splitLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
