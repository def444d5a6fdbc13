// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package coordinator

import (
	"fmt"
	"sort"
	"time"

	"swarmline/internal/backlog"
)

// branchCandidate is a worker branch queued for reconciliation.
type branchCandidate struct {
	name        string
	firstCommit time.Time
}

// mergeWorkerBranches reconciles surviving worker branches into the
// base branch under the merge lock. Order is deterministic: branches
// merge by the timestamp of their first unique commit, lexicographic on
// ties, so reruns over the same history produce the same base branch.
func (c *Coordinator) mergeWorkerBranches(result *Result) error {
	candidates, err := c.collectCandidates()
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].firstCommit.Equal(candidates[j].firstCommit) {
			return candidates[i].firstCommit.Before(candidates[j].firstCommit)
		}
		return candidates[i].name < candidates[j].name
	})

	return backlog.WithExclusive(c.LocksDir(), "merge", c.opts.MergeLockWait, func() error {
		for _, cand := range candidates {
			if err := c.mergeOne(cand.name, result); err != nil {
				return err
			}
		}
		return c.repo.Checkout(c.opts.BaseBranch)
	})
}

// collectCandidates finds worker branches that exist and carry at least
// one commit not on base. Branches with no unique commits are skipped
// and deleted when cleanup is enabled.
func (c *Coordinator) collectCandidates() ([]branchCandidate, error) {
	var candidates []branchCandidate
	for i := 1; i <= c.opts.Workers; i++ {
		branch := fmt.Sprintf("swarm/worker-%d", i)
		if !c.repo.BranchExists(branch) {
			continue
		}
		first, err := c.repo.FirstCommitTime(branch, c.opts.BaseBranch)
		if err != nil {
			return nil, fmt.Errorf("inspect branch %s: %w", branch, err)
		}
		if first.IsZero() {
			c.logger.Info("branch has no unique commits, skipping", "branch", branch)
			if c.opts.DeleteMerged {
				if err := c.repo.DeleteBranch(branch, true); err != nil {
					c.logger.Warn("delete empty branch failed", "branch", branch, "error", err)
				}
			}
			continue
		}
		candidates = append(candidates, branchCandidate{name: branch, firstCommit: first})
	}
	return candidates, nil
}

// mergeOne rebases a branch onto the current base and fast-forwards
// base to it. A rebase conflict aborts cleanly and records the branch
// as conflicted without blocking the remaining branches.
func (c *Coordinator) mergeOne(branch string, result *Result) error {
	if err := c.repo.Checkout(branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	if err := c.repo.RebaseOnto(c.opts.BaseBranch); err != nil {
		c.logger.Warn("rebase conflict, skipping branch", "branch", branch, "error", err)
		if aerr := c.repo.AbortRebase(); aerr != nil {
			return fmt.Errorf("abort rebase of %s: %w", branch, aerr)
		}
		result.ConflictBranches = append(result.ConflictBranches, branch)
		return nil
	}

	if err := c.repo.Checkout(c.opts.BaseBranch); err != nil {
		return fmt.Errorf("checkout base: %w", err)
	}
	if err := c.repo.FastForwardMerge(branch); err != nil {
		return fmt.Errorf("fast-forward %s: %w", branch, err)
	}
	result.MergedBranches = append(result.MergedBranches, branch)
	c.logger.Info("branch merged", "branch", branch)

	if c.opts.DeleteMerged {
		if err := c.repo.DeleteBranch(branch, false); err != nil {
			c.logger.Warn("delete merged branch failed", "branch", branch, "error", err)
		}
	}
	return nil
}
