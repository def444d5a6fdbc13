// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package reconciler

// ErrorBudget tracks validation outcomes across reconciliation passes.
// Values are immutable; RecordCommit returns a new budget so concurrent
// readers never observe a half-updated tally.
type ErrorBudget struct {
	TotalCommits      int     `json:"total_commits"`
	FailedValidations int     `json:"failed_validations"`
	FixedByReconciler int     `json:"fixed_by_reconciler"`
	Threshold         float64 `json:"threshold"`
}

// DefaultThreshold is the acceptable validation-failure fraction.
const DefaultThreshold = 0.05

// NewErrorBudget creates a budget with the given error-rate threshold.
func NewErrorBudget(threshold float64) ErrorBudget {
	return ErrorBudget{Threshold: threshold}
}

// RecordCommit returns a new budget with one more commit folded in.
// validationFailed marks a pass that ended with unresolved issues;
// fixApplied marks a pass the reconciler had to repair.
func (b ErrorBudget) RecordCommit(validationFailed, fixApplied bool) ErrorBudget {
	next := ErrorBudget{
		TotalCommits:      b.TotalCommits + 1,
		FailedValidations: b.FailedValidations,
		FixedByReconciler: b.FixedByReconciler,
		Threshold:         b.Threshold,
	}
	if validationFailed {
		next.FailedValidations++
	}
	if fixApplied {
		next.FixedByReconciler++
	}
	return next
}

// ErrorRate is failed validations per commit, 0 before any commits.
func (b ErrorBudget) ErrorRate() float64 {
	if b.TotalCommits == 0 {
		return 0
	}
	return float64(b.FailedValidations) / float64(b.TotalCommits)
}

// FixRate is the fraction of commits the reconciler had to repair.
func (b ErrorBudget) FixRate() float64 {
	if b.TotalCommits == 0 {
		return 0
	}
	return float64(b.FixedByReconciler) / float64(b.TotalCommits)
}

// NetErrorRate is failures the reconciler could not repair, per commit.
func (b ErrorBudget) NetErrorRate() float64 {
	if b.TotalCommits == 0 {
		return 0
	}
	net := b.FailedValidations - b.FixedByReconciler
	if net < 0 {
		net = 0
	}
	return float64(net) / float64(b.TotalCommits)
}

// WithinBudget reports whether the error rate is at or under the
// threshold.
func (b ErrorBudget) WithinBudget() bool {
	return b.ErrorRate() <= b.Threshold
}
