// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package reconciler keeps merged work convergent: it sweeps the files
// recently changed on the base branch, validates them, repairs what it
// can, and tracks an error budget so sustained decay surfaces as a
// degraded status instead of silent drift.
package reconciler

import (
	"context"
	"go/format"
	"go/parser"
	"go/token"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"swarmline/internal/gitops"
	"swarmline/internal/telemetry"
)

// A cycle validates at most this many files. Larger change sets are
// truncated so one runaway merge cannot stall the loop.
const maxValidatedFiles = 100

const historyLimit = 50

// Issue is one validation finding.
type Issue struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"` // "syntax" or "format"
	Detail  string `json:"detail"`
	Fixable bool   `json:"fixable"`
	Fixed   bool   `json:"fixed"`
}

// CycleResult summarizes one reconciliation pass.
type CycleResult struct {
	Success         bool          `json:"success"`
	SnapshotRef     string        `json:"snapshot_ref"`
	FilesChecked    int           `json:"files_checked"`
	IssuesFound     int           `json:"issues_found"`
	IssuesFixed     int           `json:"issues_fixed"`
	IssuesRemaining int           `json:"issues_remaining"`
	Issues          []Issue       `json:"issues,omitempty"`
	Elapsed         time.Duration `json:"elapsed"`
}

// Status is the reconciler's health summary.
type Status struct {
	State     string       `json:"state"` // "healthy" or "degraded"
	Budget    ErrorBudget  `json:"budget"`
	CyclesRun int          `json:"cycles_run"`
	LastCycle *CycleResult `json:"last_cycle,omitempty"`
}

// Reconciler validates and repairs recently merged files.
type Reconciler struct {
	repo       gitops.Repo
	dir        string
	baseBranch string
	logger     *slog.Logger

	mu      sync.Mutex
	budget  ErrorBudget
	history []CycleResult
}

// New creates a reconciler rooted at dir, comparing HEAD against
// baseBranch's merge base.
func New(repo gitops.Repo, dir, baseBranch string, budget ErrorBudget, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		repo:       repo,
		dir:        dir,
		baseBranch: baseBranch,
		budget:     budget,
		logger:     logger,
	}
}

// RunCycle performs one validation sweep. The error budget is updated
// on every path, including cycles that find nothing.
func (r *Reconciler) RunCycle(ctx context.Context) CycleResult {
	start := time.Now()
	result := CycleResult{}

	ctx, span := telemetry.StartSpan(ctx, "reconciler", "reconciler.cycle")
	defer span.End()
	span.SetAttributes(telemetry.AttrBaseBranch.String(r.baseBranch))

	if ref, err := r.repo.HeadRef(); err == nil {
		result.SnapshotRef = ref
	} else {
		r.logger.Warn("snapshot ref unavailable", "error", err)
	}

	files, err := r.discoverFiles()
	if err != nil {
		r.logger.Error("file discovery failed", "error", err)
		telemetry.RecordError(ctx, err)
		result.Elapsed = time.Since(start)
		r.record(result)
		return result
	}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		issue, ok := r.validateFile(path)
		if ok {
			continue
		}
		if issue.Fixable {
			if r.fixFile(path) {
				issue.Fixed = true
				result.IssuesFixed++
			}
		}
		result.Issues = append(result.Issues, issue)
	}

	result.FilesChecked = len(files)
	result.IssuesFound = len(result.Issues)
	result.IssuesRemaining = result.IssuesFound - result.IssuesFixed
	result.Success = result.IssuesRemaining == 0
	result.Elapsed = time.Since(start)

	span.SetAttributes(
		telemetry.AttrFilesChecked.Int(result.FilesChecked),
		telemetry.AttrIssuesFound.Int(result.IssuesFound),
		telemetry.AttrIssuesFixed.Int(result.IssuesFixed),
		telemetry.AttrSuccess.Bool(result.Success),
	)
	span.SetAttributes(telemetry.DurationAttrs(result.Elapsed)...)

	r.record(result)
	r.logger.Info("reconciliation cycle finished",
		"files", result.FilesChecked,
		"found", result.IssuesFound,
		"fixed", result.IssuesFixed,
		"remaining", result.IssuesRemaining)
	return result
}

// Budget returns the current error budget snapshot.
func (r *Reconciler) Budget() ErrorBudget {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.budget
}

// CurrentStatus reports healthy while the net error rate stays within
// budget, degraded otherwise.
func (r *Reconciler) CurrentStatus() Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := Status{
		State:     "healthy",
		Budget:    r.budget,
		CyclesRun: len(r.history),
	}
	if !r.budget.WithinBudget() {
		status.State = "degraded"
	}
	if n := len(r.history); n > 0 {
		last := r.history[n-1]
		status.LastCycle = &last
	}
	return status
}

// record folds one pass into the budget. The update happens win or
// lose; this is the only way the budget advances.
func (r *Reconciler) record(result CycleResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.budget = r.budget.RecordCommit(!result.Success, result.IssuesFixed > 0)
	if !r.budget.WithinBudget() {
		r.logger.Warn("error budget exceeded",
			"error_rate", r.budget.ErrorRate(),
			"threshold", r.budget.Threshold)
	}
	r.history = append(r.history, result)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
}

// discoverFiles lists changed Go files, skipping hidden and vendored
// paths, capped at maxValidatedFiles.
func (r *Reconciler) discoverFiles() ([]string, error) {
	changed, err := r.repo.ChangedFiles(r.baseBranch)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, rel := range changed {
		if !strings.HasSuffix(rel, ".go") || skipPath(rel) {
			continue
		}
		abs := filepath.Join(r.dir, rel)
		if _, err := os.Stat(abs); err != nil {
			continue // deleted by the change set
		}
		files = append(files, abs)
		if len(files) == maxValidatedFiles {
			r.logger.Warn("change set truncated", "cap", maxValidatedFiles)
			break
		}
	}
	return files, nil
}

func skipPath(rel string) bool {
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		if strings.HasPrefix(part, ".") || part == "vendor" {
			return true
		}
	}
	return false
}

// validateFile checks one file. Syntax errors are unfixable; formatting
// divergence is fixable.
func (r *Reconciler) validateFile(path string) (Issue, bool) {
	src, err := os.ReadFile(path)
	if err != nil {
		return Issue{Path: path, Kind: "syntax", Detail: err.Error()}, false
	}

	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, path, src, parser.AllErrors); err != nil {
		return Issue{Path: path, Kind: "syntax", Detail: err.Error()}, false
	}

	formatted, err := format.Source(src)
	if err != nil {
		return Issue{Path: path, Kind: "format", Detail: err.Error()}, false
	}
	if string(formatted) != string(src) {
		return Issue{Path: path, Kind: "format", Detail: "file is not gofmt-formatted", Fixable: true}, false
	}
	return Issue{}, true
}

// fixFile rewrites the file with canonical formatting and re-validates.
func (r *Reconciler) fixFile(path string) bool {
	src, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	formatted, err := format.Source(src)
	if err != nil {
		return false
	}
	if err := os.WriteFile(path, formatted, 0o644); err != nil {
		r.logger.Error("fix write failed", "path", path, "error", err)
		return false
	}
	_, ok := r.validateFile(path)
	return ok
}
