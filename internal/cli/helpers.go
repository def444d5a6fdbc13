// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package cli

import (
	"context"
	"fmt"
	"path/filepath"

	"swarmline/internal/backlog"
	"swarmline/internal/config"
	"swarmline/internal/coordinator"
	"swarmline/internal/gitops"
	"swarmline/internal/telemetry"
)

// backlogPath returns the backlog database location under a repo root.
func backlogPath(repoDir string) string {
	return filepath.Join(repoDir, coordinator.ScratchDir, "backlog.db")
}

// loadConfig loads and validates configuration for a repo directory.
func loadConfig(repoDir string) (*config.Config, error) {
	cfg, err := config.Load(repoDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openRepo verifies repoDir is a git repository and returns a handle.
func openRepo(repoDir string) (*gitops.Git, error) {
	repo := gitops.New(repoDir)
	if !repo.IsRepo() {
		return nil, fmt.Errorf("%s is not a git repository", repoDir)
	}
	return repo, nil
}

// resolveBaseBranch returns the configured base branch, falling back to
// whatever the repository has checked out.
func resolveBaseBranch(repo gitops.Repo, cfg *config.Config) (string, error) {
	if cfg.Project.BaseBranch != "" {
		return cfg.Project.BaseBranch, nil
	}
	branch, err := repo.CurrentBranch()
	if err != nil {
		return "", fmt.Errorf("resolve base branch: %w", err)
	}
	return branch, nil
}

// openBacklog opens the backlog store for a repo directory.
func openBacklog(repoDir string) (*backlog.Store, error) {
	return backlog.Open(backlogPath(repoDir))
}

// initTelemetry starts trace export when enabled. The returned shutdown
// function is safe to call unconditionally.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	if !cfg.Telemetry.Enabled {
		return func() {}, nil
	}
	tp, err := telemetry.NewTracerProvider(ctx, &telemetry.Config{
		ServiceName:    "swarmline",
		ServiceVersion: "1.0.0",
		CollectorURL:   cfg.Telemetry.CollectorURL,
		Environment:    cfg.Telemetry.Environment,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	return func() { _ = tp.Shutdown(context.Background()) }, nil
}
