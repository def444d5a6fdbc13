// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package cli

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"swarmline/internal/reconciler"
)

var reconcileFlags struct {
	repoDir string
	watch   bool
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Validate and repair recently merged files",
	Long: "Runs one reconciliation cycle over the files changed on the base branch.\n" +
		"With --watch, keeps cycling on the configured interval until interrupted.",
	RunE: runReconcile,
}

func init() {
	reconcileCmd.Flags().StringVar(&reconcileFlags.repoDir, "repo", ".", "repository to reconcile")
	reconcileCmd.Flags().BoolVar(&reconcileFlags.watch, "watch", false, "keep reconciling on an interval")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(reconcileFlags.repoDir)
	if err != nil {
		return err
	}
	repo, err := openRepo(reconcileFlags.repoDir)
	if err != nil {
		return err
	}

	base, err := resolveBaseBranch(repo, cfg)
	if err != nil {
		return err
	}

	rec := reconciler.New(repo, reconcileFlags.repoDir, base,
		reconciler.NewErrorBudget(cfg.Reconciler.Threshold), slog.Default())

	if reconcileFlags.watch {
		rec.Loop(ctx, cfg.Reconciler.Interval)
		return printStatus(rec)
	}

	result := rec.RunCycle(ctx)
	if err := printStatus(rec); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("%d issues remain", result.IssuesRemaining)
	}
	return nil
}

func printStatus(rec *reconciler.Reconciler) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec.CurrentStatus())
}
