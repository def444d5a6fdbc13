// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Swarmline configuration
type Config struct {
	Project    ProjectConfig    `yaml:"project"`
	Swarm      SwarmConfig      `yaml:"swarm"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Model      ModelConfig      `yaml:"model"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ProjectConfig holds project-level configuration
type ProjectConfig struct {
	Name             string `yaml:"name"`
	WorkingDirectory string `yaml:"working_directory"`
	BaseBranch       string `yaml:"base_branch"`
}

// SwarmConfig controls the worker pool
type SwarmConfig struct {
	Workers           int           `yaml:"workers"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	GracePeriod       time.Duration `yaml:"grace_period"`
	MergeLockWait     time.Duration `yaml:"merge_lock_wait"`
	DeleteMerged      bool          `yaml:"delete_merged"`
}

// ExecutorConfig controls task graph execution
type ExecutorConfig struct {
	GoalBudget time.Duration `yaml:"goal_budget"`
}

// ReconcilerConfig controls the convergence loop
type ReconcilerConfig struct {
	Interval  time.Duration `yaml:"interval"`
	Threshold float64       `yaml:"threshold"`
}

// ModelConfig specifies model preferences
type ModelConfig struct {
	BaseURL   string `yaml:"base_url"`
	Synthesis string `yaml:"synthesis"`
	Judge     string `yaml:"judge"`
}

// TelemetryConfig configures trace export
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	CollectorURL string  `yaml:"collector_url"`
	Environment  string  `yaml:"environment"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Project: ProjectConfig{
			// BaseBranch left empty: the repository's currently
			// checked-out branch is used unless one is pinned here.
			Name: "swarmline",
		},
		Swarm: SwarmConfig{
			Workers:           2,
			HeartbeatInterval: 5 * time.Second,
			GracePeriod:       10 * time.Second,
			MergeLockWait:     time.Minute,
			DeleteMerged:      true,
		},
		Executor: ExecutorConfig{
			GoalBudget: 10 * time.Minute,
		},
		Reconciler: ReconcilerConfig{
			Interval:  30 * time.Second,
			Threshold: 0.05,
		},
		Model: ModelConfig{
			BaseURL:   "http://localhost:4096",
			Synthesis: "anthropic/claude-sonnet-4-20250514",
			Judge:     "anthropic/claude-sonnet-4-20250514",
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			CollectorURL: "localhost:4318",
			Environment:  "development",
			SamplingRate: 1.0,
		},
	}
}

// Path returns the config file location under a repository root.
func Path(repoDir string) string {
	return filepath.Join(repoDir, ".swarmline", "config.yaml")
}

// Load reads the configuration from .swarmline/config.yaml under
// repoDir, falling back to defaults when the file does not exist.
func Load(repoDir string) (*Config, error) {
	cfg := Default()
	cfg.Project.WorkingDirectory = repoDir

	path := Path(repoDir)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Project.WorkingDirectory == "" {
		cfg.Project.WorkingDirectory = repoDir
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Swarm.Workers < 1 {
		return fmt.Errorf("worker count must be at least 1, got %d", c.Swarm.Workers)
	}
	if c.Swarm.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.Reconciler.Threshold < 0 || c.Reconciler.Threshold > 1 {
		return fmt.Errorf("reconciler threshold must be in [0, 1], got %g", c.Reconciler.Threshold)
	}
	if c.Model.BaseURL == "" {
		return fmt.Errorf("model base URL is required")
	}
	return nil
}
