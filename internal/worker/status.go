// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the heartbeat record a worker publishes for the coordinator.
// It lives at <workersDir>/worker-<id>.json.
type Status struct {
	WorkerID      string   `json:"worker_id"`
	LastHeartbeat string   `json:"last_heartbeat"`
	ClaimedGoals  []string `json:"claimed_goals"`
}

// StatusPath returns the status file path for a worker ID.
func StatusPath(workersDir, workerID string) string {
	return filepath.Join(workersDir, workerID+".json")
}

// WriteStatus atomically replaces the worker's status file. A rename
// keeps the coordinator from ever reading a half-written record.
func WriteStatus(workersDir string, status Status) error {
	if err := os.MkdirAll(workersDir, 0o755); err != nil {
		return fmt.Errorf("create workers dir: %w", err)
	}
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}

	path := StatusPath(workersDir, status.WorkerID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish status: %w", err)
	}
	return nil
}

// ReadStatus loads a worker's status file.
func ReadStatus(workersDir, workerID string) (Status, error) {
	var status Status
	data, err := os.ReadFile(StatusPath(workersDir, workerID))
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(data, &status); err != nil {
		return status, fmt.Errorf("parse status for %s: %w", workerID, err)
	}
	return status, nil
}

// HeartbeatAge returns how long ago the status was written. A malformed
// timestamp reports a very large age so the worker counts as stuck.
func (s Status) HeartbeatAge(now time.Time) time.Duration {
	ts, err := time.Parse(time.RFC3339, s.LastHeartbeat)
	if err != nil {
		return time.Duration(1<<62 - 1)
	}
	return now.Sub(ts)
}
