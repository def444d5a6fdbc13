// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package backlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLockTimeout is returned when an exclusive scratch lock cannot be
// acquired within the wait budget.
var ErrLockTimeout = fmt.Errorf("lock acquisition timed out")

// WithExclusive runs fn while holding an exclusive lock file named name
// under lockDir. Lock files are created with O_EXCL so exactly one
// process at a time enters the critical section; the file is removed on
// exit even when fn fails.
func WithExclusive(lockDir, name string, wait time.Duration, fn func() error) error {
	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	path := filepath.Join(lockDir, name+".lock")

	deadline := time.Now().Add(wait)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			f.Close()
			break
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock %s: %w", name, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, name)
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer os.Remove(path)

	return fn()
}
