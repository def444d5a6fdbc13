// Copyright (c) 2025 Swarmline Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

package backlog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithExclusive_RemovesLockOnSuccess(t *testing.T) {
	dir := t.TempDir()
	err := WithExclusive(dir, "merge", time.Second, func() error {
		_, statErr := os.Stat(filepath.Join(dir, "merge.lock"))
		assert.NoError(t, statErr)
		return nil
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "merge.lock"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithExclusive_RemovesLockOnError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	err := WithExclusive(dir, "merge", time.Second, func() error { return boom })
	assert.ErrorIs(t, err, boom)

	_, statErr := os.Stat(filepath.Join(dir, "merge.lock"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestWithExclusive_TimesOutWhenHeld(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "merge.lock"), []byte("held"), 0o644))

	err := WithExclusive(dir, "merge", 100*time.Millisecond, func() error {
		t.Fatal("must not enter critical section")
		return nil
	})
	assert.ErrorIs(t, err, ErrLockTimeout)
}
