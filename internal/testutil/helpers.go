// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package testutil holds helpers shared by package tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"grimm.is/sentinel/internal/validation"
)

// SocketPath returns a unix socket path in a fresh directory short enough
// for sun_path. t.TempDir names embed the test name and can exceed it.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sntl")
	if err != nil {
		t.Fatalf("create socket dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, name)
	if err := validation.ValidateSocketPath(path); err != nil {
		t.Skipf("temp dir unusable for sockets: %v", err)
	}
	return path
}

// SkipIfRoot skips tests that rely on file permission checks, which root
// bypasses.
func SkipIfRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() == 0 {
		t.Skip("Skipping test: permission checks do not apply to root")
	}
}
