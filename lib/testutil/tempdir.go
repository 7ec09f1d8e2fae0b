// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// SocketDir creates a short-named temporary directory in /tmp suitable
// for Unix domain sockets, whose paths are limited to 108 bytes.
//
// The directory is automatically removed when the test completes.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "streamreplay-test-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}

// SocketPath returns a fresh socket path inside a new SocketDir.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(SocketDir(t), UniqueID(name)+".sock")
}

// SelfBinary returns the path of the running test binary. Tests that
// need a child process re-execute themselves with a marker variable
// and branch in TestMain, which avoids building helper binaries.
func SelfBinary(t *testing.T) string {
	t.Helper()
	path, err := os.Executable()
	if err != nil {
		t.Fatalf("resolving test binary: %v", err)
	}
	return path
}
