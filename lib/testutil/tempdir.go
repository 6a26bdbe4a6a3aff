// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// maxSocketPath is the sun_path limit on Linux, less the terminator.
const maxSocketPath = 107

// SocketDir creates a directory under /tmp for Unix sockets and removes
// it when the test ends.
func SocketDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "castdeck-*")
	if err != nil {
		t.Fatalf("creating socket directory: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(directory) })
	return directory
}

// SocketPath returns a path for a socket named name in a fresh
// [SocketDir]. It fails the test if the path would be too long to bind.
func SocketPath(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(SocketDir(t), name)
	if len(path) > maxSocketPath {
		t.Fatalf("socket path %q exceeds %d bytes", path, maxSocketPath)
	}
	return path
}
