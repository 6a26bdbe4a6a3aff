// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// ListenUnix listens on a Unix socket at path, the local equivalent of
// a named pipe. A stale socket file is removed first. The socket is
// made accessible to the owner only; Serve additionally refuses peers
// running as another user.
func ListenUnix(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket %s: %w", path, err)
	}
	return listener, nil
}

// ListenTCP listens on a TCP address. Local control is expected, so
// the address should normally be a loopback one.
func ListenTCP(address string) (net.Listener, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}
	return listener, nil
}
