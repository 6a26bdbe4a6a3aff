// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package listener

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// checkPeer refuses Unix socket peers running as a different user.
// Root is allowed.
func checkPeer(conn *net.UnixConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("peer credentials: %w", err)
	}
	var credentials *unix.Ucred
	var credentialsErr error
	if err := raw.Control(func(fd uintptr) {
		credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil {
		return fmt.Errorf("peer credentials: %w", err)
	}
	if credentialsErr != nil {
		return fmt.Errorf("peer credentials: %w", credentialsErr)
	}
	if credentials.Uid != 0 && int(credentials.Uid) != os.Getuid() {
		return fmt.Errorf("peer uid %d (pid %d) does not match uid %d", credentials.Uid, credentials.Pid, os.Getuid())
	}
	return nil
}
