// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for Castdeck packages.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// pattern used when a test waits on a push frame, a promise
// settlement, or a stream event. They are the only place tests use
// wall-clock timeouts; everything else runs on clock.Fake.
//
// [SocketPath] and [SocketDir] place Unix sockets in a short directory
// under /tmp, since socket paths are limited to 108 bytes and
// t.TempDir paths often exceed that.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
