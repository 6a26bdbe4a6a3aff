// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package framing splits a connection into discrete JSON frames: one
// frame per line on stream sockets (TCP, Unix), one frame per text
// message on WebSockets. Clients and listeners share it so both ends
// agree on limits and error behavior.
package framing
