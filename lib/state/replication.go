// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import "github.com/castdeck/castdeck/lib/mutation"

// ReplicationServiceName is the singleton replicas call to catch up.
const ReplicationServiceName = "ReplicationService"

// SinceResult answers ReplicationService.since.
type SinceResult struct {
	Mutations []mutation.Mutation `json:"mutations"`
	Retained  bool                `json:"retained"`
	LastID    uint64              `json:"lastId"`
}

// DigestResult answers ReplicationService.digest.
type DigestResult struct {
	Digest string `json:"digest"`
	LastID uint64 `json:"lastId"`
}

// StatusResult answers ReplicationService.status.
type StatusResult struct {
	LastID         uint64   `json:"lastId"`
	OldestRetained uint64   `json:"oldestRetained"`
	Peers          []string `json:"peers"`
}
