// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package state holds the application state tree in its two roles: the
// canonical copy owned by the worker, and read-only replicas held by
// every other window.
//
// State changes only through named mutations. A [Schema] lists the
// modules of the tree with their initial values and the reducer for
// each mutation type. [Canonical] applies a mutation, assigns it the
// next id, appends it to the mutation log and fans it out through a
// [Publisher]. [Replica] applies batches in strict id order, discards
// anything it has already seen, and on a gap catches up through a
// [Resyncer] before continuing.
//
// Payloads are normalized through JSON before any reducer sees them,
// on both sides, so the canonical tree and every replica run the same
// reducer over identical values. Two trees that have applied the same
// mutations produce the same [Digest].
package state
