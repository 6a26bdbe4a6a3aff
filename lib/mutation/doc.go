// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package mutation defines the numbered state-change records the
// worker process produces and the bounded log that retains them for
// catch-up.
//
// Every committed change to canonical state is assigned the next
// integer id. Ids start at 1 and have no gaps within one worker
// session, so a consumer that sees id > lastApplied+1 knows it missed
// something. The [Log] is a fixed-capacity ring buffer indexed by
// id % size; once it wraps, old entries are gone and [Log.Since]
// reports [ErrRetentionMiss] so the caller falls back to a full
// snapshot instead of replaying a gapped range.
package mutation
