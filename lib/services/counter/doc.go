// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package counter is the smallest complete Castdeck service: one
// number in replicated state, synchronous and promise-returning
// mutators, and a stream of changes.
//
// [Service] runs inside the worker. [Client] is its remote
// counterpart over an rpc.Client. Both implement [API], so code
// written against the interface runs unchanged in either process.
package counter
