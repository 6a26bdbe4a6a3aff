// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package rpc is the caller side of the worker protocol: the transports
// that carry frames to the worker, and the [Client] that turns calls
// on a [Proxy] into requests and responses back into values.
//
// A Client owns one push loop. Mutation batches pushed by the worker
// are applied to the client's replica there, promise settlements
// resolve the matching pending promise exactly once, stream emissions
// reach local subscribers, and responses to asynchronous actions
// settle the action's [Pending]. Synchronous call responses bypass the
// loop: the caller applies the mutations it got back before it sees
// the result, so its own reads are consistent immediately.
package rpc
