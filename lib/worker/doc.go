// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker is the process that owns the canonical state and the
// resource container. Every other window reaches it through a
// transport and executes calls here.
//
// The [Executor] runs one request: resolve the target, decode the
// arguments, invoke the method inside a state transaction, and render
// the result. Promise and stream results answer with a subscription
// reference; their later settlements and emissions are delivered as
// EVENT pushes through the [Hub].
//
// The Hub tracks every attached peer. In-process windows attach as a
// [Window]; external connections attach through package listener.
// Each peer owns a bounded queue, so one slow peer never blocks the
// executor or any other peer.
package worker
