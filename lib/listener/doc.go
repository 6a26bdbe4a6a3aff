// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package listener exposes a worker to out-of-process clients: local
// tools over TCP or a Unix socket, and browser panels or remote
// operators over WebSocket.
//
// Every accepted connection gets a client record that is attached to
// the worker's hub as a peer. The record holds the connection's
// authorization state and the set of stream subscriptions it asked
// for. Stream events are forwarded only for subscribed streams, unless
// the connection called listenAllSubscriptions. Promise settlements go
// to the connection that received the promise reference. Mutation
// batches are forwarded to every authorized connection so clients
// that keep a replica stay converged.
//
// Three methods sent to the ListenerService resource are answered by
// the listener itself: auth presents a bearer token,
// listenAllSubscriptions widens the event filter, and unsubscribe
// removes a stream from the set. Everything else goes to the
// executor.
//
// Connection policy is enforced here rather than in the protocol:
// an idle timeout for connections without subscriptions, a maximum
// frame size, and a cap on consecutive malformed frames.
package listener
