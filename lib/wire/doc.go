// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the JSON frames exchanged between a caller and
// the worker process, whether the bytes travel over an in-process
// queue, a newline-delimited socket, or a WebSocket.
//
// Three frame shapes exist:
//
//   - [Request]: {id, method, params{resource, args, ...}}
//   - [Response]: {id, result, mutations, error?}, correlated by id
//   - push frames with no id: an EVENT envelope carrying a promise
//     settlement or stream emission, a mutation batch produced by
//     some other caller, or a resync marker telling a replica it
//     missed pushes and must catch up
//
// Resource handles never cross the boundary as objects. They travel
// as a [Reference] ({_type, resourceId, ...}) and are rebuilt as a
// proxy on the receiving side.
package wire
