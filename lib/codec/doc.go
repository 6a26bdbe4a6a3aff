// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Castdeck's deterministic CBOR encoding.
//
// Castdeck speaks JSON on every wire the renderer windows and external
// listeners see. CBOR is used only where byte-for-byte reproducibility
// matters: replicated state snapshots and the digests computed over
// them. Two processes that hold the same logical state tree must
// produce the same snapshot bytes, so the encoder uses Core
// Deterministic Encoding (RFC 8949 §4.2): sorted map keys, shortest
// integer and float forms, no indefinite-length items.
//
//	data, err := codec.Marshal(tree)
//	err = codec.Unmarshal(data, &tree)
//
// Values decoded into an any-typed target use map[string]any for maps
// so a decoded snapshot has the same shape as a tree built from JSON.
package codec
