// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package mutation

import "encoding/json"

// Mutation is one committed state change. Payload is the JSON
// encoding of the value the reducer for Type receives.
type Mutation struct {
	ID      uint64          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// LastID returns the highest id in batch, or 0 for an empty batch.
func LastID(batch []Mutation) uint64 {
	var last uint64
	for _, m := range batch {
		if m.ID > last {
			last = m.ID
		}
	}
	return last
}
