// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import "context"

// Resource is anything addressable by id. Returning a Resource from a
// method sends a reference instead of the object.
type Resource interface {
	ResourceID() ID
}

// Method is one remotely callable operation. The context carries the
// caller's transaction: state committed through it is batched into
// the caller's response.
type Method func(ctx context.Context, args Args) (any, error)

// Methods is a target's explicit method table.
type Methods map[string]Method

// Target is a resolved resource that can be invoked.
type Target interface {
	Resource
	Methods() Methods
}

// Describer is implemented by resources that expose plain-data
// properties alongside their reference. Compact mode omits them.
type Describer interface {
	ResourceFields() map[string]any
}

// Initializer is implemented by singletons that need one-time setup
// after construction. The container calls Init exactly once.
type Initializer interface {
	Init(ctx context.Context) error
}
