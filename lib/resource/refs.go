// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/castdeck/castdeck/lib/wire"
)

// DecodeArgs decodes raw call arguments, replacing every embedded
// resource reference with its live target.
func (c *Container) DecodeArgs(ctx context.Context, raw []json.RawMessage) (Args, error) {
	args := make(Args, len(raw))
	for i, data := range raw {
		var value any
		if err := json.Unmarshal(data, &value); err != nil {
			return nil, fmt.Errorf("%w: argument %d: %v", ErrInvalidArgument, i, err)
		}
		resolved, err := c.resolveRefs(ctx, value, 0)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = resolved
	}
	return args, nil
}

func (c *Container) resolveRefs(ctx context.Context, value any, depth int) (any, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}
	switch typed := value.(type) {
	case map[string]any:
		if ref, ok := wire.ReferenceFromMap(typed); ok && ref.IsResource() {
			return c.ResolveString(ctx, ref.ResourceID)
		}
		for key, item := range typed {
			resolved, err := c.resolveRefs(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			typed[key] = resolved
		}
		return typed, nil
	case []any:
		for i, item := range typed {
			resolved, err := c.resolveRefs(ctx, item, depth+1)
			if err != nil {
				return nil, err
			}
			typed[i] = resolved
		}
		return typed, nil
	}
	return value, nil
}
