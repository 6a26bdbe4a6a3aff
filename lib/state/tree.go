// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"encoding/json"
	"fmt"
)

// Tree is the root of the state tree: module name to module state.
// Values are JSON-shaped (map[string]any, []any, string, float64,
// bool, nil).
type Tree map[string]any

// Module returns the named module's map, creating it if absent.
// Reducers use it to reach their own slice of the tree.
func (t Tree) Module(name string) map[string]any {
	module, ok := t[name].(map[string]any)
	if !ok {
		module = make(map[string]any)
		t[name] = module
	}
	return module
}

// Get walks path through nested maps. The returned value is shared
// with the tree; callers outside a reducer should use Clone first or
// go through the store's Get.
func (t Tree) Get(path ...string) (any, bool) {
	var current any = map[string]any(t)
	for _, key := range path {
		object, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = object[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Clone returns a deep copy of t.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	return Tree(cloneValue(map[string]any(t)).(map[string]any))
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = cloneValue(value)
		}
		return out
	default:
		return v
	}
}

// Normalize returns v in its JSON-decoded form.
func Normalize(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Number reads a JSON number out of a tree value. Snapshot decoding
// can yield integer types for whole numbers, so reducers read numbers
// through this instead of asserting float64.
func Number(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	}
	return 0, fmt.Errorf("value %v (%T) is not a number", v, v)
}
