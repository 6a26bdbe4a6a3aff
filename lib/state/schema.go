// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownMutation is returned when no reducer is registered for a
// mutation type.
var ErrUnknownMutation = errors.New("state: unknown mutation type")

// Reducer applies one mutation payload to the tree in place. It must
// be deterministic and must validate its payload before changing
// anything.
type Reducer func(tree Tree, payload any) error

// Schema describes the shape of the state tree. It is built at startup
// and read-only afterwards.
type Schema struct {
	modules  map[string]any
	reducers map[string]Reducer
}

// NewSchema returns an empty schema.
func NewSchema() *Schema {
	return &Schema{modules: make(map[string]any), reducers: make(map[string]Reducer)}
}

// Module declares a top-level module with its initial value. The value
// is normalized through JSON. Declaring a module twice panics.
func (s *Schema) Module(name string, initial any) {
	if _, exists := s.modules[name]; exists {
		panic(fmt.Sprintf("state: duplicate module %q", name))
	}
	normalized, err := Normalize(initial)
	if err != nil {
		panic(fmt.Sprintf("state: initial value of module %q: %v", name, err))
	}
	s.modules[name] = normalized
}

// Reducer registers the reducer for mutationType. Registering a type
// twice panics.
func (s *Schema) Reducer(mutationType string, reducer Reducer) {
	if _, exists := s.reducers[mutationType]; exists {
		panic(fmt.Sprintf("state: duplicate reducer for %q", mutationType))
	}
	s.reducers[mutationType] = reducer
}

// Modules returns the declared module names, sorted.
func (s *Schema) Modules() []string {
	names := make([]string, 0, len(s.modules))
	for name := range s.modules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewTree returns a fresh tree holding every module's initial value.
func (s *Schema) NewTree() Tree {
	tree := make(Tree, len(s.modules))
	for name, initial := range s.modules {
		tree[name] = cloneValue(initial)
	}
	return tree
}

// Apply runs the reducer for mutationType over tree.
func (s *Schema) Apply(tree Tree, mutationType string, payload any) error {
	reducer, ok := s.reducers[mutationType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMutation, mutationType)
	}
	if err := reducer(tree, payload); err != nil {
		return fmt.Errorf("applying %s: %w", mutationType, err)
	}
	return nil
}
