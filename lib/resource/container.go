// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrNotFound is returned when an id names no registered type.
	ErrNotFound = errors.New("resource not found")

	// ErrKindMismatch is returned when a singleton id names a helper
	// type or the reverse.
	ErrKindMismatch = errors.New("resource kind mismatch")
)

// SingletonFactory constructs a singleton. The container passes itself
// so a service can resolve the services it depends on.
type SingletonFactory func(c *Container) (Target, error)

// HelperFactory constructs a helper view from the arguments encoded in
// its id. It must have no side effects beyond construction.
type HelperFactory func(c *Container, args Args) (Target, error)

type registration struct {
	kind      Kind
	singleton SingletonFactory
	helper    HelperFactory
}

type instance struct {
	once   sync.Once
	target Target
	err    error
}

// Container is the registry of resource types and the owner of every
// singleton instance. It is safe for concurrent use.
//
// Singleton initialization holds a per-instance once, so two services
// that resolve each other from Init deadlock. Resolve dependencies
// lazily from method bodies instead.
type Container struct {
	mu        sync.Mutex
	types     map[string]registration
	instances map[string]*instance
}

// NewContainer returns an empty container.
func NewContainer() *Container {
	return &Container{
		types:     make(map[string]registration),
		instances: make(map[string]*instance),
	}
}

// RegisterSingleton registers a singleton type. Registration is
// expected at startup; registering a name twice panics.
func (c *Container) RegisterSingleton(name string, factory SingletonFactory) {
	c.register(name, registration{kind: KindSingleton, singleton: factory})
}

// RegisterHelper registers a helper type. Registering a name twice
// panics.
func (c *Container) RegisterHelper(name string, factory HelperFactory) {
	c.register(name, registration{kind: KindHelper, helper: factory})
}

func (c *Container) register(name string, entry registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.types[name]; exists {
		panic(fmt.Sprintf("resource: duplicate registration for %q", name))
	}
	c.types[name] = entry
}

// Has reports whether name is registered.
func (c *Container) Has(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.types[name]
	return ok
}

// Types returns the registered type names, sorted.
func (c *Container) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.types))
	for name := range c.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve returns the live target for id, constructing and
// initializing a singleton on first use. A singleton whose
// construction or Init failed keeps returning that error.
func (c *Container) Resolve(ctx context.Context, id ID) (Target, error) {
	c.mu.Lock()
	entry, ok := c.types[id.Name()]
	if !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if entry.kind != id.Kind() {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is registered as a %s", ErrKindMismatch, id.Name(), entry.kind)
	}
	if entry.kind == KindHelper {
		c.mu.Unlock()
		args, err := id.Args()
		if err != nil {
			return nil, err
		}
		target, err := entry.helper(c, args)
		if err != nil {
			return nil, fmt.Errorf("constructing %s: %w", id, err)
		}
		return target, nil
	}

	inst, ok := c.instances[id.Name()]
	if !ok {
		inst = &instance{}
		c.instances[id.Name()] = inst
	}
	c.mu.Unlock()

	inst.once.Do(func() {
		target, err := entry.singleton(c)
		if err != nil {
			inst.err = fmt.Errorf("constructing %s: %w", id, err)
			return
		}
		if initializer, ok := target.(Initializer); ok {
			if err := initializer.Init(ctx); err != nil {
				inst.err = fmt.Errorf("initializing %s: %w", id, err)
				return
			}
		}
		inst.target = target
	})
	return inst.target, inst.err
}

// ResolveString parses s and resolves it.
func (c *Container) ResolveString(ctx context.Context, s string) (Target, error) {
	id, err := ParseID(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return c.Resolve(ctx, id)
}

// Require resolves each named singleton, joining every failure. The
// worker calls it at startup so a missing or broken core service is
// fatal before any caller connects.
func (c *Container) Require(ctx context.Context, names ...string) error {
	var errs []error
	for _, name := range names {
		if _, err := c.Resolve(ctx, Singleton(name)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
