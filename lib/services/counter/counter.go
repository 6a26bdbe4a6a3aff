// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
)

const (
	// ServiceName is the singleton's resource name and state module.
	ServiceName = "CounterService"

	// MutationSetValue replaces the counter value.
	MutationSetValue = "SET_VALUE"

	// DefaultLaterDelay is how long IncrementLater waits by default.
	DefaultLaterDelay = 100 * time.Millisecond
)

// Subscriber is the common shape of a worker-side stream and a
// client-side subscription.
type Subscriber interface {
	Subscribe(fn func(any)) (unsubscribe func())
}

// API is implemented by the worker-side Service and the remote Client.
type API interface {
	Get(ctx context.Context) (float64, error)
	Increment(ctx context.Context) error
	Add(ctx context.Context, amount float64) (float64, error)
	IncrementLater(ctx context.Context) (*resource.Promise, error)
	Changes(ctx context.Context) (Subscriber, error)
}

// Getter reads a state tree; both state.Canonical and state.Replica
// implement it.
type Getter interface {
	Get(path ...string) (any, bool)
}

// Register adds the counter module, starting at initial, and its
// reducer to schema.
func Register(schema *state.Schema, initial float64) {
	schema.Module(ServiceName, map[string]any{"value": initial})
	schema.Reducer(MutationSetValue, func(tree state.Tree, payload any) error {
		value, err := state.Number(payload)
		if err != nil {
			return err
		}
		tree.Module(ServiceName)["value"] = value
		return nil
	})
}

// Value reads the counter from a canonical store or a replica.
func Value(source Getter) float64 {
	raw, _ := source.Get(ServiceName, "value")
	value, _ := state.Number(raw)
	return value
}

// Options configures a Service.
type Options struct {
	// LaterDelay is how long IncrementLater waits before committing.
	LaterDelay time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Service is the worker-side counter.
type Service struct {
	store   *state.Canonical
	clock   clock.Clock
	delay   time.Duration
	logger  *slog.Logger
	changed *resource.Stream
}

var _ API = (*Service)(nil)

// New creates the service over store.
func New(store *state.Canonical, options Options) *Service {
	if options.LaterDelay <= 0 {
		options.LaterDelay = DefaultLaterDelay
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	return &Service{
		store:   store,
		clock:   options.Clock,
		delay:   options.LaterDelay,
		logger:  options.Logger,
		changed: resource.NewStream(),
	}
}

// Factory returns a container factory for the service.
func Factory(store *state.Canonical, options Options) resource.SingletonFactory {
	return func(*resource.Container) (resource.Target, error) {
		return New(store, options), nil
	}
}

// ResourceID implements resource.Resource.
func (s *Service) ResourceID() resource.ID { return resource.Singleton(ServiceName) }

// Methods implements resource.Target.
func (s *Service) Methods() resource.Methods {
	return resource.Methods{
		"get": func(ctx context.Context, _ resource.Args) (any, error) {
			return s.Get(ctx)
		},
		"increment": func(ctx context.Context, _ resource.Args) (any, error) {
			return nil, s.Increment(ctx)
		},
		"add": func(ctx context.Context, args resource.Args) (any, error) {
			amount, err := args.Float(0)
			if err != nil {
				return nil, err
			}
			return s.Add(ctx, amount)
		},
		"incrementLater": func(ctx context.Context, _ resource.Args) (any, error) {
			return s.IncrementLater(ctx)
		},
		"changed": func(context.Context, resource.Args) (any, error) {
			return s.changed, nil
		},
	}
}

// Get returns the current value.
func (s *Service) Get(context.Context) (float64, error) {
	return Value(s.store), nil
}

// Increment adds one.
func (s *Service) Increment(ctx context.Context) error {
	_, err := s.Add(ctx, 1)
	return err
}

// Add adds amount and returns the new value.
func (s *Service) Add(ctx context.Context, amount float64) (float64, error) {
	value := Value(s.store) + amount
	if _, err := s.store.Commit(ctx, MutationSetValue, value); err != nil {
		return 0, fmt.Errorf("setting counter: %w", err)
	}
	s.store.AfterCommit(func() { s.changed.Emit(value) })
	return value, nil
}

// IncrementLater increments once the configured delay has passed. The
// promise resolves to the new value. The commit runs in its own
// transaction outside the caller's, so every peer receives it as a push.
func (s *Service) IncrementLater(context.Context) (*resource.Promise, error) {
	promise := resource.NewPromise()
	s.clock.AfterFunc(s.delay, func() {
		var value float64
		err := s.store.Update(context.Background(), func(ctx context.Context) error {
			var err error
			value, err = s.Add(ctx, 1)
			return err
		})
		if err != nil {
			s.logger.Error("delayed increment failed", "error", err)
			promise.Reject(err)
			return
		}
		promise.Resolve(value)
	})
	return promise, nil
}

// Changes returns the stream of new values.
func (s *Service) Changes(context.Context) (Subscriber, error) {
	return s.changed, nil
}
