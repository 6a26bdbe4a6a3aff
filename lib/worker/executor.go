// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/mutation"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/wire"
)

// Executor runs requests against the container. It is safe for
// concurrent use; the canonical store serializes the calls.
type Executor struct {
	container *resource.Container
	store     *state.Canonical
	hub       *Hub
	clock     clock.Clock
	logger    *slog.Logger

	// slowCall is the duration past which a call is logged as slow.
	// Zero disables the check.
	slowCall time.Duration

	mu      sync.Mutex
	streams map[string]func()
}

// NewExecutor returns an executor that resolves targets from
// container, commits through store, and pushes through hub.
func NewExecutor(container *resource.Container, store *state.Canonical, hub *Hub, clk clock.Clock, slowCall time.Duration, logger *slog.Logger) *Executor {
	return &Executor{
		container: container,
		store:     store,
		hub:       hub,
		clock:     clk,
		logger:    logger,
		slowCall:  slowCall,
		streams:   make(map[string]func()),
	}
}

// Execute runs a synchronous request. When the request asks for its
// mutations, they are returned in the response and withheld from the
// originating window's push stream.
func (e *Executor) Execute(ctx context.Context, request *wire.Request) *wire.Response {
	return e.execute(ctx, request, false)
}

// ExecuteAction runs an asynchronous action. Its batch is published to
// every peer, the originating window included, since the caller does
// not wait for the response before reading local state.
func (e *Executor) ExecuteAction(ctx context.Context, request *wire.Request) *wire.Response {
	return e.execute(ctx, request, true)
}

func (e *Executor) execute(ctx context.Context, request *wire.Request, action bool) *wire.Response {
	start := e.clock.Now()
	response := &wire.Response{ID: request.ID, Mutations: []mutation.Mutation{}}

	txCtx, txn := e.store.Begin(ctx)
	result, err := e.invoke(txCtx, request)
	var rendered json.RawMessage
	var promise *resource.Promise
	var promiseID string
	if err == nil {
		rendered, promise, promiseID, err = e.render(request, result)
	}

	exclude := ""
	if request.Params.FetchMutations && !action {
		exclude = request.Params.WindowID
	}
	batch := txn.End(exclude)
	if request.Params.FetchMutations {
		response.Mutations = batch
	}

	if err != nil {
		response.Error = errorFor(err)
		e.logger.Warn("call failed",
			"resource", request.Params.Resource,
			"method", request.Method,
			"window", request.Params.WindowID,
			"code", response.Error.Code.String(),
			"error", err,
		)
	} else {
		response.Result = rendered
		if promise != nil && !request.Params.NoReturn {
			go e.settleLater(promise, promiseID, request.Params.WindowID)
		}
	}

	elapsed := e.clock.Now().Sub(start)
	if e.slowCall > 0 && elapsed > e.slowCall {
		e.logger.Warn("slow call",
			"resource", request.Params.Resource,
			"method", request.Method,
			"duration", elapsed,
		)
	}
	return response
}

// invoke resolves the target and calls the method, converting a panic
// into an internal error.
func (e *Executor) invoke(ctx context.Context, request *wire.Request) (result any, err error) {
	target, err := e.container.ResolveString(ctx, request.Params.Resource)
	if err != nil {
		return nil, err
	}
	method, ok := target.Methods()[request.Method]
	if !ok {
		return nil, wire.Errorf(wire.CodeMethodNotFound, "%s has no method %q", request.Params.Resource, request.Method)
	}
	args, err := e.container.DecodeArgs(ctx, request.Params.Args)
	if err != nil {
		return nil, err
	}

	defer func() {
		if recovered := recover(); recovered != nil {
			e.logger.Error("panic in resource method",
				"resource", request.Params.Resource,
				"method", request.Method,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("%s.%s panicked: %v", request.Params.Resource, request.Method, recovered)
		}
	}()
	return method(ctx, args)
}

// render converts a method result to its wire form.
func (e *Executor) render(request *wire.Request, result any) (json.RawMessage, *resource.Promise, string, error) {
	switch typed := result.(type) {
	case nil:
		return nil, nil, "", nil

	case *resource.Promise:
		id := "promise:" + ulid.Make().String()
		data, err := json.Marshal(wire.Reference{Type: wire.TypeSubscription, Emitter: wire.EmitterPromise, ResourceID: id})
		return data, typed, id, err

	case *resource.Stream:
		id := request.Params.Resource + "." + request.Method
		e.forward(id, typed)
		data, err := json.Marshal(wire.Reference{Type: wire.TypeSubscription, Emitter: wire.EmitterStream, ResourceID: id})
		return data, nil, "", err
	}

	data, err := encodeValue(result, request.Params.CompactMode)
	return data, nil, "", err
}

// forward subscribes once to a stream and broadcasts each emission.
// The first stream returned under an id wins; services return the
// same stream for the same property.
func (e *Executor) forward(id string, stream *resource.Stream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.streams[id]; exists {
		return
	}
	e.streams[id] = stream.Subscribe(func(value any) {
		data, err := encodeValue(value, false)
		if err != nil {
			e.logger.Error("stream emission cannot be serialized", "stream", id, "error", err)
			return
		}
		push := wire.Push{Event: &wire.Event{
			Type:       wire.TypeEvent,
			Emitter:    wire.EmitterStream,
			ResourceID: id,
			Data:       data,
		}}
		e.store.AfterCommit(func() { e.hub.Broadcast(push) })
	})
	e.logger.Debug("stream forwarded", "stream", id)
}

// settleLater waits for a promise and pushes its settlement to the
// window that received the subscription reference.
func (e *Executor) settleLater(promise *resource.Promise, id, window string) {
	value, err := promise.Wait(context.Background())
	event := &wire.Event{Type: wire.TypeEvent, Emitter: wire.EmitterPromise, ResourceID: id}
	if err == nil {
		event.Data, err = encodeValue(value, false)
	}
	if err != nil {
		event.IsRejected = true
		event.Data, _ = json.Marshal(wire.AsError(err))
	}
	e.store.AfterCommit(func() {
		if !e.hub.SendTo(window, wire.Push{Event: event}) {
			e.logger.Debug("promise settled after window detached", "promise", id, "window", window)
		}
	})
}

// Close stops forwarding every stream.
func (e *Executor) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, unsubscribe := range e.streams {
		unsubscribe()
		delete(e.streams, id)
	}
}

func encodeValue(value any, compact bool) (json.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	reified, err := resource.Reify(value, resource.ReifyOptions{Compact: compact})
	if err != nil {
		return nil, err
	}
	return json.Marshal(reified)
}

// errorFor maps a call failure to its wire error.
func errorFor(err error) *wire.Error {
	var wireErr *wire.Error
	switch {
	case errors.As(err, &wireErr):
		return wireErr
	case errors.Is(err, resource.ErrNotFound), errors.Is(err, resource.ErrKindMismatch):
		return &wire.Error{Code: wire.CodeMethodNotFound, Message: err.Error()}
	case errors.Is(err, resource.ErrInvalidArgument):
		return &wire.Error{Code: wire.CodeInvalidParams, Message: err.Error()}
	default:
		return &wire.Error{Code: wire.CodeInternal, Message: err.Error()}
	}
}
