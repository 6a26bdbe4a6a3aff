// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/mutation"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/wire"
)

// maxEarlySettlements bounds promise settlements buffered before the
// call that created the promise has returned its reference.
const maxEarlySettlements = 1024

// maxSettledPromises bounds the recently settled promise ids kept to
// recognize duplicate settlements.
const maxSettledPromises = 1024

// Options configures a Client.
type Options struct {
	// Replica receives pushed and returned mutations. Nil makes a
	// stateless client (CLI tools, scripts) that does not request
	// mutations with its calls.
	Replica *state.Replica

	// SlowCall logs calls that take longer. Zero disables it;
	// development builds set it.
	SlowCall time.Duration

	// CompactMode asks the worker to omit reference fields.
	CompactMode bool

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client issues calls over a transport and processes the pushes that
// come back.
type Client struct {
	transport Transport
	replica   *state.Replica
	slowCall  time.Duration
	compact   bool
	clock     clock.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	err      error
	actions  map[string]*Pending
	promises map[string]*resource.Promise
	early    map[string]*wire.Event
	settled  map[string]struct{}
	recent   []string // settled ids, oldest first
	streams  map[string]*Subscription
	byProp   map[string]*Subscription
}

// NewClient starts a client over transport. When a replica is given,
// the client becomes its catch-up source.
func NewClient(transport Transport, options Options) *Client {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		transport: transport,
		replica:   options.Replica,
		slowCall:  options.SlowCall,
		compact:   options.CompactMode,
		clock:     clk,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		actions:   make(map[string]*Pending),
		promises:  make(map[string]*resource.Promise),
		early:     make(map[string]*wire.Event),
		settled:   make(map[string]struct{}),
		streams:   make(map[string]*Subscription),
		byProp:    make(map[string]*Subscription),
	}
	if c.replica != nil {
		c.replica.SetResyncer(c)
	}
	go c.run()
	return c
}

// Replica returns the client's replica, or nil.
func (c *Client) Replica() *state.Replica { return c.replica }

// Done is closed when the push loop stops.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the push loop stopped, or nil while it runs.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close stops the push loop and closes the transport. Outstanding
// actions and promises are rejected with ErrClosed.
func (c *Client) Close() error {
	c.cancel()
	err := c.transport.Close()
	<-c.done
	return err
}

// Singleton returns a proxy for the named singleton service.
func (c *Client) Singleton(name string) *Proxy {
	return c.Proxy(resource.Singleton(name))
}

// Proxy returns a proxy for id with no known fields.
func (c *Client) Proxy(id resource.ID) *Proxy {
	return newProxy(c, id, nil)
}

// Call invokes method synchronously and returns the unwrapped result:
// references become proxies, promise references become
// *resource.Promise, stream references become *Subscription.
func (c *Client) Call(ctx context.Context, id resource.ID, method string, args ...any) (any, error) {
	response, err := c.roundTrip(ctx, id, method, args)
	if err != nil {
		return nil, err
	}
	return c.unwrap(response.Result)
}

// CallInto invokes method synchronously and decodes the raw result
// into out. References are left as plain objects.
func (c *Client) CallInto(ctx context.Context, id resource.ID, method string, out any, args ...any) error {
	response, err := c.roundTrip(ctx, id, method, args)
	if err != nil {
		return err
	}
	if out == nil || len(response.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(response.Result, out); err != nil {
		return fmt.Errorf("decoding result of %s.%s: %w", id, method, err)
	}
	return nil
}

// Action dispatches method without waiting. The returned Pending
// settles when the worker's response arrives.
func (c *Client) Action(ctx context.Context, id resource.ID, method string, args ...any) *Pending {
	pending := &Pending{promise: resource.NewPromise()}
	request, err := c.newRequest(id, method, args)
	if err != nil {
		pending.promise.Reject(err)
		return pending
	}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		pending.promise.Reject(ErrClosed)
		return pending
	}
	c.actions[request.ID] = pending
	c.mu.Unlock()

	if err := c.transport.Send(ctx, request); err != nil {
		c.mu.Lock()
		delete(c.actions, request.ID)
		c.mu.Unlock()
		pending.promise.Reject(err)
	}
	return pending
}

// Notify dispatches method and asks the worker not to answer.
func (c *Client) Notify(ctx context.Context, id resource.ID, method string, args ...any) error {
	request, err := c.newRequest(id, method, args)
	if err != nil {
		return err
	}
	request.Params.NoReturn = true
	return c.transport.Send(ctx, request)
}

// WaitForMutationID blocks until the replica has applied id.
func (c *Client) WaitForMutationID(ctx context.Context, id uint64) error {
	if c.replica == nil {
		return errors.New("rpc: client has no replica")
	}
	return c.replica.WaitForMutationID(ctx, id)
}

// Sync brings the replica up to date with the worker. New windows call
// it once after connecting.
func (c *Client) Sync(ctx context.Context) error {
	if c.replica == nil {
		return nil
	}
	return c.replica.Resync(ctx)
}

// CatchUp implements state.Resyncer through the worker's replication
// service.
func (c *Client) CatchUp(ctx context.Context, sinceID uint64) (state.CatchUp, error) {
	service := resource.Singleton(state.ReplicationServiceName)
	var since state.SinceResult
	if err := c.CallInto(ctx, service, "since", &since, sinceID); err != nil {
		return state.CatchUp{}, err
	}
	if since.Retained {
		return state.CatchUp{Mutations: since.Mutations}, nil
	}
	var snapshot state.Snapshot
	if err := c.CallInto(ctx, service, "snapshot", &snapshot); err != nil {
		return state.CatchUp{}, err
	}
	return state.CatchUp{Snapshot: &snapshot}, nil
}

func (c *Client) newRequest(id resource.ID, method string, args []any) (*wire.Request, error) {
	reified := make([]any, len(args))
	for i, arg := range args {
		value, err := resource.Reify(arg, resource.ReifyOptions{Compact: true})
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s.%s: %w", i, id, method, err)
		}
		reified[i] = value
	}
	encoded, err := wire.EncodeArgs(reified)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", id, method, err)
	}
	return &wire.Request{
		ID:     ulid.Make().String(),
		Method: method,
		Params: wire.Params{
			Resource:       id.String(),
			Args:           encoded,
			CompactMode:    c.compact,
			FetchMutations: c.replica != nil,
		},
	}, nil
}

func (c *Client) roundTrip(ctx context.Context, id resource.ID, method string, args []any) (*wire.Response, error) {
	request, err := c.newRequest(id, method, args)
	if err != nil {
		return nil, err
	}
	start := c.clock.Now()
	response, err := c.transport.Call(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("calling %s.%s: %w", id, method, err)
	}
	if elapsed := c.clock.Now().Sub(start); c.slowCall > 0 && elapsed > c.slowCall {
		c.logger.Warn("slow synchronous call",
			"resource", id.String(),
			"method", method,
			"duration", elapsed,
		)
	}
	c.applyMutations(ctx, response.Mutations)
	if response.Error != nil {
		return nil, response.Error
	}
	return response, nil
}

func (c *Client) applyMutations(ctx context.Context, batch []mutation.Mutation) {
	if c.replica == nil || len(batch) == 0 {
		return
	}
	if err := c.replica.Apply(ctx, batch); err != nil {
		c.logger.Warn("applying mutations to replica", "error", err)
	}
}

func (c *Client) run() {
	defer close(c.done)
	for {
		push, err := c.transport.Next(c.ctx)
		if err != nil {
			c.shutdown(err)
			return
		}
		c.handlePush(push)
	}
}

func (c *Client) handlePush(push wire.Push) {
	switch {
	case push.Response != nil:
		c.settleAction(push.Response)
	case push.Event != nil:
		c.handleEvent(push.Event)
	case push.Resync:
		if c.replica == nil {
			return
		}
		if err := c.replica.Resync(c.ctx); err != nil {
			c.logger.Error("resync after dropped pushes failed", "error", err)
		}
	default:
		c.applyMutations(c.ctx, push.Mutations)
	}
}

func (c *Client) settleAction(response *wire.Response) {
	c.mu.Lock()
	pending, ok := c.actions[response.ID]
	delete(c.actions, response.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("response for unknown request", "request_id", response.ID)
		return
	}

	c.applyMutations(c.ctx, response.Mutations)
	pending.setMutationID(mutation.LastID(response.Mutations))
	if response.Error != nil {
		pending.promise.Reject(response.Error)
		return
	}
	value, err := c.unwrap(response.Result)
	if err != nil {
		pending.promise.Reject(err)
		return
	}
	pending.promise.Resolve(value)
}

func (c *Client) handleEvent(event *wire.Event) {
	switch event.Emitter {
	case wire.EmitterPromise:
		c.mu.Lock()
		promise, ok := c.promises[event.ResourceID]
		_, duplicate := c.settled[event.ResourceID]
		if !duplicate {
			_, duplicate = c.early[event.ResourceID]
		}
		switch {
		case ok:
			delete(c.promises, event.ResourceID)
			c.markSettledLocked(event.ResourceID)
		case duplicate:
			c.logger.Debug("duplicate promise settlement", "promise", event.ResourceID)
		case len(c.early) < maxEarlySettlements:
			c.early[event.ResourceID] = event
		default:
			c.logger.Warn("dropping promise settlement, too many unclaimed", "promise", event.ResourceID)
		}
		c.mu.Unlock()
		if ok {
			c.settlePromise(promise, event)
		}

	case wire.EmitterStream:
		c.mu.Lock()
		subscription, ok := c.streams[event.ResourceID]
		c.mu.Unlock()
		if !ok {
			return
		}
		value, err := c.unwrap(event.Data)
		if err != nil {
			c.logger.Warn("undecodable stream event", "stream", event.ResourceID, "error", err)
			return
		}
		subscription.stream.Emit(value)

	default:
		c.logger.Warn("event with unknown emitter", "emitter", event.Emitter, "resource_id", event.ResourceID)
	}
}

// markSettledLocked records id as settled, forgetting the oldest id
// once maxSettledPromises are held.
func (c *Client) markSettledLocked(id string) {
	if len(c.recent) >= maxSettledPromises {
		delete(c.settled, c.recent[0])
		c.recent = c.recent[1:]
	}
	c.settled[id] = struct{}{}
	c.recent = append(c.recent, id)
}

func (c *Client) settlePromise(promise *resource.Promise, event *wire.Event) {
	if event.IsRejected {
		var wireErr wire.Error
		if err := json.Unmarshal(event.Data, &wireErr); err != nil || wireErr.Message == "" {
			promise.Reject(&wire.Error{Code: wire.CodeInternal, Message: string(event.Data)})
			return
		}
		promise.Reject(&wireErr)
		return
	}
	value, err := c.unwrap(event.Data)
	if err != nil {
		promise.Reject(err)
		return
	}
	promise.Resolve(value)
}

// promise returns the local promise for a PROMISE reference, settling
// it at once if the settlement already arrived.
func (c *Client) promise(id string) *resource.Promise {
	c.mu.Lock()
	if event, ok := c.early[id]; ok {
		delete(c.early, id)
		c.markSettledLocked(id)
		c.mu.Unlock()
		promise := resource.NewPromise()
		c.settlePromise(promise, event)
		return promise
	}
	if promise, ok := c.promises[id]; ok {
		c.mu.Unlock()
		return promise
	}
	promise := resource.NewPromise()
	if c.err != nil {
		c.mu.Unlock()
		promise.Reject(ErrClosed)
		return promise
	}
	c.promises[id] = promise
	c.mu.Unlock()
	return promise
}

// subscription returns the local subscription for a STREAM reference.
func (c *Client) subscription(id string) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subscription, ok := c.streams[id]; ok {
		return subscription
	}
	subscription := &Subscription{id: id, client: c, stream: resource.NewStream()}
	c.streams[id] = subscription
	return subscription
}

func (c *Client) removeSubscription(subscription *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streams[subscription.id] == subscription {
		delete(c.streams, subscription.id)
	}
	for key, cached := range c.byProp {
		if cached == subscription {
			delete(c.byProp, key)
		}
	}
}

func (c *Client) shutdown(err error) {
	if c.ctx.Err() != nil {
		err = ErrClosed
	}
	c.mu.Lock()
	c.err = err
	actions := c.actions
	promises := c.promises
	c.actions = make(map[string]*Pending)
	c.promises = make(map[string]*resource.Promise)
	c.mu.Unlock()

	for _, pending := range actions {
		pending.promise.Reject(ErrClosed)
	}
	for _, promise := range promises {
		promise.Reject(ErrClosed)
	}
	if !errors.Is(err, ErrClosed) {
		c.logger.Warn("push loop stopped", "error", err)
	}
}

// unwrap decodes a raw result and rebuilds references.
func (c *Client) unwrap(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return c.unwrapValue(value)
}

func (c *Client) unwrapValue(value any) (any, error) {
	switch typed := value.(type) {
	case map[string]any:
		if ref, ok := wire.ReferenceFromMap(typed); ok {
			return c.fromReference(ref)
		}
		for key, item := range typed {
			unwrapped, err := c.unwrapValue(item)
			if err != nil {
				return nil, err
			}
			typed[key] = unwrapped
		}
		return typed, nil
	case []any:
		for i, item := range typed {
			unwrapped, err := c.unwrapValue(item)
			if err != nil {
				return nil, err
			}
			typed[i] = unwrapped
		}
		return typed, nil
	}
	return value, nil
}

func (c *Client) fromReference(ref wire.Reference) (any, error) {
	switch ref.Type {
	case wire.TypeSubscription:
		if ref.Emitter == wire.EmitterPromise {
			return c.promise(ref.ResourceID), nil
		}
		return c.subscription(ref.ResourceID), nil
	default:
		id, err := resource.ParseID(ref.ResourceID)
		if err != nil {
			return nil, err
		}
		return newProxy(c, id, ref.Fields), nil
	}
}
