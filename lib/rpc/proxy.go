// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"
	"sync"

	"github.com/castdeck/castdeck/lib/resource"
)

// LocalMethod runs in the caller's process instead of the worker.
type LocalMethod func(ctx context.Context, args ...any) (any, error)

// Proxy stands in for a worker-side resource. It implements
// resource.Resource, so passing a Proxy as an argument sends a
// reference that the worker resolves back to the live object.
type Proxy struct {
	client *Client
	id     resource.ID
	fields map[string]any

	mu    sync.RWMutex
	local map[string]LocalMethod
}

func newProxy(client *Client, id resource.ID, fields map[string]any) *Proxy {
	return &Proxy{client: client, id: id, fields: fields}
}

// ResourceID implements resource.Resource.
func (p *Proxy) ResourceID() resource.ID { return p.id }

// Field returns a plain-data property carried with the reference.
// Compact responses carry none.
func (p *Proxy) Field(name string) (any, bool) {
	value, ok := p.fields[name]
	return value, ok
}

// StringField returns a string property, or "" when absent.
func (p *Proxy) StringField(name string) string {
	value, _ := p.fields[name].(string)
	return value
}

// Fields returns a copy of the reference fields.
func (p *Proxy) Fields() map[string]any {
	fields := make(map[string]any, len(p.fields))
	for key, value := range p.fields {
		fields[key] = value
	}
	return fields
}

// Bind makes method run locally through fn. Window-local behavior
// (focus, dialogs, anything tied to this process) is bound this way.
func (p *Proxy) Bind(method string, fn LocalMethod) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.local == nil {
		p.local = make(map[string]LocalMethod)
	}
	p.local[method] = fn
}

// Method returns a callable for method: the bound local function if
// there is one, otherwise a forwarding call to the worker.
func (p *Proxy) Method(method string) LocalMethod {
	p.mu.RLock()
	fn, ok := p.local[method]
	p.mu.RUnlock()
	if ok {
		return fn
	}
	return func(ctx context.Context, args ...any) (any, error) {
		return p.client.Call(ctx, p.id, method, args...)
	}
}

// Call invokes method synchronously.
func (p *Proxy) Call(ctx context.Context, method string, args ...any) (any, error) {
	return p.Method(method)(ctx, args...)
}

// CallInto invokes method synchronously and decodes the result into
// out.
func (p *Proxy) CallInto(ctx context.Context, method string, out any, args ...any) error {
	return p.client.CallInto(ctx, p.id, method, out, args...)
}

// Actions returns the asynchronous view of the proxy.
func (p *Proxy) Actions() Actions {
	return Actions{proxy: p}
}

// Stream returns the subscription for a stream property. The first
// access fetches the subscription reference from the worker; later
// accesses reuse it.
func (p *Proxy) Stream(ctx context.Context, property string) (*Subscription, error) {
	key := p.id.String() + "." + property
	c := p.client
	c.mu.Lock()
	if subscription, ok := c.byProp[key]; ok {
		c.mu.Unlock()
		return subscription, nil
	}
	c.mu.Unlock()

	result, err := c.Call(ctx, p.id, property)
	if err != nil {
		return nil, err
	}
	subscription, ok := result.(*Subscription)
	if !ok {
		return nil, fmt.Errorf("%s.%s returned %T, not a stream", p.id, property, result)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.byProp[key]; ok {
		return cached, nil
	}
	c.byProp[key] = subscription
	return subscription, nil
}

// Actions dispatches calls without waiting for the worker.
type Actions struct {
	proxy *Proxy
}

// Call dispatches method.
func (a Actions) Call(ctx context.Context, method string, args ...any) *Pending {
	return a.proxy.client.Action(ctx, a.proxy.id, method, args...)
}

// Notify dispatches method with no response at all.
func (a Actions) Notify(ctx context.Context, method string, args ...any) error {
	return a.proxy.client.Notify(ctx, a.proxy.id, method, args...)
}

// Pending is an action in flight.
type Pending struct {
	promise *resource.Promise

	mu         sync.Mutex
	mutationID uint64
}

// Wait blocks for the action's result.
func (p *Pending) Wait(ctx context.Context) (any, error) {
	return p.promise.Wait(ctx)
}

// Done is closed when the action settles.
func (p *Pending) Done() <-chan struct{} { return p.promise.Done() }

// MutationID returns the highest mutation id the action committed,
// or 0 if it committed nothing or has not settled.
func (p *Pending) MutationID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mutationID
}

func (p *Pending) setMutationID(id uint64) {
	p.mu.Lock()
	p.mutationID = id
	p.mu.Unlock()
}

// Subscription is the local end of a worker stream.
type Subscription struct {
	id     string
	client *Client
	stream *resource.Stream
}

// ID returns the subscription resource id.
func (s *Subscription) ID() string { return s.id }

// Subscribe registers fn for every emission and returns a function
// that removes it.
func (s *Subscription) Subscribe(fn func(any)) (unsubscribe func()) {
	return s.stream.Subscribe(fn)
}

// Close stops local delivery. The worker keeps forwarding the stream
// to other windows.
func (s *Subscription) Close() {
	s.client.removeSubscription(s)
}
