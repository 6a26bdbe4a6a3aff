// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"context"
	"sync"
)

// Promise is a value that settles once, some time after the method
// that returned it has answered. Returning a *Promise from a method
// answers the caller with a subscription reference; the settlement is
// pushed to the caller's window later.
//
// Settling is idempotent: the first Resolve or Reject wins and later
// calls report false.
type Promise struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return &Promise{done: make(chan struct{})}
}

// Async runs fn on its own goroutine and settles the returned promise
// with its result.
func Async(fn func() (any, error)) *Promise {
	p := NewPromise()
	go func() {
		value, err := fn()
		if err != nil {
			p.Reject(err)
			return
		}
		p.Resolve(value)
	}()
	return p
}

// Resolved returns a promise already settled with value.
func Resolved(value any) *Promise {
	p := NewPromise()
	p.Resolve(value)
	return p
}

// Rejected returns a promise already settled with err.
func Rejected(err error) *Promise {
	p := NewPromise()
	p.Reject(err)
	return p
}

// Resolve settles p with value. It reports whether this call settled
// the promise.
func (p *Promise) Resolve(value any) bool {
	settled := false
	p.once.Do(func() {
		p.value = value
		settled = true
		close(p.done)
	})
	return settled
}

// Reject settles p with err. It reports whether this call settled the
// promise.
func (p *Promise) Reject(err error) bool {
	settled := false
	p.once.Do(func() {
		p.err = err
		settled = true
		close(p.done)
	})
	return settled
}

// Done is closed once p settles.
func (p *Promise) Done() <-chan struct{} { return p.done }

// Settled reports whether p has settled.
func (p *Promise) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until p settles or ctx is done.
func (p *Promise) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.value, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
