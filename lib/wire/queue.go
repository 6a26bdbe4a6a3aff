// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Queue.Next after Close once the queue
// has drained.
var ErrQueueClosed = errors.New("wire: push queue closed")

// Queue buffers pushes for one peer without ever blocking the
// producer. Events and action responses are never dropped. Mutation
// batches are bounded: when more than the batch limit are waiting,
// every queued batch is discarded and replaced by a single resync
// marker. The peer catches up from the worker's log instead of
// replaying a backlog it cannot keep up with.
type Queue struct {
	mu      sync.Mutex
	items   []Push
	batches int
	limit   int
	resync  bool
	closed  bool
	notify  chan struct{}
}

// NewQueue returns a queue holding at most batchLimit mutation
// batches. A limit <= 0 disables coalescing.
func NewQueue(batchLimit int) *Queue {
	return &Queue{limit: batchLimit, notify: make(chan struct{}, 1)}
}

// Put enqueues p. It reports false when coalescing discarded queued
// batches, so the caller can log the overflow once.
func (q *Queue) Put(p Push) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return true
	}

	kept := true
	switch {
	case p.Resync:
		if q.resync {
			return true
		}
		q.resync = true
	case p.IsBatch():
		if q.resync {
			// The pending resync covers this batch.
			return true
		}
		if q.limit > 0 && q.batches >= q.limit {
			q.dropBatches()
			q.resync = true
			p = Push{Resync: true}
			kept = false
		} else {
			q.batches++
		}
	}
	q.items = append(q.items, p)
	q.signal()
	return kept
}

func (q *Queue) dropBatches() {
	filtered := q.items[:0]
	for _, item := range q.items {
		if !item.IsBatch() {
			filtered = append(filtered, item)
		}
	}
	for i := len(filtered); i < len(q.items); i++ {
		q.items[i] = Push{}
	}
	q.items = filtered
	q.batches = 0
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a push is available, the queue is closed and
// empty, or ctx is cancelled.
func (q *Queue) Next(ctx context.Context) (Push, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			p := q.items[0]
			q.items[0] = Push{}
			q.items = q.items[1:]
			switch {
			case p.Resync:
				q.resync = false
			case p.IsBatch():
				q.batches--
			}
			q.mu.Unlock()
			return p, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Push{}, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Push{}, ctx.Err()
		}
	}
}

// Len returns the number of queued pushes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting pushes. Pushes already queued are still
// returned by Next.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}
