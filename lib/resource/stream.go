// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package resource

import (
	"sort"
	"sync"
)

// Stream is a multi-shot event source. Returning a *Stream from a
// method answers the caller with a subscription reference; every
// later Emit is broadcast to subscribed callers.
type Stream struct {
	mu       sync.Mutex
	next     int
	handlers map[int]func(any)
}

// NewStream returns a stream with no subscribers.
func NewStream() *Stream {
	return &Stream{handlers: make(map[int]func(any))}
}

// Subscribe registers fn for every later emission and returns a
// function that removes it. Handlers run synchronously on the emitting
// goroutine, in subscription order, and must not block.
func (s *Stream) Subscribe(fn func(any)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.handlers[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.handlers, id)
			s.mu.Unlock()
		})
	}
}

// Emit delivers value to every current subscriber.
func (s *Stream) Emit(value any) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.handlers))
	for id := range s.handlers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]func(any), len(ids))
	for i, id := range ids {
		handlers[i] = s.handlers[id]
	}
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(value)
	}
}

// Subscribers returns the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}
