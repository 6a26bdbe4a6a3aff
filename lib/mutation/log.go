// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package mutation

import (
	"errors"
	"fmt"
)

// DefaultLogSize is the retention of a Log created with size <= 0.
const DefaultLogSize = 100

var (
	// ErrRetentionMiss is returned by Since when part of the requested
	// range has already been overwritten.
	ErrRetentionMiss = errors.New("mutation: requested range no longer retained")

	// ErrOutOfOrder is returned by Append when the mutation id is not
	// exactly one past the last appended id.
	ErrOutOfOrder = errors.New("mutation: out-of-order append")
)

// Log is an append-only ring buffer of the most recent mutations.
// It is not safe for concurrent use; the canonical store serializes
// access to it.
type Log struct {
	entries []Mutation
	last    uint64
}

// NewLog returns an empty log retaining at most size mutations.
func NewLog(size int) *Log {
	if size <= 0 {
		size = DefaultLogSize
	}
	return &Log{entries: make([]Mutation, size)}
}

// Size returns the log capacity.
func (l *Log) Size() int { return len(l.entries) }

// Last returns the id of the most recently appended mutation, or 0.
func (l *Log) Last() uint64 { return l.last }

// Oldest returns the id of the oldest retained mutation, or 0 when
// the log is empty.
func (l *Log) Oldest() uint64 {
	if l.last == 0 {
		return 0
	}
	size := uint64(len(l.entries))
	if l.last <= size {
		return 1
	}
	return l.last - size + 1
}

// Append stores m, overwriting the entry at m.ID % size.
func (l *Log) Append(m Mutation) error {
	if m.ID != l.last+1 {
		return fmt.Errorf("%w: got id %d after %d", ErrOutOfOrder, m.ID, l.last)
	}
	l.entries[m.ID%uint64(len(l.entries))] = m
	l.last = m.ID
	return nil
}

// Get returns the retained mutation with the given id.
func (l *Log) Get(id uint64) (Mutation, bool) {
	if id == 0 || id > l.last || id < l.Oldest() {
		return Mutation{}, false
	}
	return l.entries[id%uint64(len(l.entries))], true
}

// Since returns every mutation with id > sinceID, in order. A sinceID
// at or beyond Last yields an empty slice. If any mutation in the
// range has been overwritten, Since returns ErrRetentionMiss and no
// mutations: a partial replay would leave a gap.
func (l *Log) Since(sinceID uint64) ([]Mutation, error) {
	if sinceID >= l.last {
		return []Mutation{}, nil
	}
	if sinceID+1 < l.Oldest() {
		return nil, fmt.Errorf("%w: want ids from %d, oldest retained is %d",
			ErrRetentionMiss, sinceID+1, l.Oldest())
	}
	size := uint64(len(l.entries))
	result := make([]Mutation, 0, l.last-sinceID)
	for id := sinceID + 1; id <= l.last; id++ {
		result = append(result, l.entries[id%size])
	}
	return result, nil
}
