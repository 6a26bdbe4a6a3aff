// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/mutation"
)

// DefaultGapGrace is how long a replica waits for a missing mutation
// to arrive on another path before catching up from the worker.
const DefaultGapGrace = 25 * time.Millisecond

// ErrNoResyncer is returned by Resync when the replica has no way to
// reach the worker.
var ErrNoResyncer = errors.New("state: replica has no resync source")

// CatchUp is what a replica receives when it asks the worker for the
// mutations it missed. When the worker's log no longer retains the
// requested range, Snapshot is set and Mutations continue from it.
type CatchUp struct {
	Snapshot  *Snapshot
	Mutations []mutation.Mutation
}

// Resyncer fetches the state a replica is missing.
type Resyncer interface {
	CatchUp(ctx context.Context, sinceID uint64) (CatchUp, error)
}

// ReplicaOptions configures a Replica.
type ReplicaOptions struct {
	Resyncer Resyncer

	// GapGrace bounds the wait for a missing mutation before a gap
	// counts as an ordering violation. A call's returned batch and
	// pushes committed just before it travel separately, so they can
	// land in either order. Zero uses DefaultGapGrace; negative
	// catches up at once.
	GapGrace time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Replica is a read-only copy of the state tree, kept current by
// applying the batches the worker pushes and the batches returned with
// each call.
type Replica struct {
	schema   *Schema
	logger   *slog.Logger
	clock    clock.Clock
	gapGrace time.Duration

	// resyncMu serializes catch-ups so two gaps detected at once
	// fetch the range a single time.
	resyncMu sync.Mutex

	mu           sync.Mutex
	tree         Tree
	last         uint64
	inconsistent bool
	resyncer     Resyncer
	waiters      []waiter
	observers    map[int]func(mutation.Mutation)
	nextObserver int
}

type waiter struct {
	id   uint64
	done chan struct{}
}

// NewReplica returns a replica holding schema's initial tree, as of
// mutation 0.
func NewReplica(schema *Schema, options ReplicaOptions) *Replica {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	gapGrace := options.GapGrace
	if gapGrace == 0 {
		gapGrace = DefaultGapGrace
	}
	return &Replica{
		schema:    schema,
		logger:    logger,
		clock:     clk,
		gapGrace:  gapGrace,
		tree:      schema.NewTree(),
		resyncer:  options.Resyncer,
		observers: make(map[int]func(mutation.Mutation)),
	}
}

// SetResyncer installs the catch-up source. Clients install
// themselves once their transport is connected.
func (r *Replica) SetResyncer(resyncer Resyncer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resyncer = resyncer
}

// Apply applies batch in id order. Mutations at or below the last
// applied id are duplicates and are skipped. A mutation beyond the
// next expected id waits up to the gap grace for its predecessors;
// if they do not arrive, something was missed and the replica logs
// the ordering violation, catches up through its Resyncer, and
// continues.
// If catch-up is impossible the mutation is applied anyway and the
// replica is flagged inconsistent until the next snapshot restore.
func (r *Replica) Apply(ctx context.Context, batch []mutation.Mutation) error {
	var errs []error
	for _, m := range batch {
		if err := r.applyOne(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Replica) applyOne(ctx context.Context, m mutation.Mutation) error {
	r.mu.Lock()
	if m.ID <= r.last {
		r.mu.Unlock()
		return nil
	}
	if m.ID == r.last+1 {
		defer r.mu.Unlock()
		return r.applyLocked(m)
	}
	expected := r.last + 1
	done := r.addWaiterLocked(m.ID - 1)
	r.mu.Unlock()

	if r.awaitPredecessor(ctx, done) {
		r.logger.Debug("mutation arrived ahead of its predecessor",
			"mutation_id", m.ID,
			"type", m.Type,
		)
	} else {
		r.logger.Warn("mutation ordering violation",
			"expected_id", expected,
			"received_id", m.ID,
			"type", m.Type,
		)
		if err := r.Resync(ctx); err != nil {
			r.logger.Error("catch-up failed, applying mutation out of order",
				"mutation_id", m.ID,
				"error", err,
			)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if m.ID <= r.last {
		return nil
	}
	if m.ID != r.last+1 {
		r.inconsistent = true
		r.logger.Error("replica may be inconsistent",
			"last_applied_id", r.last,
			"mutation_id", m.ID,
		)
	}
	return r.applyLocked(m)
}

// awaitPredecessor waits up to the gap grace for done to close. The
// waiter is removed when it does not.
func (r *Replica) awaitPredecessor(ctx context.Context, done chan struct{}) bool {
	if r.gapGrace > 0 {
		select {
		case <-done:
			return true
		case <-r.clock.After(r.gapGrace):
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeWaiterLocked(done)
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// applyLocked applies m and advances the last applied id. A reducer
// failure still consumes the id; the replica is flagged instead.
func (r *Replica) applyLocked(m mutation.Mutation) error {
	var payload any
	var err error
	if len(m.Payload) > 0 {
		err = json.Unmarshal(m.Payload, &payload)
	}
	if err == nil {
		err = r.schema.Apply(r.tree, m.Type, payload)
	}
	r.last = m.ID
	if err != nil {
		r.inconsistent = true
		r.logger.Error("mutation failed to apply on replica",
			"mutation_id", m.ID,
			"type", m.Type,
			"error", err,
		)
		err = fmt.Errorf("mutation %d: %w", m.ID, err)
	}
	r.notifyLocked()
	for _, observer := range r.observers {
		observer(m)
	}
	return err
}

func (r *Replica) notifyLocked() {
	remaining := r.waiters[:0]
	for _, w := range r.waiters {
		if w.id <= r.last {
			close(w.done)
			continue
		}
		remaining = append(remaining, w)
	}
	for i := len(remaining); i < len(r.waiters); i++ {
		r.waiters[i] = waiter{}
	}
	r.waiters = remaining
}

// Resync catches up with the worker: it fetches every mutation after
// the last applied id, or a snapshot when the worker no longer
// retains that range, and applies the result.
func (r *Replica) Resync(ctx context.Context) error {
	r.resyncMu.Lock()
	defer r.resyncMu.Unlock()

	r.mu.Lock()
	resyncer := r.resyncer
	since := r.last
	r.mu.Unlock()
	if resyncer == nil {
		return ErrNoResyncer
	}

	catchUp, err := resyncer.CatchUp(ctx, since)
	if err != nil {
		return fmt.Errorf("catching up from %d: %w", since, err)
	}
	if catchUp.Snapshot != nil {
		if err := r.Restore(catchUp.Snapshot); err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, m := range catchUp.Mutations {
		if m.ID <= r.last {
			continue
		}
		if m.ID != r.last+1 {
			return fmt.Errorf("catch-up from %d has a gap: expected %d, got %d", since, r.last+1, m.ID)
		}
		if err := r.applyLocked(m); err != nil {
			errs = append(errs, err)
		}
	}
	r.logger.Info("replica caught up",
		"from_id", since,
		"to_id", r.last,
		"snapshot", catchUp.Snapshot != nil,
	)
	return errors.Join(errs...)
}

// Restore replaces the tree with a snapshot. A snapshot older than the
// replica's current position is ignored. Restoring clears the
// inconsistent flag.
func (r *Replica) Restore(snapshot *Snapshot) error {
	tree, err := snapshot.Tree()
	if err != nil {
		return fmt.Errorf("restoring snapshot at %d: %w", snapshot.LastID, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if snapshot.LastID < r.last {
		return nil
	}
	r.tree = tree
	r.last = snapshot.LastID
	r.inconsistent = false
	r.notifyLocked()
	return nil
}

// LastApplied returns the id of the most recent applied mutation.
func (r *Replica) LastApplied() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// Inconsistent reports whether a mutation was applied out of order or
// failed to apply since the last snapshot restore.
func (r *Replica) Inconsistent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inconsistent
}

// WaitForMutationID blocks until the mutation with the given id has
// been applied locally. Callers use it after an asynchronous action to
// make a dependent read observe the action's effects.
func (r *Replica) WaitForMutationID(ctx context.Context, id uint64) error {
	r.mu.Lock()
	if r.last >= id {
		r.mu.Unlock()
		return nil
	}
	done := r.addWaiterLocked(id)
	r.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		r.removeWaiterLocked(done)
		r.mu.Unlock()
		return ctx.Err()
	}
}

func (r *Replica) addWaiterLocked(id uint64) chan struct{} {
	done := make(chan struct{})
	r.waiters = append(r.waiters, waiter{id: id, done: done})
	return done
}

func (r *Replica) removeWaiterLocked(done chan struct{}) {
	for i, w := range r.waiters {
		if w.done == done {
			r.waiters = append(r.waiters[:i], r.waiters[i+1:]...)
			return
		}
	}
}

// Observe registers fn to run after each applied mutation, under the
// replica lock. fn must not call back into the replica.
func (r *Replica) Observe(fn func(mutation.Mutation)) (cancel func()) {
	r.mu.Lock()
	id := r.nextObserver
	r.nextObserver++
	r.observers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.observers, id)
		r.mu.Unlock()
	}
}

// Get returns a deep copy of the value at path.
func (r *Replica) Get(path ...string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	value, ok := r.tree.Get(path...)
	if !ok {
		return nil, false
	}
	return cloneValue(value), true
}

// View calls fn with the live tree under the replica lock. fn must not
// retain or modify the tree.
func (r *Replica) View(fn func(Tree)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.tree)
}

// Digest hashes the replica's tree, returning it with the last applied
// id.
func (r *Replica) Digest() (Digest, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	digest, err := DigestTree(r.tree)
	return digest, r.last, err
}
