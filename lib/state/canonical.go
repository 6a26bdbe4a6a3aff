// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/castdeck/castdeck/lib/mutation"
)

// Publisher fans committed batches out to replicas. Exclude names a
// window that already received the batch in its response; it is
// empty when every peer should receive it.
type Publisher interface {
	Publish(batch []mutation.Mutation, exclude string)
}

// CanonicalOptions configures a Canonical store.
type CanonicalOptions struct {
	// LogSize is the mutation log retention. Zero uses
	// mutation.DefaultLogSize.
	LogSize int

	// Publisher receives every committed batch. Nil discards them.
	Publisher Publisher

	Logger *slog.Logger
}

// Canonical is the authoritative state tree, owned by the worker.
//
// Every executor call runs inside a transaction (Begin/End). Commits
// made with the call's context join its transaction: they are applied
// immediately but published as one batch when the call ends. Commits
// made with any other context (timers, promise continuations) wait for
// the running transaction to finish and are published alone. Either
// way, mutation ids are assigned and published in strictly increasing
// order. Background work that reads state before committing must run
// under Update, or a call can commit between the read and the write.
type Canonical struct {
	schema    *Schema
	publisher Publisher
	logger    *slog.Logger

	// txMu serializes transactions and out-of-transaction commits.
	txMu sync.Mutex

	// mu guards the tree and log for short reads and writes.
	mu       sync.RWMutex
	tree     Tree
	log      *mutation.Log
	active   *Txn
	deferred []func()
}

// NewCanonical returns a store holding schema's initial tree.
func NewCanonical(schema *Schema, options CanonicalOptions) *Canonical {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Canonical{
		schema:    schema,
		publisher: options.Publisher,
		logger:    logger,
		tree:      schema.NewTree(),
		log:       mutation.NewLog(options.LogSize),
	}
}

// Schema returns the store's schema.
func (c *Canonical) Schema() *Schema { return c.schema }

// Txn is one executor call's transaction.
type Txn struct {
	store  *Canonical
	mu     sync.Mutex
	closed bool
	batch  []mutation.Mutation
}

type txnKey struct{}

// Begin starts a transaction, blocking until any other transaction or
// out-of-transaction commit has finished. The returned context carries
// the transaction; End must be called exactly once.
func (c *Canonical) Begin(ctx context.Context) (context.Context, *Txn) {
	c.txMu.Lock()
	txn := &Txn{store: c}
	c.mu.Lock()
	c.active = txn
	c.mu.Unlock()
	return context.WithValue(ctx, txnKey{}, txn), txn
}

// End closes the transaction, publishes its batch (excluding the named
// window) and runs callbacks registered with AfterCommit. It returns
// the batch, which is empty when nothing was committed.
func (t *Txn) End(exclude string) []mutation.Mutation {
	c := t.store
	t.mu.Lock()
	t.closed = true
	batch := t.batch
	t.batch = nil
	t.mu.Unlock()

	if batch == nil {
		batch = []mutation.Mutation{}
	}
	if len(batch) > 0 && c.publisher != nil {
		c.publisher.Publish(batch, exclude)
	}

	c.mu.Lock()
	c.active = nil
	deferred := c.deferred
	c.deferred = nil
	c.mu.Unlock()
	c.txMu.Unlock()

	for _, fn := range deferred {
		fn()
	}
	return batch
}

// Update runs fn inside its own transaction and publishes whatever it
// committed as one batch to every peer. When ctx already carries an
// open transaction of this store, fn joins it instead.
func (c *Canonical) Update(ctx context.Context, fn func(ctx context.Context) error) error {
	if txn, ok := ctx.Value(txnKey{}).(*Txn); ok && txn.store == c && txn.open() {
		return fn(ctx)
	}
	txCtx, txn := c.Begin(ctx)
	defer txn.End("")
	return fn(txCtx)
}

func (t *Txn) open() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Commit applies a mutation. With a context from Begin it joins that
// transaction; otherwise it is applied and published on its own.
func (c *Canonical) Commit(ctx context.Context, mutationType string, payload any) (mutation.Mutation, error) {
	if txn, ok := ctx.Value(txnKey{}).(*Txn); ok && txn.store == c {
		txn.mu.Lock()
		if !txn.closed {
			m, err := c.apply(mutationType, payload)
			if err == nil {
				txn.batch = append(txn.batch, m)
			}
			txn.mu.Unlock()
			return m, err
		}
		txn.mu.Unlock()
	}

	c.txMu.Lock()
	defer c.txMu.Unlock()
	m, err := c.apply(mutationType, payload)
	if err != nil {
		return m, err
	}
	if c.publisher != nil {
		c.publisher.Publish([]mutation.Mutation{m}, "")
	}
	return m, nil
}

func (c *Canonical) apply(mutationType string, payload any) (mutation.Mutation, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return mutation.Mutation{}, fmt.Errorf("encoding %s payload: %w", mutationType, err)
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return mutation.Mutation{}, fmt.Errorf("normalizing %s payload: %w", mutationType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.schema.Apply(c.tree, mutationType, normalized); err != nil {
		return mutation.Mutation{}, err
	}
	m := mutation.Mutation{ID: c.log.Last() + 1, Type: mutationType, Payload: raw}
	if err := c.log.Append(m); err != nil {
		return mutation.Mutation{}, err
	}
	c.logger.Debug("mutation committed", "mutation_id", m.ID, "type", m.Type)
	return m, nil
}

// AfterCommit runs fn once the running transaction has been published,
// or immediately when none is running. Stream emissions go through it
// so a subscriber never sees an event before the mutations that
// caused it.
func (c *Canonical) AfterCommit(fn func()) {
	c.mu.Lock()
	if c.active != nil {
		c.deferred = append(c.deferred, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn()
}

// Get returns a deep copy of the value at path.
func (c *Canonical) Get(path ...string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.tree.Get(path...)
	if !ok {
		return nil, false
	}
	return cloneValue(value), true
}

// View calls fn with the live tree under a read lock. fn must not
// retain or modify the tree.
func (c *Canonical) View(fn func(Tree)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fn(c.tree)
}

// LastID returns the id of the most recent committed mutation.
func (c *Canonical) LastID() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Last()
}

// OldestRetained returns the oldest mutation id still in the log, or
// 0 when nothing has been committed.
func (c *Canonical) OldestRetained() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Oldest()
}

// Since returns the retained mutations after sinceID, or
// mutation.ErrRetentionMiss.
func (c *Canonical) Since(sinceID uint64) ([]mutation.Mutation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.log.Since(sinceID)
}

// Snapshot encodes the current tree.
func (c *Canonical) Snapshot(algorithm Compression) (*Snapshot, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return EncodeSnapshot(c.tree, c.log.Last(), algorithm)
}

// Digest hashes the current tree, returning it with the last applied
// mutation id.
func (c *Canonical) Digest() (Digest, uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	digest, err := DigestTree(c.tree)
	return digest, c.log.Last(), err
}
