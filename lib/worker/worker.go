// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"log/slog"
	"time"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
)

// DefaultPushQueueSize is the number of mutation batches a peer may
// have queued before its backlog is replaced by a resync marker.
const DefaultPushQueueSize = 256

// Options configures a Worker.
type Options struct {
	Schema *state.Schema

	// LogSize is the mutation log retention.
	LogSize int

	// PushQueueSize bounds each peer's queued mutation batches.
	PushQueueSize int

	// SnapshotCompression is applied to snapshots served to replicas.
	SnapshotCompression state.Compression

	// SlowCall logs calls that take longer. Zero disables it.
	SlowCall time.Duration

	Clock  clock.Clock
	Logger *slog.Logger
}

// Worker wires the container, canonical store, hub, and executor
// together.
type Worker struct {
	container     *resource.Container
	store         *state.Canonical
	hub           *Hub
	executor      *Executor
	pushQueueSize int
	logger        *slog.Logger
}

// New builds a worker and registers its replication service.
func New(options Options) *Worker {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	pushQueueSize := options.PushQueueSize
	if pushQueueSize <= 0 {
		pushQueueSize = DefaultPushQueueSize
	}

	hub := NewHub(logger)
	store := state.NewCanonical(options.Schema, state.CanonicalOptions{
		LogSize:   options.LogSize,
		Publisher: hub,
		Logger:    logger,
	})
	container := resource.NewContainer()
	container.RegisterSingleton(state.ReplicationServiceName, func(*resource.Container) (resource.Target, error) {
		return &replicationService{store: store, hub: hub, compression: options.SnapshotCompression}, nil
	})

	return &Worker{
		container:     container,
		store:         store,
		hub:           hub,
		executor:      NewExecutor(container, store, hub, clk, options.SlowCall, logger),
		pushQueueSize: pushQueueSize,
		logger:        logger,
	}
}

// Container returns the resource container services register with.
func (w *Worker) Container() *resource.Container { return w.container }

// Store returns the canonical state store.
func (w *Worker) Store() *state.Canonical { return w.store }

// Hub returns the push hub.
func (w *Worker) Hub() *Hub { return w.hub }

// Executor returns the request executor.
func (w *Worker) Executor() *Executor { return w.executor }

// PushQueueSize returns the per-peer batch limit.
func (w *Worker) PushQueueSize() int { return w.pushQueueSize }

// Connect attaches an in-process window.
func (w *Worker) Connect(windowID string) (*Window, error) {
	window := newWindow(windowID, w.executor, w.hub, w.pushQueueSize, w.logger)
	if err := w.hub.Attach(window); err != nil {
		window.stop()
		return nil, err
	}
	w.logger.Info("window connected", "window", windowID)
	return window, nil
}

// Close stops stream forwarding. Attached peers are closed by their
// owners.
func (w *Worker) Close() {
	w.executor.Close()
}
