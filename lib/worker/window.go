// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/castdeck/castdeck/lib/wire"
)

// ErrWindowClosed is returned by a closed Window.
var ErrWindowClosed = errors.New("worker: window closed")

// actionBacklog bounds the actions a window may have in flight before
// Dispatch blocks.
const actionBacklog = 256

// Window is an in-process peer: a renderer running in the same
// process as the worker. It implements the endpoint an in-process
// transport needs.
type Window struct {
	id       string
	executor *Executor
	hub      *Hub
	logger   *slog.Logger
	queue    *wire.Queue
	actions  chan *wire.Request

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

func newWindow(id string, executor *Executor, hub *Hub, pushQueueSize int, logger *slog.Logger) *Window {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Window{
		id:       id,
		executor: executor,
		hub:      hub,
		logger:   logger.With("window", id),
		queue:    wire.NewQueue(pushQueueSize),
		actions:  make(chan *wire.Request, actionBacklog),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go w.runActions()
	return w
}

// PeerID implements Peer.
func (w *Window) PeerID() string { return w.id }

// Deliver implements Peer.
func (w *Window) Deliver(push wire.Push) {
	if !w.queue.Put(push) {
		w.logger.Warn("push queue overflow, window will resync")
	}
}

// Execute runs request synchronously on behalf of this window.
func (w *Window) Execute(ctx context.Context, request *wire.Request) (*wire.Response, error) {
	select {
	case <-w.done:
		return nil, ErrWindowClosed
	default:
	}
	clone := *request
	clone.Params.WindowID = w.id
	return w.executor.Execute(ctx, &clone), nil
}

// Dispatch queues request as an asynchronous action. Actions from one
// window run in the order they were dispatched; each response is
// delivered as a push.
func (w *Window) Dispatch(ctx context.Context, request *wire.Request) error {
	clone := *request
	clone.Params.WindowID = w.id
	select {
	case w.actions <- &clone:
		return nil
	case <-w.done:
		return ErrWindowClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Window) runActions() {
	for {
		select {
		case request := <-w.actions:
			response := w.executor.ExecuteAction(w.ctx, request)
			if !request.Params.NoReturn {
				w.queue.Put(wire.Push{Response: response})
			}
		case <-w.done:
			return
		}
	}
}

// Next returns the next push for this window.
func (w *Window) Next(ctx context.Context) (wire.Push, error) {
	push, err := w.queue.Next(ctx)
	if errors.Is(err, wire.ErrQueueClosed) {
		return push, ErrWindowClosed
	}
	return push, err
}

// Close detaches the window. Pushes already queued can still be read
// with Next.
func (w *Window) Close() error {
	w.hub.Detach(w.id)
	w.stop()
	return nil
}

func (w *Window) stop() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.cancel()
		w.queue.Close()
	})
}
