// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/castdeck/castdeck/lib/framing"
	"github.com/castdeck/castdeck/lib/wire"
)

// DefaultPushQueueSize bounds the mutation batches a connection
// buffers before collapsing them into a resync.
const DefaultPushQueueSize = 1024

// DialOptions configures a socket or WebSocket transport.
type DialOptions struct {
	MaxFrameBytes int
	PushQueueSize int
	Logger        *slog.Logger
}

func (o DialOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

// DialSocket connects to a listener over "tcp" or "unix".
func DialSocket(ctx context.Context, network, address string, options DialOptions) (Transport, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, address, err)
	}
	return NewConnTransport(framing.Lines(conn, options.MaxFrameBytes), options), nil
}

// DialWebSocket connects to a WebSocket listener.
func DialWebSocket(ctx context.Context, url string, header http.Header, options DialOptions) (Transport, error) {
	ws, response, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if response != nil {
			return nil, fmt.Errorf("dialing %s: %w (HTTP %d)", url, err, response.StatusCode)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return NewConnTransport(framing.WebSocket(ws, options.MaxFrameBytes), options), nil
}

// NewConnTransport runs the protocol over an established framed
// connection. A read loop demultiplexes incoming frames: responses go
// to the matching Call, everything else to the push queue. The read
// loop never blocks on the consumer.
func NewConnTransport(conn framing.Conn, options DialOptions) Transport {
	queueSize := options.PushQueueSize
	if queueSize <= 0 {
		queueSize = DefaultPushQueueSize
	}
	t := &connTransport{
		conn:    conn,
		logger:  options.logger(),
		pending: make(map[string]chan *wire.Response),
		queue:   wire.NewQueue(queueSize),
		closed:  make(chan struct{}),
	}
	go t.readLoop()
	return t
}

type connTransport struct {
	conn   framing.Conn
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan *wire.Response
	err     error

	queue     *wire.Queue
	closed    chan struct{}
	closeOnce sync.Once
}

func (t *connTransport) readLoop() {
	for {
		data, err := t.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, framing.ErrFrameTooLarge) {
				t.logger.Warn("dropping oversized frame from worker", "error", err)
				continue
			}
			t.fail(err)
			return
		}
		inbound, err := wire.DecodeInbound(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame from worker", "error", err)
			continue
		}
		if inbound.Push != nil {
			if !t.queue.Put(*inbound.Push) {
				t.logger.Warn("push queue overflow, requesting resync")
			}
			continue
		}
		t.mu.Lock()
		waiter, ok := t.pending[inbound.Response.ID]
		delete(t.pending, inbound.Response.ID)
		t.mu.Unlock()
		if ok {
			waiter <- inbound.Response
			continue
		}
		t.queue.Put(wire.Push{Response: inbound.Response})
	}
}

func (t *connTransport) write(request *wire.Request) error {
	data, err := wire.EncodeRequest(request)
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return t.closedErr()
	default:
	}
	if err := t.conn.WriteFrame(data); err != nil {
		t.fail(err)
		return fmt.Errorf("writing request %s: %w", request.ID, err)
	}
	return nil
}

func (t *connTransport) Call(ctx context.Context, request *wire.Request) (*wire.Response, error) {
	waiter := make(chan *wire.Response, 1)
	t.mu.Lock()
	if t.err != nil {
		t.mu.Unlock()
		return nil, t.closedErr()
	}
	t.pending[request.ID] = waiter
	t.mu.Unlock()

	if err := t.write(request); err != nil {
		t.forget(request.ID)
		return nil, err
	}
	select {
	case response := <-waiter:
		return response, nil
	case <-ctx.Done():
		t.forget(request.ID)
		return nil, ctx.Err()
	case <-t.closed:
		t.forget(request.ID)
		return nil, t.closedErr()
	}
}

func (t *connTransport) forget(id string) {
	t.mu.Lock()
	delete(t.pending, id)
	t.mu.Unlock()
}

func (t *connTransport) Send(_ context.Context, request *wire.Request) error {
	return t.write(request)
}

func (t *connTransport) Next(ctx context.Context) (wire.Push, error) {
	push, err := t.queue.Next(ctx)
	if errors.Is(err, wire.ErrQueueClosed) {
		return push, t.closedErr()
	}
	return push, err
}

func (t *connTransport) fail(err error) {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.err = err
		t.mu.Unlock()
		close(t.closed)
		t.queue.Close()
		t.conn.Close()
	})
}

func (t *connTransport) closedErr() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err == nil || errors.Is(t.err, ErrClosed) {
		return ErrClosed
	}
	return fmt.Errorf("%w: %v", ErrClosed, t.err)
}

func (t *connTransport) Close() error {
	t.fail(ErrClosed)
	return nil
}
