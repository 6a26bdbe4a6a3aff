// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/castdeck/castdeck/lib/framing"
	"github.com/castdeck/castdeck/lib/wire"
)

var (
	errIdle         = errors.New("idle timeout")
	errTooMalformed = errors.New("too many malformed frames")
)

// connection is the client record of one accepted connection. It is
// the hub peer for that connection.
type connection struct {
	server    *Server
	conn      framing.Conn
	id        string
	transport string
	logger    *slog.Logger
	queue     *wire.Queue

	mu            sync.Mutex
	authorized    bool
	subject       string
	subscriptions map[string]struct{}
	listenAll     bool

	// malformed counts consecutive bad frames. Only the read loop
	// touches it.
	malformed int
}

func newConnection(s *Server, conn framing.Conn, id, transport string, requireAuth bool) *connection {
	return &connection{
		server:        s,
		conn:          conn,
		id:            id,
		transport:     transport,
		logger:        s.logger.With("connection", id, "transport", transport),
		queue:         wire.NewQueue(s.options.PushQueueSize),
		authorized:    !requireAuth,
		subscriptions: make(map[string]struct{}),
	}
}

// PeerID implements worker.Peer.
func (c *connection) PeerID() string { return c.id }

// Deliver implements worker.Peer. Stream events pass only for
// subscribed streams; nothing but promise settlements reaches a
// connection before it is authorized.
func (c *connection) Deliver(push wire.Push) {
	if !c.accepts(push) {
		return
	}
	if !c.queue.Put(push) {
		c.logger.Warn("push queue overflow, client will resync")
	}
}

func (c *connection) accepts(push wire.Push) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case push.Event != nil && push.Event.Emitter == wire.EmitterStream:
		if !c.authorized {
			return false
		}
		if c.listenAll {
			return true
		}
		_, subscribed := c.subscriptions[push.Event.ResourceID]
		return subscribed
	case push.Event != nil:
		return true
	default:
		return c.authorized
	}
}

// run serves the connection until the peer goes away, policy closes
// it, or ctx is done.
func (c *connection) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()
	if pinger, ok := c.conn.(framing.Pinger); ok {
		go c.pingLoop(ctx, pinger)
	}

	err := c.readLoop(ctx)
	if !errors.Is(err, errTooMalformed) {
		// The peer is gone; pending writes would only time out.
		c.conn.Close()
	}
	c.queue.Close()
	<-writerDone
	c.conn.Close()
	return err
}

func (c *connection) readLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.armIdleDeadline()
		data, err := c.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, framing.ErrFrameTooLarge) {
				if err := c.rejectFrame("", wire.Errorf(wire.CodeInvalidRequest,
					"frame exceeds %d bytes", c.server.options.MaxFrameBytes)); err != nil {
					return err
				}
				continue
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return errIdle
			}
			return err
		}

		request, wireErr := wire.DecodeRequest(data)
		if wireErr != nil {
			id := ""
			if request != nil {
				id = request.ID
			}
			if err := c.rejectFrame(id, wireErr); err != nil {
				return err
			}
			continue
		}
		c.malformed = 0
		c.handle(ctx, request)
	}
}

// armIdleDeadline applies the idle timeout to connections without
// subscriptions. Subscribed connections may stay silent indefinitely.
func (c *connection) armIdleDeadline() {
	idle := c.server.options.IdleTimeout
	if idle <= 0 {
		return
	}
	if c.hasSubscriptions() {
		c.conn.SetReadDeadline(time.Time{})
		return
	}
	c.conn.SetReadDeadline(time.Now().Add(idle)) //nolint:realclock // kernel I/O deadline
}

// rejectFrame answers a bad frame and counts it toward the malformed
// limit.
func (c *connection) rejectFrame(id string, wireErr *wire.Error) error {
	c.malformed++
	c.logger.Debug("rejecting malformed frame", "count", c.malformed, "error", wireErr)
	c.reply(&wire.Response{ID: id, Error: wireErr})
	if c.malformed >= c.server.options.MaxMalformedFrames {
		c.logger.Warn("closing connection after repeated malformed frames", "count", c.malformed)
		return errTooMalformed
	}
	return nil
}

func (c *connection) handle(ctx context.Context, request *wire.Request) {
	if request.Params.Resource == wire.ListenerResource {
		c.reply(c.handleSession(ctx, request))
		return
	}
	if !c.isAuthorized() {
		c.reply(&wire.Response{
			ID:    request.ID,
			Error: wire.Errorf(wire.CodeInternal, "authorization required, call %s.%s first", wire.ListenerResource, wire.MethodAuth),
		})
		return
	}

	forwarded := *request
	forwarded.Params.WindowID = c.id
	response := c.server.worker.Executor().Execute(ctx, &forwarded)
	if response.Error == nil {
		if streamID, ok := wire.StreamSubscription(response.Result); ok {
			c.subscribe(streamID)
		}
	}
	if !request.Params.NoReturn {
		c.reply(response)
	}
}

// handleSession answers the listener's own methods.
func (c *connection) handleSession(ctx context.Context, request *wire.Request) *wire.Response {
	response := &wire.Response{ID: request.ID}
	switch request.Method {
	case wire.MethodAuth:
		var token string
		if len(request.Params.Args) == 0 || json.Unmarshal(request.Params.Args[0], &token) != nil || token == "" {
			response.Error = wire.Errorf(wire.CodeInvalidParams, "%s expects a token string", wire.MethodAuth)
			return response
		}
		subject, err := c.authenticate(ctx, token)
		if err != nil {
			c.logger.Warn("authentication failed", "error", err)
			response.Error = wire.Errorf(wire.CodeInternal, "authentication failed: %v", err)
			return response
		}
		c.logger.Info("client authenticated", "subject", subject)
		response.Result = json.RawMessage("true")

	case wire.MethodListenAll:
		if !c.isAuthorized() {
			response.Error = wire.Errorf(wire.CodeInternal, "authorization required")
			return response
		}
		c.mu.Lock()
		c.listenAll = true
		c.mu.Unlock()
		response.Result = json.RawMessage("true")

	case wire.MethodUnsubscribe:
		var streamID string
		if len(request.Params.Args) == 0 || json.Unmarshal(request.Params.Args[0], &streamID) != nil || streamID == "" {
			response.Error = wire.Errorf(wire.CodeInvalidParams, "%s expects a subscription id", wire.MethodUnsubscribe)
			return response
		}
		if c.unsubscribe(streamID) {
			response.Result = json.RawMessage("true")
		} else {
			response.Result = json.RawMessage("false")
		}

	default:
		response.Error = wire.Errorf(wire.CodeMethodNotFound, "%s has no method %q", wire.ListenerResource, request.Method)
	}
	return response
}

func (c *connection) authenticate(ctx context.Context, token string) (string, error) {
	subject := ""
	if authenticator := c.server.options.Authenticator; authenticator != nil {
		var err error
		subject, err = authenticator.Authenticate(ctx, token)
		if err != nil {
			return "", err
		}
	}
	c.mu.Lock()
	c.authorized = true
	c.subject = subject
	c.mu.Unlock()
	return subject, nil
}

func (c *connection) isAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

func (c *connection) subscribe(streamID string) {
	c.mu.Lock()
	_, existed := c.subscriptions[streamID]
	c.subscriptions[streamID] = struct{}{}
	c.mu.Unlock()
	if !existed {
		c.logger.Debug("subscribed", "stream", streamID)
	}
}

func (c *connection) unsubscribe(streamID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subscriptions[streamID]; !ok {
		return false
	}
	delete(c.subscriptions, streamID)
	return true
}

func (c *connection) hasSubscriptions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listenAll || len(c.subscriptions) > 0
}

// reply queues a response behind any pushes already queued, so a
// client sees batches committed before the response in order.
func (c *connection) reply(response *wire.Response) {
	c.queue.Put(wire.Push{Response: response})
}

// writeLoop drains the queue until it is closed and empty. A write
// failure closes the connection, which ends the read loop.
func (c *connection) writeLoop() {
	for {
		push, err := c.queue.Next(context.Background())
		if err != nil {
			return
		}
		data, err := wire.EncodePush(push)
		if err != nil {
			c.logger.Error("encoding push", "error", err)
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(c.server.options.WriteTimeout)) //nolint:realclock // kernel I/O deadline
		if err := c.conn.WriteFrame(data); err != nil {
			c.logger.Debug("write failed, closing connection", "error", err)
			c.conn.Close()
			c.drain()
			return
		}
	}
}

// drain discards queued pushes after a write failure so Close does not
// wait on a dead peer.
func (c *connection) drain() {
	for {
		if _, err := c.queue.Next(context.Background()); err != nil {
			return
		}
	}
}

func (c *connection) pingLoop(ctx context.Context, pinger framing.Pinger) {
	ticker := c.server.clock.NewTicker(c.server.options.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(c.server.options.WriteTimeout) //nolint:realclock // kernel I/O deadline
			if err := pinger.Ping(deadline); err != nil {
				c.logger.Debug("ping failed, closing connection", "error", err)
				c.conn.Close()
				return
			}
		}
	}
}
