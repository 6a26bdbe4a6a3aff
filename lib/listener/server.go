// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/framing"
	"github.com/castdeck/castdeck/lib/worker"
)

// Defaults applied by NewServer for zero Options fields.
const (
	DefaultMaxMalformedFrames = 8
	DefaultWriteTimeout       = 10 * time.Second
	DefaultPingInterval       = 30 * time.Second
)

// Authenticator verifies a bearer token and returns the subject it
// was issued to.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// Options configures a Server.
type Options struct {
	// Authenticator checks tokens presented with auth. When nil, auth
	// always succeeds, which is only sensible with RequireAuth off.
	Authenticator Authenticator

	// RequireAuth rejects every call except auth until a token has
	// been accepted. WebSocket listeners that allow remote
	// connections require auth regardless.
	RequireAuth bool

	// IdleTimeout closes connections that have no stream subscription
	// and send nothing for this long. Zero disables it.
	IdleTimeout time.Duration

	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration

	// PingInterval is how often WebSocket connections are pinged.
	PingInterval time.Duration

	// MaxFrameBytes bounds an inbound frame.
	MaxFrameBytes int

	// MaxMalformedFrames is how many consecutive undecodable or
	// invalid frames a connection may send before it is closed.
	MaxMalformedFrames int

	// PushQueueSize bounds each connection's queued mutation batches.
	// Zero uses the worker's limit.
	PushQueueSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server accepts connections for one worker. A single Server may
// serve several listeners at once.
type Server struct {
	worker  *worker.Worker
	options Options
	clock   clock.Clock
	logger  *slog.Logger

	mu          sync.Mutex
	connections map[string]*connection

	// active tracks connection goroutines so Serve can wait for them.
	active sync.WaitGroup
}

// NewServer creates a server executing requests on w.
func NewServer(w *worker.Worker, options Options) *Server {
	if options.MaxMalformedFrames <= 0 {
		options.MaxMalformedFrames = DefaultMaxMalformedFrames
	}
	if options.WriteTimeout <= 0 {
		options.WriteTimeout = DefaultWriteTimeout
	}
	if options.PingInterval <= 0 {
		options.PingInterval = DefaultPingInterval
	}
	if options.MaxFrameBytes <= 0 {
		options.MaxFrameBytes = framing.DefaultMaxFrameBytes
	}
	if options.PushQueueSize <= 0 {
		options.PushQueueSize = w.PushQueueSize()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &Server{
		worker:      w,
		options:     options,
		clock:       clk,
		logger:      logger,
		connections: make(map[string]*connection),
	}
}

// Serve accepts line-framed connections on listener until ctx is
// cancelled, then closes every connection it accepted and waits for
// them to finish. The listener is closed on return. Unix socket
// connections from another user are refused.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	transport := listener.Addr().Network()
	s.logger.Info("listener accepting connections",
		"transport", transport,
		"address", listener.Addr().String(),
	)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "transport", transport, "error", err)
			continue
		}
		if unixConn, ok := conn.(*net.UnixConn); ok {
			if err := checkPeer(unixConn); err != nil {
				s.logger.Warn("refusing unix connection", "error", err)
				conn.Close()
				continue
			}
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.serveConn(ctx, framing.Lines(conn, s.options.MaxFrameBytes), transport, s.options.RequireAuth)
		}()
	}

	s.active.Wait()
	return nil
}

// Connections returns the number of open connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.connections)
}

// serveConn runs one connection to completion. It returns when the
// peer disconnects, policy closes the connection, or ctx is done.
func (s *Server) serveConn(ctx context.Context, conn framing.Conn, transport string, requireAuth bool) {
	c := newConnection(s, conn, "conn:"+ulid.Make().String(), transport, requireAuth)
	if err := s.worker.Hub().Attach(c); err != nil {
		s.logger.Error("attaching connection", "error", err)
		conn.Close()
		return
	}
	s.mu.Lock()
	s.connections[c.id] = c
	s.mu.Unlock()
	defer func() {
		s.worker.Hub().Detach(c.id)
		s.mu.Lock()
		delete(s.connections, c.id)
		s.mu.Unlock()
	}()

	c.logger.Info("client connected", "remote", addrString(conn.RemoteAddr()))
	err := c.run(ctx)
	c.logger.Info("client disconnected", "reason", err)
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return fmt.Sprintf("%s:%s", addr.Network(), addr.String())
}
