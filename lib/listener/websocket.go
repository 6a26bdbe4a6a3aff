// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package listener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/castdeck/castdeck/lib/framing"
)

// DefaultWebSocketPath is where the WebSocket endpoint is mounted when
// no path is configured.
const DefaultWebSocketPath = "/api/websocket"

// WebSocketHandler upgrades requests to WebSocket connections served
// until ctx is done. Unless allowRemote is set, only loopback peers
// and loopback or same-host origins are accepted. Remote-capable
// connections always require auth.
func (s *Server) WebSocketHandler(ctx context.Context, allowRemote bool) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return allowRemote || isLocalOrigin(r)
		},
	}
	requireAuth := s.options.RequireAuth || allowRemote

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowRemote && !isLoopback(r.RemoteAddr) {
			s.logger.Warn("refusing remote websocket connection", "remote", r.RemoteAddr)
			http.Error(w, "remote connections are disabled", http.StatusForbidden)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already written the HTTP error.
			s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}
		s.active.Add(1)
		defer s.active.Done()
		s.serveConn(ctx, framing.WebSocket(ws, s.options.MaxFrameBytes), "websocket", requireAuth)
	})
}

// ServeWebSocket serves the WebSocket endpoint at path on listener
// until ctx is cancelled.
func (s *Server) ServeWebSocket(ctx context.Context, listener net.Listener, path string, allowRemote bool) error {
	if path == "" {
		path = DefaultWebSocketPath
	}
	mux := http.NewServeMux()
	mux.Handle(path, s.WebSocketHandler(ctx, allowRemote))
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("websocket listener accepting connections",
		"address", listener.Addr().String(),
		"path", path,
		"allow_remote", allowRemote,
	)
	err := server.Serve(listener)
	s.active.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serving websocket on %s: %w", listener.Addr(), err)
	}
	return nil
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// isLocalOrigin accepts requests without an Origin (native clients),
// same-host origins, and loopback origins.
func isLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(parsed.Host, r.Host) {
		return true
	}
	host := parsed.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
