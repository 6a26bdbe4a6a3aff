// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"golang.org/x/sync/errgroup"

	"github.com/castdeck/castdeck/lib/authtoken"
	"github.com/castdeck/castdeck/lib/clock"
	"github.com/castdeck/castdeck/lib/config"
	"github.com/castdeck/castdeck/lib/listener"
	"github.com/castdeck/castdeck/lib/services/counter"
	"github.com/castdeck/castdeck/lib/services/scenes"
	"github.com/castdeck/castdeck/lib/state"
	"github.com/castdeck/castdeck/lib/worker"
)

// endpoints reports where each enabled listener ended up bound. Empty
// fields are disabled listeners.
type endpoints struct {
	Unix      string
	TCP       string
	WebSocket string
}

// buildWorker assembles the schema, canonical store, and container with
// every built-in service, and instantiates the singletons so a broken
// factory fails startup instead of the first call.
func buildWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*worker.Worker, error) {
	schema := state.NewSchema()
	counter.Register(schema, 0)
	scenes.Register(schema)

	w := worker.New(worker.Options{
		Schema:              schema,
		LogSize:             cfg.Worker.MutationLogSize,
		PushQueueSize:       cfg.Worker.PushQueueSize,
		SnapshotCompression: cfg.Compression(),
		SlowCall:            cfg.Worker.SlowCallThreshold.Std(),
		Logger:              logger,
	})

	container := w.Container()
	container.RegisterSingleton(counter.ServiceName, counter.Factory(w.Store(), counter.Options{Logger: logger}))
	scenes.RegisterResources(container, w.Store(), logger)

	if err := container.Require(ctx, counter.ServiceName, scenes.ServiceName, state.ReplicationServiceName); err != nil {
		w.Close()
		return nil, fmt.Errorf("initializing services: %w", err)
	}
	return w, nil
}

// serve runs the worker until ctx is cancelled or a listener fails.
// ready, when non-nil, is called once every listener is accepting.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger, ready func(endpoints)) error {
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	secret, created, err := authtoken.LoadOrCreateSecret(cfg.Auth.SecretPath)
	if err != nil {
		return err
	}
	if created {
		logger.Info("auth secret created", "path", cfg.Auth.SecretPath)
	}
	verifier, err := authtoken.NewVerifier(secret, clock.Real())
	if err != nil {
		return err
	}

	w, err := buildWorker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer w.Close()

	server := listener.NewServer(w, listener.Options{
		Authenticator:      verifier,
		RequireAuth:        cfg.RequireAuth(),
		IdleTimeout:        cfg.Listeners.IdleTimeout.Std(),
		MaxFrameBytes:      cfg.Listeners.MaxFrameBytes,
		MaxMalformedFrames: cfg.Listeners.MaxMalformedFrames,
		Logger:             logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, groupCtx := errgroup.WithContext(ctx)

	fail := func(err error) error {
		cancel()
		group.Wait()
		return err
	}

	var bound endpoints
	if cfg.UnixEnabled() {
		ln, err := listener.ListenUnix(cfg.Listeners.Unix.Path)
		if err != nil {
			return fail(err)
		}
		bound.Unix = ln.Addr().String()
		group.Go(func() error { return server.Serve(groupCtx, ln) })
	}
	if cfg.TCPEnabled() {
		ln, err := listener.ListenTCP(cfg.Listeners.TCP.Address)
		if err != nil {
			return fail(err)
		}
		bound.TCP = ln.Addr().String()
		group.Go(func() error { return server.Serve(groupCtx, ln) })
	}
	if cfg.WebSocketEnabled() {
		ws := cfg.Listeners.WebSocket
		ln, err := net.Listen("tcp", ws.Address)
		if err != nil {
			return fail(fmt.Errorf("listening on %s: %w", ws.Address, err))
		}
		bound.WebSocket = "ws://" + ln.Addr().String() + ws.Path
		allowRemote := cfg.AllowRemote()
		group.Go(func() error { return server.ServeWebSocket(groupCtx, ln, ws.Path, allowRemote) })
	}

	if ready != nil {
		ready(bound)
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Info("castdeck worker stopped")
	return ctx.Err()
}
