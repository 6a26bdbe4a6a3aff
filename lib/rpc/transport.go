// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"errors"

	"github.com/castdeck/castdeck/lib/wire"
)

// ErrClosed is returned by a closed transport or client.
var ErrClosed = errors.New("rpc: closed")

// Transport carries requests to the worker and pushes back.
type Transport interface {
	// Call sends request and blocks for its response.
	Call(ctx context.Context, request *wire.Request) (*wire.Response, error)

	// Send dispatches request without waiting. Unless the request
	// sets NoReturn, its response arrives later as a push.
	Send(ctx context.Context, request *wire.Request) error

	// Next blocks for the next push.
	Next(ctx context.Context) (wire.Push, error)

	Close() error
}

// Endpoint is the worker side of an in-process connection.
type Endpoint interface {
	Execute(ctx context.Context, request *wire.Request) (*wire.Response, error)
	Dispatch(ctx context.Context, request *wire.Request) error
	Next(ctx context.Context) (wire.Push, error)
	Close() error
}

// InProcess returns a transport for a window running in the worker's
// process. Arguments and results still travel as JSON, so anything
// that works in-process also works over a socket.
func InProcess(endpoint Endpoint) Transport {
	return &inProcess{endpoint: endpoint}
}

type inProcess struct {
	endpoint Endpoint
}

func (t *inProcess) Call(ctx context.Context, request *wire.Request) (*wire.Response, error) {
	return t.endpoint.Execute(ctx, request)
}

func (t *inProcess) Send(ctx context.Context, request *wire.Request) error {
	return t.endpoint.Dispatch(ctx, request)
}

func (t *inProcess) Next(ctx context.Context) (wire.Push, error) {
	return t.endpoint.Next(ctx)
}

func (t *inProcess) Close() error {
	return t.endpoint.Close()
}
