// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"context"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/castdeck/castdeck/lib/wire"
)

// Connection-level requests understood by the external listeners.
// In-process windows never need them.

// Authenticate presents a bearer token. Listeners that require
// authentication reject every other call until it succeeds.
func (c *Client) Authenticate(ctx context.Context, token string) error {
	return c.session(ctx, wire.MethodAuth, wire.ListenerResource, token)
}

// ListenAllSubscriptions asks the listener to forward every stream
// event, not only those of streams this connection subscribed to.
func (c *Client) ListenAllSubscriptions(ctx context.Context) error {
	return c.session(ctx, wire.MethodListenAll, wire.ListenerResource)
}

// Unsubscribe stops the listener forwarding subscription's events to
// this connection and closes it locally.
func (c *Client) Unsubscribe(ctx context.Context, subscription *Subscription) error {
	if err := c.session(ctx, wire.MethodUnsubscribe, wire.ListenerResource, subscription.ID()); err != nil {
		return err
	}
	subscription.Close()
	return nil
}

func (c *Client) session(ctx context.Context, method, target string, args ...any) error {
	encoded, err := wire.EncodeArgs(args)
	if err != nil {
		return err
	}
	request := &wire.Request{
		ID:     ulid.Make().String(),
		Method: method,
		Params: wire.Params{Resource: target, Args: encoded},
	}
	response, err := c.transport.Call(ctx, request)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if response.Error != nil {
		return response.Error
	}
	return nil
}
