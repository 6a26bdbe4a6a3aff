// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package counter

import (
	"context"
	"fmt"

	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/rpc"
)

// Client calls the counter in the worker.
type Client struct {
	proxy *rpc.Proxy
}

var _ API = (*Client)(nil)

// NewClient returns a counter client over client.
func NewClient(client *rpc.Client) *Client {
	return &Client{proxy: client.Singleton(ServiceName)}
}

func (c *Client) Get(ctx context.Context) (float64, error) {
	var value float64
	err := c.proxy.CallInto(ctx, "get", &value)
	return value, err
}

func (c *Client) Increment(ctx context.Context) error {
	_, err := c.proxy.Call(ctx, "increment")
	return err
}

func (c *Client) Add(ctx context.Context, amount float64) (float64, error) {
	var value float64
	err := c.proxy.CallInto(ctx, "add", &value, amount)
	return value, err
}

func (c *Client) IncrementLater(ctx context.Context) (*resource.Promise, error) {
	result, err := c.proxy.Call(ctx, "incrementLater")
	if err != nil {
		return nil, err
	}
	promise, ok := result.(*resource.Promise)
	if !ok {
		return nil, fmt.Errorf("incrementLater returned %T, want a promise", result)
	}
	return promise, nil
}

func (c *Client) Changes(ctx context.Context) (Subscriber, error) {
	subscription, err := c.proxy.Stream(ctx, "changed")
	if err != nil {
		return nil, err
	}
	return subscription, nil
}
