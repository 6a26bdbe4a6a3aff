// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package scenes

import (
	"context"
	"fmt"

	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/rpc"
)

// Client calls the scene collection in the worker.
type Client struct {
	proxy *rpc.Proxy
}

var _ API = (*Client)(nil)

// NewClient returns a scenes client over client.
func NewClient(client *rpc.Client) *Client {
	return &Client{proxy: client.Singleton(ServiceName)}
}

func (c *Client) AddScene(ctx context.Context, name string) (Handle, error) {
	result, err := c.proxy.Call(ctx, "addScene", name)
	if err != nil {
		return nil, err
	}
	return asRemoteScene(result)
}

func (c *Client) Scenes(ctx context.Context) ([]Handle, error) {
	result, err := c.proxy.Call(ctx, "getScenes")
	if err != nil {
		return nil, err
	}
	object, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("getScenes returned %T, want an object", result)
	}
	list, _ := object["list"].([]any)
	handles := make([]Handle, 0, len(list))
	for _, item := range list {
		scene, err := asRemoteScene(item)
		if err != nil {
			return nil, err
		}
		handles = append(handles, scene)
	}
	return handles, nil
}

func (c *Client) Scene(ctx context.Context, id string) (Handle, error) {
	result, err := c.proxy.Call(ctx, "getScene", id)
	if err != nil {
		return nil, err
	}
	return asRemoteScene(result)
}

func (c *Client) RemoveScene(ctx context.Context, id string) error {
	_, err := c.proxy.Call(ctx, "removeScene", id)
	return err
}

func (c *Client) MakeActive(ctx context.Context, id string) error {
	_, err := c.proxy.Call(ctx, "makeActive", id)
	return err
}

func (c *Client) LoadCollection(ctx context.Context, names []string) (*resource.Promise, error) {
	result, err := c.proxy.Call(ctx, "loadCollection", names)
	if err != nil {
		return nil, err
	}
	promise, ok := result.(*resource.Promise)
	if !ok {
		return nil, fmt.Errorf("loadCollection returned %T, want a promise", result)
	}
	return promise, nil
}

func (c *Client) SceneSwitched(ctx context.Context) (Subscriber, error) {
	subscription, err := c.proxy.Stream(ctx, "sceneSwitched")
	if err != nil {
		return nil, err
	}
	return subscription, nil
}

// RemoteScene is a scene in the worker.
type RemoteScene struct {
	proxy *rpc.Proxy
	id    string
}

var _ Handle = (*RemoteScene)(nil)

func asRemoteScene(value any) (*RemoteScene, error) {
	proxy, ok := value.(*rpc.Proxy)
	if !ok || proxy.ResourceID().Name() != HelperName {
		return nil, fmt.Errorf("expected a %s reference, got %T", HelperName, value)
	}
	args, err := proxy.ResourceID().Args()
	if err != nil {
		return nil, err
	}
	id, err := args.String(0)
	if err != nil {
		return nil, err
	}
	return &RemoteScene{proxy: proxy, id: id}, nil
}

// Proxy returns the underlying proxy, which can be passed back to the
// worker as a Scene argument.
func (s *RemoteScene) Proxy() *rpc.Proxy { return s.proxy }

func (s *RemoteScene) ID() string { return s.id }

// Name fetches the current name from the worker.
func (s *RemoteScene) Name(ctx context.Context) (string, error) {
	var name string
	err := s.proxy.CallInto(ctx, "getName", &name)
	return name, err
}

// CachedName returns the name carried with the reference, or "" in
// compact mode.
func (s *RemoteScene) CachedName() string { return s.proxy.StringField("name") }

func (s *RemoteScene) Rename(ctx context.Context, name string) error {
	_, err := s.proxy.Call(ctx, "rename", name)
	return err
}

func (s *RemoteScene) Select(ctx context.Context) error {
	_, err := s.proxy.Call(ctx, "select")
	return err
}
