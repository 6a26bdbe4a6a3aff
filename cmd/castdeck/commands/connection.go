// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/castdeck/castdeck/lib/process"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/rpc"
)

// EnvToken is read when --token is not given.
const EnvToken = "CASTDECK_TOKEN"

// connection holds the flags shared by every command that talks to a
// worker.
type connection struct {
	socket  string
	tcp     string
	ws      string
	token   string
	timeout time.Duration
}

func (c *connection) addFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.socket, "socket", "", "worker unix socket path")
	flagSet.StringVar(&c.tcp, "tcp", "", "worker TCP address (host:port)")
	flagSet.StringVar(&c.ws, "ws", "", "worker WebSocket URL (ws://host:port/api/websocket)")
	flagSet.StringVar(&c.token, "token", "", "bearer token (default: $"+EnvToken+")")
	flagSet.DurationVar(&c.timeout, "timeout", 10*time.Second, "connect and call timeout")
}

// dial connects to the one endpoint named by the flags and
// authenticates when a token is available.
func (c *connection) dial(ctx context.Context) (*rpc.Client, error) {
	named := 0
	for _, value := range []string{c.socket, c.tcp, c.ws} {
		if value != "" {
			named++
		}
	}
	if named != 1 {
		return nil, process.Usagef("exactly one of --socket, --tcp, or --ws is required")
	}

	var (
		transport rpc.Transport
		err       error
	)
	switch {
	case c.socket != "":
		transport, err = rpc.DialSocket(ctx, "unix", c.socket, rpc.DialOptions{})
	case c.tcp != "":
		transport, err = rpc.DialSocket(ctx, "tcp", c.tcp, rpc.DialOptions{})
	default:
		transport, err = rpc.DialWebSocket(ctx, c.ws, nil, rpc.DialOptions{})
	}
	if err != nil {
		return nil, err
	}

	client := rpc.NewClient(transport, rpc.Options{})
	token := c.token
	if token == "" {
		token = os.Getenv(EnvToken)
	}
	if token != "" {
		if err := client.Authenticate(ctx, token); err != nil {
			client.Close()
			return nil, fmt.Errorf("authenticating: %w", err)
		}
	}
	return client, nil
}

// parseResource accepts the string form of a resource id, such as
// CounterService or Scene["01J..."].
func parseResource(s string) (resource.ID, error) {
	id, err := resource.ParseID(s)
	if err != nil {
		return resource.ID{}, process.Usagef("%v", err)
	}
	return id, nil
}

// parseArgs decodes each argument as JSON. Anything that is not valid
// JSON is passed as a string, so plain words need no quoting.
func parseArgs(args []string) []any {
	parsed := make([]any, 0, len(args))
	for _, arg := range args {
		decoder := json.NewDecoder(strings.NewReader(arg))
		decoder.UseNumber()
		var value any
		if err := decoder.Decode(&value); err != nil || decoder.More() {
			parsed = append(parsed, arg)
			continue
		}
		parsed = append(parsed, value)
	}
	return parsed
}

// printable replaces proxies and subscriptions in a call result with
// plain objects that encode as JSON.
func printable(value any) any {
	switch typed := value.(type) {
	case *rpc.Proxy:
		out := map[string]any{"resource": typed.ResourceID().String()}
		if fields := typed.Fields(); len(fields) > 0 {
			out["fields"] = fields
		}
		return out
	case *rpc.Subscription:
		return map[string]any{"subscription": typed.ID()}
	case *resource.Promise:
		return map[string]any{"promise": true}
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = printable(item)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = printable(item)
		}
		return out
	}
	return value
}
