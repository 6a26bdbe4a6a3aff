// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/castdeck/castdeck/cmd/castdeck/cli"
	"github.com/castdeck/castdeck/lib/process"
	"github.com/castdeck/castdeck/lib/rpc"
)

func subscribeCommand(stdout io.Writer) *cli.Command {
	var (
		conn  connection
		count int
	)
	return &cli.Command{
		Name:    "subscribe",
		Summary: "Print events from a resource stream",
		Description: "Subscribe to a stream property and print one JSON value per event\n" +
			"until interrupted or --count events have arrived.",
		Usage: "castdeck subscribe (--socket PATH | --tcp ADDR | --ws URL) <resource> <property>",
		Examples: []cli.Example{
			{Description: "Follow scene switches", Command: "castdeck subscribe --socket /run/castdeck/worker.sock ScenesService sceneSwitched"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("subscribe", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.IntVar(&count, "count", 0, "exit after this many events (0 means run until interrupted)")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return process.Usagef("subscribe needs a resource and a stream property")
			}
			id, err := parseResource(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dialCtx, cancel := context.WithTimeout(ctx, conn.timeout)
			client, err := conn.dial(dialCtx)
			if err != nil {
				cancel()
				return err
			}
			defer client.Close()
			subscription, err := client.Proxy(id).Stream(dialCtx, args[1])
			cancel()
			if err != nil {
				return err
			}
			events, unsubscribe := collect(subscription)
			defer unsubscribe()
			return follow(ctx, client, events, count, stdout)
		},
	}
}

// collect buffers subscription's events on a channel. Stream handlers
// must not block, so events beyond the buffer are dropped.
func collect(subscription *rpc.Subscription) (<-chan any, func()) {
	events := make(chan any, 256)
	unsubscribe := subscription.Subscribe(func(value any) {
		select {
		case events <- value:
		default:
		}
	})
	return events, unsubscribe
}

// follow prints events until ctx ends, the client disconnects, or limit
// events have been printed.
func follow(ctx context.Context, client *rpc.Client, events <-chan any, limit int, stdout io.Writer) error {
	printed := 0
	for {
		select {
		case value := <-events:
			if err := cli.WriteJSON(stdout, printable(value)); err != nil {
				return err
			}
			printed++
			if limit > 0 && printed >= limit {
				return nil
			}
		case <-client.Done():
			return client.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
