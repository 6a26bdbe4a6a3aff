// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"io"

	"github.com/spf13/pflag"

	"github.com/castdeck/castdeck/cmd/castdeck/cli"
	"github.com/castdeck/castdeck/lib/process"
	"github.com/castdeck/castdeck/lib/resource"
)

func callCommand(stdout io.Writer) *cli.Command {
	var (
		conn   connection
		noWait bool
	)
	return &cli.Command{
		Name:    "call",
		Summary: "Call a method on a worker resource",
		Description: "Call a method on a worker resource and print the result as JSON.\n\n" +
			"Arguments are parsed as JSON; anything that is not valid JSON is sent\n" +
			"as a string. When the method returns a promise, call waits for it to\n" +
			"settle unless --no-wait is given.",
		Usage: "castdeck call (--socket PATH | --tcp ADDR | --ws URL) <resource> <method> [args...]",
		Examples: []cli.Example{
			{Description: "Increment the counter", Command: "castdeck call --socket /run/castdeck/worker.sock CounterService increment"},
			{Description: "Rename a scene", Command: `castdeck call --tcp 127.0.0.1:4455 'Scene["01J9..."]' rename "Main stage"`},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("call", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.BoolVar(&noWait, "no-wait", false, "do not wait for promise results")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) < 2 {
				return process.Usagef("call needs a resource and a method")
			}
			id, err := parseResource(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), conn.timeout)
			defer cancel()
			client, err := conn.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			result, err := client.Call(ctx, id, args[1], parseArgs(args[2:])...)
			if err != nil {
				return err
			}
			if promise, ok := result.(*resource.Promise); ok && !noWait {
				if result, err = promise.Wait(ctx); err != nil {
					return err
				}
			}
			return cli.WriteJSON(stdout, printable(result))
		},
	}
}
