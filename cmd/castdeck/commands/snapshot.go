// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/castdeck/castdeck/cmd/castdeck/cli"
	"github.com/castdeck/castdeck/lib/codec"
	"github.com/castdeck/castdeck/lib/process"
	"github.com/castdeck/castdeck/lib/resource"
	"github.com/castdeck/castdeck/lib/state"
)

func snapshotCommand(stdout io.Writer) *cli.Command {
	var (
		conn     connection
		diagnose bool
		asJSON   bool
	)
	return &cli.Command{
		Name:    "snapshot",
		Summary: "Fetch and verify a state snapshot",
		Description: "Fetch a snapshot of the worker's state, verify its digest, and print\n" +
			"the digest, last mutation id, and size. --diagnose adds the CBOR\n" +
			"diagnostic notation of the state tree; --json prints the tree itself.",
		Usage: "castdeck snapshot (--socket PATH | --tcp ADDR | --ws URL) [--diagnose | --json]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("snapshot", pflag.ContinueOnError)
			conn.addFlags(flagSet)
			flagSet.BoolVar(&diagnose, "diagnose", false, "print CBOR diagnostic notation")
			flagSet.BoolVar(&asJSON, "json", false, "print the state tree as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 0 {
				return process.Usagef("snapshot takes no arguments")
			}
			if diagnose && asJSON {
				return process.Usagef("--diagnose and --json are mutually exclusive")
			}

			ctx, cancel := context.WithTimeout(context.Background(), conn.timeout)
			defer cancel()
			client, err := conn.dial(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			var snapshot state.Snapshot
			if err := client.CallInto(ctx, resource.Singleton(state.ReplicationServiceName), "snapshot", &snapshot); err != nil {
				return err
			}
			encoded, err := snapshot.Encoded()
			if err != nil {
				return err
			}

			if asJSON {
				tree, err := snapshot.Tree()
				if err != nil {
					return err
				}
				return cli.WriteJSON(stdout, tree)
			}

			fmt.Fprintf(stdout, "digest:      %s\n", snapshot.Digest)
			fmt.Fprintf(stdout, "last id:     %d\n", snapshot.LastID)
			fmt.Fprintf(stdout, "compression: %s\n", snapshot.Compression)
			fmt.Fprintf(stdout, "size:        %d bytes (%d on the wire)\n", snapshot.Size, len(snapshot.Data))
			if !diagnose {
				return nil
			}
			notation, err := codec.Diagnose(encoded)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdout, "\n%s\n", notation)
			return err
		},
	}
}
