// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"
	"io"

	"github.com/castdeck/castdeck/cmd/castdeck/cli"
	"github.com/castdeck/castdeck/lib/process"
	"github.com/castdeck/castdeck/lib/version"
)

// Root returns the castdeck command tree writing results to stdout and
// help to stderr.
func Root(stdout, stderr io.Writer) *cli.Command {
	root := &cli.Command{
		Name:       "castdeck",
		Summary:    "Talk to a castdeck worker",
		HelpOutput: stderr,
		Subcommands: []*cli.Command{
			callCommand(stdout),
			subscribeCommand(stdout),
			tokenCommand(stdout),
			snapshotCommand(stdout),
			versionCommand(stdout),
		},
	}
	// Run only sees args that did not name a subcommand.
	root.Run = func(args []string) error {
		if len(args) == 1 && args[0] == "--version" {
			return printVersion(stdout)
		}
		root.PrintHelp(stderr)
		if len(args) == 0 {
			return process.Usagef("subcommand required")
		}
		return process.Usagef("unknown flag %q", args[0])
	}
	return root
}

func versionCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Run: func([]string) error {
			return printVersion(stdout)
		},
	}
}

func printVersion(stdout io.Writer) error {
	_, err := fmt.Fprintf(stdout, "castdeck %s\n", version.Full())
	return err
}
