// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// castdeck is the command-line client for a castdeck worker. It calls
// service methods, follows streams, mints bearer tokens from the
// worker's secret, and inspects state snapshots.
package main

import (
	"os"

	"github.com/castdeck/castdeck/cmd/castdeck/commands"
	"github.com/castdeck/castdeck/lib/process"
)

func main() {
	if err := commands.Root(os.Stdout, os.Stderr).Execute(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}
