// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command-tree framework behind the castdeck
// CLI: subcommand dispatch, pflag parsing with typo suggestions,
// generated help, and JSON output that is indented only for a terminal.
package cli
