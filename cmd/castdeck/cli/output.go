// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"io"
	"os"

	"golang.org/x/term"
)

// IsTerminal reports whether w is a terminal.
func IsTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// WriteJSON writes value as one JSON document. Output to a terminal is
// indented; anything else gets one compact line per value so it can be
// piped into line-oriented tools.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	if IsTerminal(w) {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(value)
}
