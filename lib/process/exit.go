// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ExitUsage is returned for command-line mistakes.
const ExitUsage = 2

// UsageError marks an error caused by bad arguments rather than a
// runtime failure.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

// Usagef builds a [UsageError].
func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps an error from run() to a process exit code. Shutdown by
// signal surfaces as context.Canceled and counts as success.
func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	case errors.As(err, &usage):
		return ExitUsage
	default:
		return 1
	}
}

// Report writes "error: err" to w unless err maps to exit code 0, and
// returns the exit code.
func Report(w io.Writer, err error) int {
	code := ExitCode(err)
	if code != 0 {
		fmt.Fprintf(w, "error: %v\n", err)
	}
	return code
}

// Fatal reports err on stderr and exits. Use it in main() for the error
// returned by run().
func Fatal(err error) {
	os.Exit(Report(os.Stderr, err))
}
