// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers shared by the castdeck
// binaries: reporting the error returned from run() before the
// structured logger exists, and choosing the exit code.
package process
