// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for the castdeck binaries.
//
// [GitCommit], [GitDirty], [BuildTime], and [Version] are injected with
// -ldflags -X. When they are not, [GitCommit] and [GitDirty] fall back
// to the VCS stamp the Go toolchain embeds in the binary.
package version
