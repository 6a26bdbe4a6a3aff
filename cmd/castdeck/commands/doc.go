// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands defines the castdeck command tree.
package commands
