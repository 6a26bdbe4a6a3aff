// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package authtoken mints and verifies the bearer tokens that external
// listener connections present through the auth method.
//
// Tokens are HS256 JWTs signed with a per-installation secret kept in
// a 0600 file next to the worker's configuration. The worker loads (or
// creates) the secret at startup with [LoadOrCreateSecret]; the CLI
// reads the same file to mint tokens for scripts and remote panels.
//
// A [Verifier] checks signature, issuer, expiry, and the revocation
// [Blacklist]. Its Authenticate method is the hook the listener
// package calls for every auth request.
package authtoken
