// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the castdeck worker configuration.
//
// Configuration comes from a single file named either by the
// CASTDECK_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no search path. Files
// ending in .json or .jsonc are read as JSON with comments and
// trailing commas; anything else is read as YAML.
//
// The file may carry development and production sections that
// override base values when [Config].Environment matches. Production
// without an explicit section turns slow-call warnings off and
// requires auth on every listener.
//
// ${HOME}, ${CASTDECK_ROOT}, and ${VAR:-default} are expanded in path
// fields after loading. No other environment variables override
// config values.
package config
