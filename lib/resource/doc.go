// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package resource holds the worker-side object model that remote
// callers address by id: singleton services, parameterized helpers,
// and the promise and stream values their methods may return.
//
// A [Container] maps type names to factories. Singletons are built and
// initialized at most once, on first resolution. Helpers are cheap
// views rebuilt from the arguments encoded in their id on every
// resolution, so a helper id is a complete recipe for the object.
//
// Methods are exposed explicitly through [Target.Methods]; nothing is
// discovered by reflection. [Reify] turns a method result into a
// JSON-ready tree, replacing every embedded [Resource] with a
// wire.Reference.
package resource
