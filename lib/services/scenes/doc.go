// Copyright 2026 The Castdeck Authors
// SPDX-License-Identifier: Apache-2.0

// Package scenes manages the scene collection: an ordered list of
// named scenes, one of which is active.
//
// ScenesService is a singleton; each scene is addressable as a Scene
// helper resource, Scene["<id>"], so a method can return scenes and a
// caller can pass one back as an argument. Scene references carry the
// scene's id and name, which compact mode strips.
package scenes
