// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the configuration shared by the Arena binaries.
//
// Configuration comes from a single file named either by the
// ARENA_CONFIG environment variable (via [Load]) or by a --config flag
// (via [LoadFile]). There is no search path and no discovery. Values
// the file omits keep their [Default].
//
// Files ending in .json or .jsonc are JSON with comments and trailing
// commas allowed; anything else is YAML.
//
// ${VAR} and ${VAR:-default} are expanded in the worker executable
// path after loading. No other environment variables override config
// values.
//
// Key exports:
//
//   - [Config] -- every setting, flat, with YAML tags
//   - [Default] -- development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- cross-field checks, errors joined
//
// This package depends on no other Arena packages.
package config
