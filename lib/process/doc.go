// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for Arena binaries. It
// holds the one legitimate raw write to stderr: reporting a fatal
// error from run() before or after the structured logger exists.
package process
