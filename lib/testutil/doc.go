// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds the test helpers shared by Arena packages.
//
// RequireReceive, RequireClosed and Eventually are the only places
// where tests wait on the wall clock; everything else is driven by a
// fake clock. They fail the test instead of returning errors.
package testutil
