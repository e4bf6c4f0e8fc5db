// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds Arena's single CBOR configuration.
//
// Every record that crosses a process boundary (envelopes, message
// payloads, the worker's session payload, status reports) is CBOR. The
// encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so equal
// values always produce equal bytes, which keeps frame round-trip tests
// byte-exact.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// Struct tags: wire types use `cbor` tags only. Types that are also
// rendered as JSON (status output) use `json` tags, which the CBOR
// library honours as a fallback. Never put both on one field.
package codec
