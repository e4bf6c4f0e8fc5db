// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the Arena envelope and its framing.
//
// An Envelope is a kind string plus a CBOR-encoded payload. On the
// wire each envelope is one length-prefixed frame:
//
//	+----------------+-----+---------------------+------------------+
//	| length (u32be) | tag | raw size (u32be)    | body             |
//	+----------------+-----+---------------------+------------------+
//	                        present only when tag != none
//
// length counts every byte after itself. body is the CBOR record
// {kind, payload}, compressed with the algorithm named by tag when the
// sender's Encoder is configured for compression and the body is large
// enough to benefit. Length-prefixing means payload bytes are never
// scanned for a terminator, so no escaping is needed.
//
// A byte stream is turned back into envelopes with DecodeAll (stateless,
// returns the unconsumed remainder) or a Decoder (keeps the remainder
// between reads). Any malformed frame is a fault.ProtocolViolation; the
// decoder never tries to resynchronize.
package wire
