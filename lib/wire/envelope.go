// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"fmt"

	"github.com/arena-foundation/arena/lib/codec"
)

// Envelope is the unit of application-level communication. Payload is
// a CBOR record whose shape is determined by Kind; kinds the core does
// not know pass through untouched to the simulation layer.
type Envelope struct {
	Kind    string `cbor:"kind"`
	Payload []byte `cbor:"payload,omitempty"`
}

// New builds an envelope of the given kind with payload encoded as
// CBOR. A nil payload produces an envelope without one.
func New(kind string, payload any) (Envelope, error) {
	if kind == "" {
		return Envelope{}, fmt.Errorf("wire: empty envelope kind")
	}
	if payload == nil {
		return Envelope{Kind: kind}, nil
	}
	data, err := codec.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s payload: %w", kind, err)
	}
	return Envelope{Kind: kind, Payload: data}, nil
}

// MustNew is New for payload types that always encode (the structs in
// this package). It panics on error.
func MustNew(kind string, payload any) Envelope {
	envelope, err := New(kind, payload)
	if err != nil {
		panic(err)
	}
	return envelope
}

// Decode decodes the payload into v. An envelope without a payload
// leaves v unchanged.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := codec.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", e.Kind, err)
	}
	return nil
}

// Equal reports whether two envelopes carry the same kind and payload
// bytes. A nil payload equals an empty one.
func (e Envelope) Equal(other Envelope) bool {
	return e.Kind == other.Kind && bytes.Equal(e.Payload, other.Payload)
}

func (e Envelope) String() string {
	return fmt.Sprintf("%s(%d bytes)", e.Kind, len(e.Payload))
}
