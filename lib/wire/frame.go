// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/arena-foundation/arena/lib/codec"
	"github.com/arena-foundation/arena/lib/fault"
)

// MaxFrameSize bounds the length field of a frame and the raw size of a
// compressed body.
const MaxFrameSize = 1 << 20

const (
	lengthSize  = 4
	tagSize     = 1
	rawSizeSize = 4
)

// DefaultCompressionThreshold is the smallest body an Encoder will try
// to compress. Heartbeats and acknowledgments are far below it.
const DefaultCompressionThreshold = 512

// ErrNeedMore is returned by DecodeFrame when the buffer does not yet
// hold a complete frame.
var ErrNeedMore = errors.New("wire: incomplete frame")

// Encoder turns envelopes into frames. The zero value sends every body
// uncompressed.
type Encoder struct {
	// Compression is applied to bodies of at least Threshold bytes.
	Compression Compression

	// Threshold defaults to DefaultCompressionThreshold when zero.
	Threshold int
}

// Encode returns e as one uncompressed frame.
func Encode(e Envelope) ([]byte, error) {
	return Encoder{}.Encode(e)
}

// Encode returns e as one frame.
func (enc Encoder) Encode(e Envelope) ([]byte, error) {
	if e.Kind == "" {
		return nil, fmt.Errorf("wire: empty envelope kind")
	}
	body, err := codec.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", e.Kind, err)
	}

	threshold := enc.Threshold
	if threshold <= 0 {
		threshold = DefaultCompressionThreshold
	}
	tag := CompressionNone
	rawSize := len(body)
	if enc.Compression != CompressionNone && len(body) >= threshold {
		compressed, err := compress(body, enc.Compression)
		switch {
		case err == nil:
			body = compressed
			tag = enc.Compression
		case !errors.Is(err, errIncompressible):
			return nil, err
		}
	}

	length := tagSize + len(body)
	if tag != CompressionNone {
		length += rawSizeSize
	}
	if length > MaxFrameSize || rawSize > MaxFrameSize {
		return nil, fmt.Errorf("wire: %s envelope of %d bytes exceeds the %d byte frame limit", e.Kind, rawSize, MaxFrameSize)
	}

	frame := make([]byte, 0, lengthSize+length)
	frame = binary.BigEndian.AppendUint32(frame, uint32(length))
	frame = append(frame, byte(tag))
	if tag != CompressionNone {
		frame = binary.BigEndian.AppendUint32(frame, uint32(rawSize))
	}
	return append(frame, body...), nil
}

// DecodeFrame decodes the first frame in buf. It returns ErrNeedMore if
// buf holds less than one complete frame, and a fault.ProtocolViolation
// if the frame is malformed. rest aliases buf.
func DecodeFrame(buf []byte) (envelope Envelope, rest []byte, err error) {
	if len(buf) < lengthSize {
		return Envelope{}, buf, ErrNeedMore
	}
	length := binary.BigEndian.Uint32(buf)
	if length < tagSize || length > MaxFrameSize {
		return Envelope{}, buf, violation("frame length %d out of range", length)
	}
	end := lengthSize + int(length)
	if len(buf) < end {
		return Envelope{}, buf, ErrNeedMore
	}

	frame := buf[lengthSize:end]
	tag := Compression(frame[0])
	body := frame[tagSize:]
	if tag != CompressionNone {
		if len(body) < rawSizeSize {
			return Envelope{}, buf, violation("compressed frame without raw size")
		}
		rawSize := binary.BigEndian.Uint32(body)
		if rawSize > MaxFrameSize {
			return Envelope{}, buf, violation("raw size %d out of range", rawSize)
		}
		body, err = decompress(body[rawSizeSize:], tag, int(rawSize))
		if err != nil {
			return Envelope{}, buf, fault.New(fault.ProtocolViolation, "decode", err)
		}
	}

	if err := codec.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, buf, fault.New(fault.ProtocolViolation, "decode", err)
	}
	if envelope.Kind == "" {
		return Envelope{}, buf, violation("envelope without kind")
	}
	// The Decoder compacts its buffer in place, so the payload must not
	// alias buf.
	envelope.Payload = bytes.Clone(envelope.Payload)
	return envelope, buf[end:], nil
}

// DecodeAll decodes every complete frame in buf, in order. rest is the
// trailing partial frame (possibly empty). On a malformed frame the
// envelopes decoded before it are returned along with the error.
func DecodeAll(buf []byte) (envelopes []Envelope, rest []byte, err error) {
	rest = buf
	for {
		envelope, remaining, err := DecodeFrame(rest)
		if errors.Is(err, ErrNeedMore) {
			return envelopes, rest, nil
		}
		if err != nil {
			return envelopes, rest, err
		}
		envelopes = append(envelopes, envelope)
		rest = remaining
	}
}

// Decoder reassembles envelopes from a byte stream delivered in
// arbitrary chunks. It is not safe for concurrent use.
type Decoder struct {
	pending []byte
	broken  error
}

// Feed appends p to the pending bytes and returns every envelope that
// is now complete. After a protocol violation the decoder stays broken
// and returns the same error on every call.
func (d *Decoder) Feed(p []byte) ([]Envelope, error) {
	if d.broken != nil {
		return nil, d.broken
	}
	d.pending = append(d.pending, p...)
	envelopes, rest, err := DecodeAll(d.pending)
	if err != nil {
		d.broken = err
		d.pending = nil
		return envelopes, err
	}
	// Compact so the buffer does not grow without bound on a long-lived
	// connection.
	d.pending = append(d.pending[:0], rest...)
	return envelopes, nil
}

// Buffered returns the number of bytes of an incomplete frame held by
// the decoder.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

func violation(format string, args ...any) error {
	return fault.Newf(fault.ProtocolViolation, "decode", format, args...)
}
