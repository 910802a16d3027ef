// Package wire implements the length-prefixed protobuf frame transport:
// every message on the client connection (and on the UDF worker socket)
// is a 4-byte big-endian length followed by a protobuf message with two
// fields - a JSON string and a repeated bytes field whose order matches
// command order.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package wire

import (
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// Frame is the wire message: Json carries the command batch or response
// array, Blobs carries the attachments in command order.
type Frame struct {
	Json  string
	Blobs [][]byte
}

// Field numbers of the VdmsMessage protobuf schema. The schema is small
// and stable enough that the frames are coded directly with protowire
// rather than a generated binding.
const (
	fieldJson  = 1
	fieldBlobs = 2
)

// MaxFrameSize bounds a single frame; anything larger is treated as a
// corrupt stream rather than an allocation request.
const MaxFrameSize = 1 << 30

// Marshal renders the frame into protobuf bytes (without the length
// prefix).
func (f *Frame) Marshal() []byte {
	size := protowire.SizeTag(fieldJson) + protowire.SizeBytes(len(f.Json))
	for _, b := range f.Blobs {
		size += protowire.SizeTag(fieldBlobs) + protowire.SizeBytes(len(b))
	}
	out := make([]byte, 0, size)
	out = protowire.AppendTag(out, fieldJson, protowire.BytesType)
	out = protowire.AppendString(out, f.Json)
	for _, b := range f.Blobs {
		out = protowire.AppendTag(out, fieldBlobs, protowire.BytesType)
		out = protowire.AppendBytes(out, b)
	}
	return out
}

// Unmarshal parses protobuf bytes into the frame, tolerating unknown
// fields the way any generated binding would.
func (f *Frame) Unmarshal(data []byte) error {
	f.Json = ""
	f.Blobs = nil
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("wire: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldJson && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("wire: bad json field: %w", protowire.ParseError(n))
			}
			f.Json = v
			data = data[n:]
		case num == fieldBlobs && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("wire: bad blob field: %w", protowire.ParseError(n))
			}
			f.Blobs = append(f.Blobs, append([]byte(nil), v...))
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("wire: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

// Write emits the frame with its 4-byte big-endian length prefix.
func Write(w io.Writer, f *Frame) error {
	body := f.Marshal()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// Read consumes one length-prefixed frame from r.
func Read(r io.Reader) (*Frame, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	f := &Frame{}
	if err := f.Unmarshal(body); err != nil {
		return nil, err
	}
	return f, nil
}
