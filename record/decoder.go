// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Decoder reads and validates Event Records from an input stream.
//
// Decode returns io.EOF once the end marker has been read.
// A stream ending before its end marker yields io.ErrUnexpectedEOF.
type Decoder struct {
	r   io.Reader
	buf []byte
	err error

	off int64 // offset of the next record
	idx int   // index of the next record
}

// NewDecoder creates a decoder reading records from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{
		r:   r,
		buf: make([]byte, MaxLen),
	}
}

// Offset returns the byte offset of the next record to decode, or of the
// record that failed to decode.
func (dec *Decoder) Offset() int64 { return dec.off }

// Index returns the index of the next record to decode, or of the record
// that failed to decode.
func (dec *Decoder) Index() int { return dec.idx }

// Decode reads the next record into rec.
// rec.Data is reused across calls when its capacity allows it.
func (dec *Decoder) Decode(rec *Record) error {
	if dec.err != nil {
		return dec.err
	}

	dec.read(dec.buf[:1])
	if dec.err != nil {
		if errors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		return dec.err
	}

	n := int(dec.buf[0])
	if n == EndMarker {
		dec.off++
		dec.err = io.EOF
		return dec.err
	}

	if !validLen(n) {
		dec.err = &Error{
			Offset: dec.off,
			Index:  dec.idx,
			Length: n,
			Err:    ErrMalformed,
		}
		return dec.err
	}

	dec.read(dec.buf[1:n])
	if dec.err != nil {
		if errors.Is(dec.err, io.EOF) {
			dec.err = io.ErrUnexpectedEOF
		}
		dec.err = fmt.Errorf(
			"record: could not read record #%d at offset %d: %w",
			dec.idx, dec.off, dec.err,
		)
		return dec.err
	}

	p := dec.buf[:n]
	rec.Channel = uint32(p[1]) | uint32(p[2])<<8 | uint32(p[3])<<16
	rec.Timestamp = binary.LittleEndian.Uint64(p[4:12])
	rec.Address = p[12]
	rec.Data = append(rec.Data[:0], p[HeaderLen:]...)

	dec.off += int64(n)
	dec.idx++
	return nil
}

func (dec *Decoder) read(p []byte) {
	if dec.err != nil {
		return
	}
	_, dec.err = io.ReadFull(dec.r, p)
}
