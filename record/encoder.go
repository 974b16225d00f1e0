// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package record

import (
	"fmt"
	"io"
)

// Encoder writes Event Records to an output stream.
type Encoder struct {
	w   io.Writer
	buf []byte
	err error
	n   int64 // bytes written
}

// NewEncoder returns a new Encoder that writes to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{
		w:   w,
		buf: make([]byte, 0, MaxLen),
	}
}

// Encode writes rec to the stream.
func (enc *Encoder) Encode(rec Record) error {
	if enc.err != nil {
		return enc.err
	}
	buf, err := Append(enc.buf[:0], rec)
	if err != nil {
		return err
	}
	enc.write(buf)
	if enc.err != nil {
		return fmt.Errorf("record: could not write record: %w", enc.err)
	}
	return nil
}

// Close writes the end marker. It does not close the underlying writer.
func (enc *Encoder) Close() error {
	enc.write([]byte{EndMarker})
	if enc.err != nil {
		return fmt.Errorf("record: could not write end marker: %w", enc.err)
	}
	return nil
}

// Len returns the number of bytes written so far.
func (enc *Encoder) Len() int64 {
	return enc.n
}

func (enc *Encoder) write(p []byte) {
	if enc.err != nil {
		return
	}
	var n int
	n, enc.err = enc.w.Write(p)
	enc.n += int64(n)
}
