// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package record implements the binary Event Record format used to store
// timed output commands in trace memory.
//
// A record is laid out as:
//
//	[length:1][channel:3][timestamp:8][address:1][data:0..8]
//
// with every multi-byte field in little-endian order and
// length = 13 + len(data).
// A stream is a sequence of records terminated by a single zero length byte.
package record // import "github.com/go-lpc/rtio/record"

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/rtio/cri"
)

const (
	HeaderLen  = 13              // length of a record without payload
	MaxDataLen = cri.MaxDataSize // maximum payload length
	MaxLen     = HeaderLen + MaxDataLen
	MaxChannel = cri.MaxChannel

	EndMarker = 0 // length byte terminating a stream
)

var (
	ErrMalformed = errors.New("record: malformed record")
)

// Error describes a malformed record found in a stream.
type Error struct {
	Offset int64 // byte offset of the record in the stream
	Index  int   // index of the record in the stream
	Length int   // offending length byte
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf(
		"record: invalid record #%d at offset %d (length=%d): %v",
		e.Index, e.Offset, e.Length, e.Err,
	)
}

func (e *Error) Unwrap() error { return e.Err }

// Record is a single timed output command.
type Record struct {
	Channel   uint32
	Timestamp uint64
	Address   uint8
	Data      []byte
}

// Len returns the encoded length of the record.
func (rec Record) Len() int {
	return HeaderLen + len(rec.Data)
}

// Validate checks the record fields fit their encoded widths.
func (rec Record) Validate() error {
	if rec.Channel > MaxChannel {
		return fmt.Errorf("record: channel 0x%x out of range", rec.Channel)
	}
	if len(rec.Data) > MaxDataLen {
		return fmt.Errorf("record: payload too large (%d > %d)", len(rec.Data), MaxDataLen)
	}
	return nil
}

func (rec Record) String() string {
	return fmt.Sprintf(
		"ch=0x%06x t=%d addr=0x%02x data=%x",
		rec.Channel, rec.Timestamp, rec.Address, rec.Data,
	)
}

// FromCommand converts an output command into a record.
func FromCommand(cmd cri.Command) Record {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, cmd.Data)
	return Record{
		Channel:   cmd.Channel,
		Timestamp: cmd.Timestamp,
		Address:   cmd.Address,
		Data:      data[:cmd.Size],
	}
}

// Command returns the output command described by the record.
func (rec Record) Command() cri.Command {
	var data [8]byte
	copy(data[:], rec.Data)
	return cri.Command{
		Op:        cri.Write,
		Channel:   rec.Channel,
		Timestamp: rec.Timestamp,
		Address:   rec.Address,
		Data:      binary.LittleEndian.Uint64(data[:]),
		Size:      len(rec.Data),
	}
}

// Append appends the encoding of rec to dst.
func Append(dst []byte, rec Record) ([]byte, error) {
	err := rec.Validate()
	if err != nil {
		return dst, err
	}
	var hdr [HeaderLen]byte
	hdr[0] = uint8(rec.Len())
	hdr[1] = uint8(rec.Channel)
	hdr[2] = uint8(rec.Channel >> 8)
	hdr[3] = uint8(rec.Channel >> 16)
	binary.LittleEndian.PutUint64(hdr[4:12], rec.Timestamp)
	hdr[12] = rec.Address
	dst = append(dst, hdr[:]...)
	dst = append(dst, rec.Data...)
	return dst, nil
}

// Marshal encodes recs into a complete stream, end marker included.
func Marshal(recs []Record) ([]byte, error) {
	var (
		buf = new(bytes.Buffer)
		enc = NewEncoder(buf)
	)
	for i, rec := range recs {
		err := enc.Encode(rec)
		if err != nil {
			return nil, fmt.Errorf("record: could not encode record #%d: %w", i, err)
		}
	}
	err := enc.Close()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a complete stream.
// The stream must be terminated by an end marker.
func Unmarshal(p []byte) ([]Record, error) {
	var (
		recs []Record
		dec  = NewDecoder(bytes.NewReader(p))
	)
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return recs, nil
			}
			return recs, err
		}
		recs = append(recs, rec)
	}
}

func validLen(n int) bool {
	return HeaderLen <= n && n <= MaxLen
}
