// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auxlink

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const maxPayload = 1<<16 - 1

var (
	ErrCorrupted = errors.New("auxlink: corrupted packet")
)

// padding returns the number of zero bytes inserted after n bytes so the
// checksum ends on an 8-byte boundary.
func padding(n int) int {
	return (12 - n%8) % 8
}

// AppendFrame appends the link framing of payload p to dst:
//
//	[len:u16][payload][padding][crc32:u32]
//
// big-endian, the IEEE CRC-32 covering everything before it.
func AppendFrame(dst, p []byte) ([]byte, error) {
	if len(p) > maxPayload {
		return dst, fmt.Errorf("%w (%d > %d)", ErrTooLarge, len(p), maxPayload)
	}
	beg := len(dst)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(p)))
	dst = append(dst, p...)
	dst = append(dst, make([]byte, padding(2+len(p)))...)
	crc := crc32.ChecksumIEEE(dst[beg:])
	dst = binary.BigEndian.AppendUint32(dst, crc)
	return dst, nil
}

// ReadFrame reads one framed packet from r and returns its payload.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))

	buf := make([]byte, 2+n+padding(2+n)+4)
	copy(buf, hdr[:])
	_, err = io.ReadFull(r, buf[2:])
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("auxlink: could not read frame: %w", err)
	}

	end := len(buf) - 4
	var (
		got  = binary.BigEndian.Uint32(buf[end:])
		want = crc32.ChecksumIEEE(buf[:end])
	)
	if got != want {
		return nil, fmt.Errorf("%w: crc32=0x%08x, want=0x%08x", ErrCorrupted, got, want)
	}
	return buf[2 : 2+n], nil
}
