// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyzer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

const (
	dumpMagic = 'e'
	dumpChunk = 64 << 10 // initial dump buffer capacity
)

// Dump is a snapshot of the telemetry buffer, oldest message first.
type Dump struct {
	SentBytes      int32 // number of bytes in Data
	TotalByteCount int64 // bytes committed since the last reset
	ErrorOccurred  bool  // messages were dropped or a bus error occurred
	LogChannel     int8
	DDSOneHot      bool
	Data           []byte
}

// Messages decodes the messages held in the dump, skipping filler.
func (d Dump) Messages() ([]Message, error) {
	if len(d.Data)%MessageLen != 0 {
		return nil, fmt.Errorf("analyzer: dump size %d is not a multiple of %d", len(d.Data), MessageLen)
	}
	msgs := make([]Message, 0, len(d.Data)/MessageLen)
	for beg := 0; beg < len(d.Data); beg += MessageLen {
		p := d.Data[beg : beg+MessageLen]
		if isFiller(p) {
			continue
		}
		msgs = append(msgs, decodeMessage(p))
	}
	return msgs, nil
}

// Snapshot reads the telemetry buffer back from mem.
// Snapshot fails with ErrBusy while the analyzer is busy.
func (a *Analyzer) Snapshot(mem io.ReaderAt) (Dump, error) {
	a.mu.Lock()
	var (
		busy  = a.busy
		base  = a.base
		size  = a.last - a.base + 1
		total = a.bytes
		dump  = Dump{
			TotalByteCount: int64(total),
			ErrorOccurred:  a.overflow || a.busErr,
			LogChannel:     a.cfg.logch,
			DDSOneHot:      true,
		}
	)
	a.mu.Unlock()

	if busy {
		return Dump{}, ErrBusy
	}
	if size <= 0 {
		return Dump{}, fmt.Errorf("analyzer: no telemetry buffer: %w", ErrConfig)
	}

	var (
		ptr  = int64(total % uint64(size))
		wrap = total >= uint64(size)
	)

	buf := make([]byte, size)
	switch {
	case wrap:
		_, err := mem.ReadAt(buf[:size-ptr], base+ptr)
		if err != nil {
			return Dump{}, fmt.Errorf("analyzer: could not read telemetry buffer: %w", err)
		}
		_, err = mem.ReadAt(buf[size-ptr:], base)
		if err != nil {
			return Dump{}, fmt.Errorf("analyzer: could not read telemetry buffer: %w", err)
		}
	default:
		buf = buf[:ptr]
		_, err := mem.ReadAt(buf, base)
		if err != nil {
			return Dump{}, fmt.Errorf("analyzer: could not read telemetry buffer: %w", err)
		}
	}

	dump.SentBytes = int32(len(buf))
	dump.Data = buf
	return dump, nil
}

// WriteDump writes d to w, header first.
func WriteDump(w io.Writer, d Dump) error {
	var hdr [1 + 4 + 8 + 3]byte
	hdr[0] = dumpMagic
	binary.BigEndian.PutUint32(hdr[1:5], uint32(len(d.Data)))
	binary.BigEndian.PutUint64(hdr[5:13], uint64(d.TotalByteCount))
	hdr[13] = b2u8(d.ErrorOccurred)
	hdr[14] = uint8(d.LogChannel)
	hdr[15] = b2u8(d.DDSOneHot)

	_, err := w.Write(hdr[:])
	if err != nil {
		return fmt.Errorf("analyzer: could not write dump header: %w", err)
	}
	_, err = w.Write(d.Data)
	if err != nil {
		return fmt.Errorf("analyzer: could not write dump data: %w", err)
	}
	return nil
}

// ReadDump reads a dump written by WriteDump.
func ReadDump(r io.Reader) (Dump, error) {
	var hdr [16]byte
	_, err := io.ReadFull(r, hdr[:])
	if err != nil {
		return Dump{}, fmt.Errorf("analyzer: could not read dump header: %w", err)
	}
	if hdr[0] != dumpMagic {
		return Dump{}, fmt.Errorf("analyzer: invalid dump header marker 0x%x", hdr[0])
	}

	d := Dump{
		SentBytes:      int32(binary.BigEndian.Uint32(hdr[1:5])),
		TotalByteCount: int64(binary.BigEndian.Uint64(hdr[5:13])),
		ErrorOccurred:  hdr[13] != 0,
		LogChannel:     int8(hdr[14]),
		DDSOneHot:      hdr[15] != 0,
	}
	if d.SentBytes < 0 {
		return Dump{}, fmt.Errorf("analyzer: invalid dump size %d", d.SentBytes)
	}

	// grow with the data actually received, not with the header.
	buf := bytes.NewBuffer(make([]byte, 0, min(int(d.SentBytes), dumpChunk)))
	n, err := buf.ReadFrom(io.LimitReader(r, int64(d.SentBytes)))
	if err == nil && n != int64(d.SentBytes) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return Dump{}, fmt.Errorf("analyzer: could not read dump data: %w", err)
	}
	d.Data = buf.Bytes()
	return d, nil
}

func b2u8(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}
