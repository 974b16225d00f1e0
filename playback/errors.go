// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package playback

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-lpc/rtio/cri"
	"github.com/go-lpc/rtio/record"
)

var (
	ErrBusy    = errors.New("playback: engine busy")
	ErrAborted = errors.New("playback: aborted")
)

// Code is the error code latched by the engine when a session fails.
type Code uint8

const (
	CodeNone Code = iota
	CodeMalformed
	CodeUnderflow
	CodeDestinationUnreachable
	CodeIO // trace memory or command writer failure
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeMalformed:
		return "malformed record"
	case CodeUnderflow:
		return "underflow"
	case CodeDestinationUnreachable:
		return "destination unreachable"
	case CodeIO:
		return "i/o error"
	}
	return fmt.Sprintf("Code(%d)", uint8(c))
}

// Error is the error latched by a failed playback session.
type Error struct {
	Code      Code
	Index     int   // index of the offending record
	Offset    int64 // byte offset of the offending record, from the trace base
	Channel   uint32
	Timestamp uint64 // issued timestamp, offset applied
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf(
		"playback: %v at record #%d (offset %d): %v",
		e.Code, e.Index, e.Offset, e.Err,
	)
}

func (e *Error) Unwrap() error { return e.Err }

func codeOf(err error) Code {
	switch {
	case err == nil:
		return CodeNone
	case errors.Is(err, record.ErrMalformed), errors.Is(err, io.ErrUnexpectedEOF):
		return CodeMalformed
	case errors.Is(err, cri.ErrUnderflow):
		return CodeUnderflow
	case errors.Is(err, cri.ErrDestinationUnreachable):
		return CodeDestinationUnreachable
	}
	return CodeIO
}
