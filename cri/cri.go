// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cri implements the command protocol used to reach the timeline
// core: commands addressed to channels, the output and input status
// returned by the core, and a client issuing one command at a time.
package cri // import "github.com/go-lpc/rtio/cri"

import (
	"context"
	"errors"
	"fmt"
)

// Opcode selects the operation carried by a Command.
type Opcode uint8

const (
	Nop Opcode = iota
	Write
	Read
)

func (op Opcode) String() string {
	switch op {
	case Nop:
		return "nop"
	case Write:
		return "write"
	case Read:
		return "read"
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

const (
	MaxChannel  = 1<<24 - 1 // channels are 24-bit addresses
	MaxDataSize = 8         // maximum payload width, in bytes
)

// Command is a single request to the timeline core.
//
// For Write commands, Timestamp is the absolute time at which Data is
// applied on Channel. For Read commands, Timestamp is the input timeout.
type Command struct {
	Op        Opcode
	Channel   uint32
	Timestamp uint64
	Address   uint8  // sub-register selector
	Data      uint64 // payload, little-endian on the wire
	Size      int    // payload width in bytes, [0, MaxDataSize]
}

// Target returns the combined channel/address target register value.
func (cmd Command) Target() uint32 {
	return cmd.Channel<<8 | uint32(cmd.Address)
}

// Validate checks the command fields fit their wire widths.
func (cmd Command) Validate() error {
	if cmd.Channel > MaxChannel {
		return fmt.Errorf("cri: channel 0x%x out of range", cmd.Channel)
	}
	if cmd.Size < 0 || cmd.Size > MaxDataSize {
		return fmt.Errorf("cri: invalid payload size %d", cmd.Size)
	}
	if cmd.Size < MaxDataSize && cmd.Data>>(8*uint(cmd.Size)) != 0 {
		return fmt.Errorf("cri: payload 0x%x does not fit in %d bytes", cmd.Data, cmd.Size)
	}
	return nil
}

// Core is the timeline core, reached through its command and status
// registers. Submit latches a command; Poll reads the status back.
// Implementations assume serialized access: one command in flight.
type Core interface {
	Submit(cmd Command)
	Poll() Reply
}

// Counter is implemented by cores exposing their current time.
type Counter interface {
	Counter() uint64
}

// Writer is implemented by anything accepting output commands.
type Writer interface {
	Write(ctx context.Context, cmd Command) error
}

var (
	ErrUnderflow              = errors.New("cri: underflow")
	ErrDestinationUnreachable = errors.New("cri: destination unreachable")
	ErrOverflow               = errors.New("cri: input overflow")
	ErrEmpty                  = errors.New("cri: no input data")
)

// Error describes a command that terminated with an error status.
type Error struct {
	Op        Opcode
	Channel   uint32
	Timestamp uint64
	Slack     int64 // timestamp - counter, when the core exposes its counter
	Err       error
}

func (e *Error) Error() string {
	switch e.Err {
	case ErrUnderflow:
		return fmt.Sprintf(
			"cri: underflow at %d mu, channel 0x%06x, slack %d mu",
			e.Timestamp, e.Channel, e.Slack,
		)
	case ErrDestinationUnreachable:
		return fmt.Sprintf(
			"cri: destination unreachable, %s, at %d mu, channel 0x%06x",
			dir(e.Op), e.Timestamp, e.Channel,
		)
	case ErrOverflow:
		return fmt.Sprintf("cri: input overflow on channel 0x%06x", e.Channel)
	}
	return fmt.Sprintf("%v (%s, channel 0x%06x, t=%d mu)", e.Err, e.Op, e.Channel, e.Timestamp)
}

func (e *Error) Unwrap() error { return e.Err }

func dir(op Opcode) string {
	if op == Read {
		return "input"
	}
	return "output"
}
