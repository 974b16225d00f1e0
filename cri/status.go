// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"strings"
)

// output status register bits.
const (
	oWait        = 1 << 0
	oUnderflow   = 1 << 1
	oUnreachable = 1 << 2
)

// input status register bits.
const (
	iWaitEvent   = 1 << 0
	iOverflow    = 1 << 1
	iWaitStatus  = 1 << 2
	iUnreachable = 1 << 3
)

// OutputStatus is the status of the last output command.
type OutputStatus struct {
	Wait                   bool // command pending, issuer must hold
	Underflow              bool // timestamp already in the past
	DestinationUnreachable bool // routing failure
}

// OutputStatusFrom decodes the output status register.
func OutputStatusFrom(bits uint8) OutputStatus {
	return OutputStatus{
		Wait:                   bits&oWait != 0,
		Underflow:              bits&oUnderflow != 0,
		DestinationUnreachable: bits&oUnreachable != 0,
	}
}

// Bits encodes the status as in the output status register.
func (st OutputStatus) Bits() uint8 {
	var v uint8
	if st.Wait {
		v |= oWait
	}
	if st.Underflow {
		v |= oUnderflow
	}
	if st.DestinationUnreachable {
		v |= oUnreachable
	}
	return v
}

// Failed reports whether the command terminated with an error.
func (st OutputStatus) Failed() bool {
	return st.Underflow || st.DestinationUnreachable
}

func (st OutputStatus) String() string {
	return flags(
		st.Wait, "wait",
		st.Underflow, "underflow",
		st.DestinationUnreachable, "unreachable",
	)
}

// InputStatus is the status of the last input command.
type InputStatus struct {
	Wait                   bool // no result yet
	Overflow               bool // input buffer overrun
	Empty                  bool // timeout reached without data
	DestinationUnreachable bool
}

// InputStatusFrom decodes the input status register.
func InputStatusFrom(bits uint8) InputStatus {
	return InputStatus{
		Wait:                   bits&iWaitStatus != 0,
		Overflow:               bits&iOverflow != 0,
		Empty:                  bits&iWaitEvent != 0,
		DestinationUnreachable: bits&iUnreachable != 0,
	}
}

// Bits encodes the status as in the input status register.
func (st InputStatus) Bits() uint8 {
	var v uint8
	if st.Wait {
		v |= iWaitStatus
	}
	if st.Overflow {
		v |= iOverflow
	}
	if st.Empty {
		v |= iWaitEvent
	}
	if st.DestinationUnreachable {
		v |= iUnreachable
	}
	return v
}

// Failed reports whether the command terminated with an error.
func (st InputStatus) Failed() bool {
	return st.Overflow || st.Empty || st.DestinationUnreachable
}

func (st InputStatus) String() string {
	return flags(
		st.Wait, "wait",
		st.Overflow, "overflow",
		st.Empty, "empty",
		st.DestinationUnreachable, "unreachable",
	)
}

// Reply is the status read back from the timeline core.
type Reply struct {
	Output    OutputStatus
	Input     InputStatus
	Data      uint64 // input data
	Timestamp uint64 // input timestamp
}

// Pending reports whether the command of the given kind is still in flight.
func (rep Reply) Pending(op Opcode) bool {
	switch op {
	case Write:
		return rep.Output.Wait
	case Read:
		return rep.Input.Wait
	}
	return false
}

func flags(kvs ...interface{}) string {
	var o []string
	for i := 0; i < len(kvs); i += 2 {
		if kvs[i].(bool) {
			o = append(o, kvs[i+1].(string))
		}
	}
	if len(o) == 0 {
		return "ok"
	}
	return strings.Join(o, "|")
}
