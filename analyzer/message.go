// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyzer

import (
	"encoding/binary"
	"fmt"

	"github.com/go-lpc/rtio/cri"
)

// MessageLen is the size in bytes of a telemetry message.
const MessageLen = 32

const chanMask = 1<<30 - 1

// Kind is the type of a telemetry message.
type Kind uint8

const (
	KindOutput Kind = iota
	KindInput
	KindException
	KindStopped
)

func (k Kind) String() string {
	switch k {
	case KindOutput:
		return "output"
	case KindInput:
		return "input"
	case KindException:
		return "exception"
	case KindStopped:
		return "stopped"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Exception codes carried in the data field of exception messages.
const (
	ExcUnderflow              = 1
	ExcDestinationUnreachable = 2
	ExcOverflow               = 3
)

// Message is a telemetry record of a single bus transaction.
//
// Messages are encoded as 32 big-endian bytes:
//
//	[kind:2|channel:30][address:32][counter:64][timestamp:64][data:64]
type Message struct {
	Kind      Kind
	Channel   uint32
	Address   uint32
	Counter   uint64 // timeline counter when the transaction was captured
	Timestamp uint64
	Data      uint64
}

func (m Message) String() string {
	switch m.Kind {
	case KindException:
		return fmt.Sprintf(
			"%-9s ch=0x%06x t=%d cnt=%d code=%s",
			m.Kind, m.Channel, m.Timestamp, m.Counter, excName(m.Data),
		)
	case KindStopped:
		return fmt.Sprintf("%-9s cnt=%d", m.Kind, m.Counter)
	}
	return fmt.Sprintf(
		"%-9s ch=0x%06x addr=0x%02x t=%d cnt=%d data=0x%x",
		m.Kind, m.Channel, m.Address, m.Timestamp, m.Counter, m.Data,
	)
}

func excName(code uint64) string {
	switch code {
	case ExcUnderflow:
		return "underflow"
	case ExcDestinationUnreachable:
		return "unreachable"
	case ExcOverflow:
		return "overflow"
	}
	return fmt.Sprintf("%d", code)
}

// encode writes m into p, which must be at least MessageLen bytes long.
func (m Message) encode(p []byte) {
	_ = p[MessageLen-1]
	binary.BigEndian.PutUint32(p[0:4], uint32(m.Kind)<<30|m.Channel&chanMask)
	binary.BigEndian.PutUint32(p[4:8], m.Address)
	binary.BigEndian.PutUint64(p[8:16], m.Counter)
	binary.BigEndian.PutUint64(p[16:24], m.Timestamp)
	binary.BigEndian.PutUint64(p[24:32], m.Data)
}

func decodeMessage(p []byte) Message {
	_ = p[MessageLen-1]
	w := binary.BigEndian.Uint32(p[0:4])
	return Message{
		Kind:      Kind(w >> 30),
		Channel:   w & chanMask,
		Address:   binary.BigEndian.Uint32(p[4:8]),
		Counter:   binary.BigEndian.Uint64(p[8:16]),
		Timestamp: binary.BigEndian.Uint64(p[16:24]),
		Data:      binary.BigEndian.Uint64(p[24:32]),
	}
}

// MarshalBinary returns the telemetry encoding of m.
func (m Message) MarshalBinary() ([]byte, error) {
	p := make([]byte, MessageLen)
	m.encode(p)
	return p, nil
}

// UnmarshalBinary decodes the telemetry encoding of a message.
func (m *Message) UnmarshalBinary(p []byte) error {
	if len(p) != MessageLen {
		return fmt.Errorf("analyzer: invalid message length %d", len(p))
	}
	*m = decodeMessage(p)
	return nil
}

// isFiller reports whether p holds a filler message.
func isFiller(p []byte) bool {
	for _, v := range p[:MessageLen] {
		if v != 0xff {
			return false
		}
	}
	return true
}

func fillFiller(p []byte) {
	for i := range p {
		p[i] = 0xff
	}
}

// messageFrom converts a bus transaction into a telemetry message.
// Transactions carrying no information (nops, reads without data) yield
// no message.
func messageFrom(tx cri.Transaction) (Message, bool) {
	var (
		cmd = tx.Command
		rep = tx.Reply
		msg = Message{
			Channel:   cmd.Channel,
			Address:   uint32(cmd.Address),
			Counter:   tx.Counter,
			Timestamp: cmd.Timestamp,
		}
	)

	switch cmd.Op {
	case cri.Write:
		switch {
		case rep.Output.Underflow:
			msg.Kind = KindException
			msg.Data = ExcUnderflow
		case rep.Output.DestinationUnreachable:
			msg.Kind = KindException
			msg.Data = ExcDestinationUnreachable
		default:
			msg.Kind = KindOutput
			msg.Data = cmd.Data
		}
	case cri.Read:
		switch {
		case rep.Input.Overflow:
			msg.Kind = KindException
			msg.Data = ExcOverflow
		case rep.Input.DestinationUnreachable:
			msg.Kind = KindException
			msg.Data = ExcDestinationUnreachable
		case rep.Input.Empty:
			return msg, false
		default:
			msg.Kind = KindInput
			msg.Timestamp = rep.Timestamp
			msg.Data = rep.Data
		}
	default:
		return msg, false
	}
	return msg, true
}
