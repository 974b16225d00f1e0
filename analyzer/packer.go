// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyzer

// packer adapts fixed-size messages to the memory bus width.
//
// When the bus is narrower than a message, each message is split into
// MessageLen/width beats. When the bus is wider, width/MessageLen
// messages are gathered into a single beat.
// A group is the smallest run of complete messages spanning whole beats;
// each group is written as one burst.
type packer struct {
	width int    // bus width, in bytes
	group []byte // current message group
	cur   int    // number of messages in the current group
}

func newPacker(width int) *packer {
	n := MessageLen
	if width > n {
		n = width
	}
	return &packer{
		width: width,
		group: make([]byte, n),
	}
}

// groupLen returns the size in bytes of a message group.
func (pk *packer) groupLen() int { return len(pk.group) }

// push appends m to the current group and reports whether the group is
// complete.
func (pk *packer) push(m Message) bool {
	m.encode(pk.group[pk.cur*MessageLen:])
	pk.cur++
	return pk.cur*MessageLen == len(pk.group)
}

// pending reports whether a partial group is buffered.
func (pk *packer) pending() bool { return pk.cur > 0 }

// pad completes a partial group with filler messages.
func (pk *packer) pad() {
	fillFiller(pk.group[pk.cur*MessageLen:])
	pk.cur = len(pk.group) / MessageLen
}

// beats returns the complete group split into bus beats and resets the
// packer.
func (pk *packer) beats() [][]byte {
	var (
		n   = len(pk.group) / pk.width
		out = make([][]byte, n)
	)
	for i := range out {
		beg := i * pk.width
		out[i] = append([]byte(nil), pk.group[beg:beg+pk.width]...)
	}
	pk.cur = 0
	return out
}
