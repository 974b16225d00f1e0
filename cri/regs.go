// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
)

// Register offsets of the timeline core CSR block.
const (
	RegTarget     = 0x00 // channel<<8 | address
	RegTimestamp  = 0x08
	RegOData      = 0x10 // writing o_data issues the output command
	RegOStatus    = 0x18
	RegITimeout   = 0x20 // writing i_timeout issues the input command
	RegIStatus    = 0x28
	RegIData      = 0x30
	RegITimestamp = 0x38
	RegCounter    = 0x40

	RegistersSpan = 0x48
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type reg64 struct {
	r func() uint64
	w func(v uint64)
}

func newReg64(dev *Registers, offset int64) reg64 {
	return reg64{
		r: func() uint64 {
			return dev.readU64(dev.base + offset)
		},
		w: func(v uint64) {
			dev.writeU64(dev.base+offset, v)
		},
	}
}

// Registers is a Core driving a memory-mapped timeline core.
//
// Bus errors are sticky: once an access failed, Err reports it and Poll
// reports every command as having an unreachable destination.
// Registers is safe for concurrent use.
type Registers struct {
	rw   rwer
	base int64

	mu  sync.Mutex // guards buf, err and register accesses
	buf [8]byte
	err error

	regs struct {
		target   reg64
		now      reg64
		odata    reg64
		ostatus  reg64
		itimeout reg64
		istatus  reg64
		idata    reg64
		its      reg64
		counter  reg64
	}
}

// NewRegisters binds the CSR block located at offset base of rw.
func NewRegisters(rw rwer, base int64) *Registers {
	dev := &Registers{rw: rw, base: base}
	dev.regs.target = newReg64(dev, RegTarget)
	dev.regs.now = newReg64(dev, RegTimestamp)
	dev.regs.odata = newReg64(dev, RegOData)
	dev.regs.ostatus = newReg64(dev, RegOStatus)
	dev.regs.itimeout = newReg64(dev, RegITimeout)
	dev.regs.istatus = newReg64(dev, RegIStatus)
	dev.regs.idata = newReg64(dev, RegIData)
	dev.regs.its = newReg64(dev, RegITimestamp)
	dev.regs.counter = newReg64(dev, RegCounter)
	return dev
}

func (dev *Registers) Submit(cmd Command) {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	switch cmd.Op {
	case Write:
		dev.regs.target.w(uint64(cmd.Target()))
		dev.regs.now.w(cmd.Timestamp)
		dev.regs.odata.w(cmd.Data)
	case Read:
		dev.regs.target.w(uint64(cmd.Target()))
		dev.regs.itimeout.w(cmd.Timestamp)
	}
}

func (dev *Registers) Poll() Reply {
	dev.mu.Lock()
	defer dev.mu.Unlock()

	rep := Reply{
		Output: OutputStatusFrom(uint8(dev.regs.ostatus.r())),
		Input:  InputStatusFrom(uint8(dev.regs.istatus.r())),
	}
	if !rep.Input.Wait {
		rep.Data = dev.regs.idata.r()
		rep.Timestamp = dev.regs.its.r()
	}
	if dev.err != nil {
		return Reply{
			Output: OutputStatus{DestinationUnreachable: true},
			Input:  InputStatus{DestinationUnreachable: true},
		}
	}
	return rep
}

// Counter returns the current value of the timeline counter.
func (dev *Registers) Counter() uint64 {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.regs.counter.r()
}

// Err returns the first bus error encountered, if any.
func (dev *Registers) Err() error {
	dev.mu.Lock()
	defer dev.mu.Unlock()
	return dev.err
}

func (dev *Registers) readU64(off int64) uint64 {
	if dev.err != nil {
		return 0
	}
	_, dev.err = dev.rw.ReadAt(dev.buf[:8], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("cri: could not read register 0x%x: %w", off, dev.err)
		return 0
	}
	return binary.LittleEndian.Uint64(dev.buf[:8])
}

func (dev *Registers) writeU64(off int64, v uint64) {
	if dev.err != nil {
		return
	}
	binary.LittleEndian.PutUint64(dev.buf[:8], v)
	_, dev.err = dev.rw.WriteAt(dev.buf[:8], off)
	if dev.err != nil {
		dev.err = fmt.Errorf("cri: could not write register 0x%x: %w", off, dev.err)
		return
	}
}

var (
	_ Core    = (*Registers)(nil)
	_ Counter = (*Registers)(nil)
)
