// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"sync"
)

// Transaction is a resolved command, as observed on the bus.
type Transaction struct {
	Command Command
	Reply   Reply
	Counter uint64 // core counter when the command resolved, if known
}

// Snooper observes bus transactions.
// Snoop is called synchronously from the issuing goroutine and must not block.
type Snooper interface {
	Snoop(tx Transaction)
}

// SnooperFunc adapts a function to the Snooper interface.
type SnooperFunc func(tx Transaction)

func (f SnooperFunc) Snoop(tx Transaction) { f(tx) }

// Bus is a Core forwarding commands to an underlying core and publishing
// every resolved transaction to its attached snoopers, regardless of
// which issuer submitted the command.
type Bus struct {
	core Core

	mu     sync.RWMutex
	snoops []snoop
	id     int

	io      sync.Mutex
	cur     Command
	pending bool
}

type snoop struct {
	id int
	s  Snooper
}

// NewBus returns a bus tapping commands sent to core.
func NewBus(core Core) *Bus {
	return &Bus{core: core}
}

// Attach registers s and returns a function to detach it.
func (b *Bus) Attach(s Snooper) (detach func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.id++
	id := b.id
	b.snoops = append(b.snoops, snoop{id: id, s: s})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, v := range b.snoops {
			if v.id == id {
				b.snoops = append(b.snoops[:i:i], b.snoops[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) Submit(cmd Command) {
	b.io.Lock()
	defer b.io.Unlock()

	b.core.Submit(cmd)
	if cmd.Op == Nop {
		return
	}
	b.cur = cmd
	b.pending = true
}

func (b *Bus) Poll() Reply {
	b.io.Lock()
	defer b.io.Unlock()

	rep := b.core.Poll()
	if !b.pending || rep.Pending(b.cur.Op) {
		return rep
	}
	b.pending = false

	tx := Transaction{Command: b.cur, Reply: rep}
	tx.Counter, _ = counterOf(b.core)
	b.publish(tx)
	return rep
}

func (b *Bus) publish(tx Transaction) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, v := range b.snoops {
		v.s.Snoop(tx)
	}
}

func counterOf(core Core) (uint64, bool) {
	switch c := core.(type) {
	case *Bus:
		return counterOf(c.core)
	case Counter:
		return c.Counter(), true
	}
	return 0, false
}

var (
	_ Core = (*Bus)(nil)
)
