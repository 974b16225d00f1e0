// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"sync"
)

// Sim is a software timeline core.
//
// Output commands whose timestamp is already in the past report an
// underflow. Other output commands stay pending for a configurable number
// of polls before being executed. Input events are injected per channel
// and consumed by Read commands.
type Sim struct {
	mu sync.Mutex

	now     uint64
	tick    uint64 // counter increment per poll
	latency int    // polls before an output command completes
	depth   int    // input FIFO depth

	unreachable map[uint32]bool
	inputs      map[uint32][]Event
	overflow    map[uint32]bool

	outputs []Command

	cur  Command
	busy int
	rep  Reply
}

// SimOption configures a simulated core.
type SimOption func(*Sim)

// WithCounter sets the initial counter value.
func WithCounter(now uint64) SimOption {
	return func(sim *Sim) { sim.now = now }
}

// WithTick sets the counter increment applied on every poll.
func WithTick(dt uint64) SimOption {
	return func(sim *Sim) { sim.tick = dt }
}

// WithLatency sets the number of polls an output command stays pending.
func WithLatency(n int) SimOption {
	return func(sim *Sim) { sim.latency = n }
}

// WithInputDepth sets the depth of the per-channel input FIFOs.
func WithInputDepth(n int) SimOption {
	return func(sim *Sim) { sim.depth = n }
}

// WithUnreachable marks channels as unreachable.
func WithUnreachable(chans ...uint32) SimOption {
	return func(sim *Sim) {
		for _, ch := range chans {
			sim.unreachable[ch] = true
		}
	}
}

// NewSim returns a new simulated timeline core.
func NewSim(opts ...SimOption) *Sim {
	sim := &Sim{
		depth:       64,
		unreachable: make(map[uint32]bool),
		inputs:      make(map[uint32][]Event),
		overflow:    make(map[uint32]bool),
	}
	for _, opt := range opts {
		opt(sim)
	}
	return sim
}

func (sim *Sim) Submit(cmd Command) {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.cur = cmd
	sim.rep = Reply{}
	sim.busy = 0

	switch cmd.Op {
	case Write:
		switch {
		case sim.unreachable[cmd.Channel]:
			sim.rep.Output.DestinationUnreachable = true
		case cmd.Timestamp < sim.now:
			sim.rep.Output.Underflow = true
		default:
			sim.busy = sim.latency
			if sim.busy == 0 {
				sim.outputs = append(sim.outputs, cmd)
				return
			}
			sim.rep.Output.Wait = true
		}
	case Read:
		if sim.unreachable[cmd.Channel] {
			sim.rep.Input.DestinationUnreachable = true
			return
		}
		sim.rep.Input.Wait = true
		sim.resolveRead()
	}
}

func (sim *Sim) Poll() Reply {
	sim.mu.Lock()
	defer sim.mu.Unlock()

	sim.now += sim.tick

	switch {
	case sim.rep.Output.Wait:
		sim.busy--
		if sim.busy <= 0 {
			sim.busy = 0
			sim.rep.Output.Wait = false
			sim.outputs = append(sim.outputs, sim.cur)
		}
	case sim.rep.Input.Wait:
		sim.resolveRead()
	}

	return sim.rep
}

func (sim *Sim) resolveRead() {
	ch := sim.cur.Channel
	switch {
	case sim.overflow[ch]:
		delete(sim.overflow, ch)
		sim.rep.Input = InputStatus{Overflow: true}
	case len(sim.inputs[ch]) > 0:
		evt := sim.inputs[ch][0]
		sim.inputs[ch] = sim.inputs[ch][1:]
		sim.rep.Input = InputStatus{}
		sim.rep.Data = evt.Data
		sim.rep.Timestamp = evt.Timestamp
	case sim.cur.Timestamp <= sim.now:
		sim.rep.Input = InputStatus{Empty: true}
	}
}

// Counter returns the current value of the simulated counter.
func (sim *Sim) Counter() uint64 {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	return sim.now
}

// SetCounter sets the simulated counter.
func (sim *Sim) SetCounter(now uint64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.now = now
}

// Advance moves the simulated counter forward by dt.
func (sim *Sim) Advance(dt uint64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.now += dt
}

// Inject queues an input event on channel ch.
// Events injected in a full FIFO are lost and flag an overflow.
func (sim *Sim) Inject(ch uint32, ts, data uint64) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if len(sim.inputs[ch]) >= sim.depth {
		sim.overflow[ch] = true
		return
	}
	sim.inputs[ch] = append(sim.inputs[ch], Event{Timestamp: ts, Data: data})
}

// Outputs returns the output commands executed so far.
func (sim *Sim) Outputs() []Command {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	o := make([]Command, len(sim.outputs))
	copy(o, sim.outputs)
	return o
}

// Reset clears the executed outputs and pending inputs.
func (sim *Sim) Reset() {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	sim.outputs = sim.outputs[:0]
	sim.inputs = make(map[uint32][]Event)
	sim.overflow = make(map[uint32]bool)
	sim.rep = Reply{}
	sim.busy = 0
}

var (
	_ Core    = (*Sim)(nil)
	_ Counter = (*Sim)(nil)
)
