// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package analyzer records every command protocol transaction into a
// telemetry ring buffer in memory.
//
// Capture never blocks the bus: messages are dropped when the internal
// queue is full and the overflow flag is raised.
// After Disable, the analyzer drains its queue and clears its busy flag
// once the last message has been committed. Callers must wait for busy to
// clear before reading the telemetry buffer or the byte count.
package analyzer // import "github.com/go-lpc/rtio/analyzer"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/go-lpc/rtio/cri"
)

var (
	ErrConfig = errors.New("analyzer: invalid configuration")
	ErrBusy   = errors.New("analyzer: busy")
)

type config struct {
	msg     *log.Logger
	width   int
	depth   int
	logch   int8
	counter cri.Counter
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "analyzer: ", 0),
		width: 8,
		depth: 128,
	}
}

// Option configures an analyzer.
type Option func(*config)

// WithLogger sets the logger used by the analyzer.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithBusWidth sets the width, in bytes, of the memory bus.
// The width must be a power of two.
func WithBusWidth(n int) Option {
	return func(cfg *config) { cfg.width = n }
}

// WithQueueDepth sets the number of messages buffered before dropping.
func WithQueueDepth(n int) Option {
	return func(cfg *config) { cfg.depth = n }
}

// WithLogChannel sets the channel reported as the log channel in dumps.
func WithLogChannel(ch int8) Option {
	return func(cfg *config) { cfg.logch = ch }
}

// WithCounter sets the timeline counter used to timestamp transactions
// captured without a counter value, and the stopped message.
func WithCounter(c cri.Counter) Option {
	return func(cfg *config) { cfg.counter = c }
}

type item struct {
	msg   Message
	flush bool
}

// Analyzer captures bus transactions into a telemetry buffer.
type Analyzer struct {
	mem io.WriterAt
	msg *log.Logger
	cfg config

	mu    sync.Mutex
	base  int64
	last  int64
	ptr   int64 // write cursor
	bytes uint64

	configured bool
	enabled    bool
	busy       bool
	overflow   bool
	busErr     bool

	queue chan item
	idle  chan struct{} // closed when busy clears
}

// New returns an analyzer writing telemetry into mem.
func New(mem io.WriterAt, opts ...Option) (*Analyzer, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.width <= 0 || cfg.width&(cfg.width-1) != 0 {
		return nil, fmt.Errorf("analyzer: bus width %d is not a power of two: %w", cfg.width, ErrConfig)
	}
	if cfg.depth <= 0 {
		return nil, fmt.Errorf("analyzer: invalid queue depth %d: %w", cfg.depth, ErrConfig)
	}
	idle := make(chan struct{})
	close(idle)
	return &Analyzer{
		mem:  mem,
		msg:  cfg.msg,
		cfg:  cfg,
		idle: idle,
	}, nil
}

// GroupLen returns the size of the bursts written to memory.
// The telemetry buffer size must be a multiple of it.
func (a *Analyzer) GroupLen() int {
	if a.cfg.width > MessageLen {
		return a.cfg.width
	}
	return MessageLen
}

// Configure sets the telemetry buffer to [base, last], last inclusive,
// rewinds the write cursor and zeroes the byte count.
// Both base and last+1 must be aligned on GroupLen.
func (a *Analyzer) Configure(base, last int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled || a.busy {
		return ErrBusy
	}

	grp := int64(a.GroupLen())
	switch {
	case base < 0 || last < base:
		return fmt.Errorf("analyzer: invalid buffer [0x%x, 0x%x]: %w", base, last, ErrConfig)
	case base%grp != 0:
		return fmt.Errorf("analyzer: base 0x%x not aligned on %d bytes: %w", base, grp, ErrConfig)
	case (last-base+1)%grp != 0:
		return fmt.Errorf(
			"analyzer: buffer size %d not a multiple of %d: %w",
			last-base+1, grp, ErrConfig,
		)
	}

	a.base = base
	a.last = last
	a.ptr = base
	a.bytes = 0
	a.configured = true
	return nil
}

// Size returns the size of the telemetry buffer.
func (a *Analyzer) Size() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last - a.base + 1
}

// Enable starts capturing transactions.
// Busy is raised immediately, before any transaction is captured.
// Enabling an already enabled analyzer is a no-op.
func (a *Analyzer) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case !a.configured:
		return fmt.Errorf("analyzer: no telemetry buffer: %w", ErrConfig)
	case a.enabled:
		return nil
	case a.busy:
		return ErrBusy
	}

	a.enabled = true
	a.busy = true
	a.queue = make(chan item, a.cfg.depth)
	a.idle = make(chan struct{})

	go a.loop(a.queue, a.idle)
	return nil
}

// Disable stops capturing transactions.
// The analyzer stays busy until all buffered messages are committed.
func (a *Analyzer) Disable() {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	a.enabled = false
	q := a.queue
	a.mu.Unlock()

	q <- item{msg: Message{Kind: KindStopped, Counter: a.now()}}
	q <- item{flush: true}
}

// Enabled reports whether the analyzer is capturing transactions.
func (a *Analyzer) Enabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Busy reports whether the analyzer is capturing or still draining.
func (a *Analyzer) Busy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busy
}

// Wait blocks until busy clears.
func (a *Analyzer) Wait(ctx context.Context) error {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("analyzer: could not wait for drain: %w", ctx.Err())
	}
}

// ByteCount returns the number of bytes committed to the telemetry buffer
// since the last reset. It is only meaningful while the analyzer is not busy.
func (a *Analyzer) ByteCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// Overflow reports whether messages were dropped since the last reset.
func (a *Analyzer) Overflow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.overflow
}

// BusError reports whether a telemetry buffer write failed since the last
// reset.
func (a *Analyzer) BusError() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.busErr
}

// Reset zeroes the byte count, clears the error flags and rewinds the
// write cursor. Reset fails with ErrBusy unless the analyzer is disabled
// and idle.
func (a *Analyzer) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.enabled || a.busy {
		return ErrBusy
	}
	a.bytes = 0
	a.ptr = a.base
	a.overflow = false
	a.busErr = false
	return nil
}

// Snoop captures a bus transaction.
// Snoop never blocks: the message is dropped if the queue is full.
func (a *Analyzer) Snoop(tx cri.Transaction) {
	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}
	q := a.queue
	a.mu.Unlock()

	if tx.Counter == 0 {
		tx.Counter = a.now()
	}
	msg, ok := messageFrom(tx)
	if !ok {
		return
	}

	select {
	case q <- item{msg: msg}:
	default:
		a.mu.Lock()
		a.overflow = true
		a.mu.Unlock()
	}
}

func (a *Analyzer) now() uint64 {
	if a.cfg.counter == nil {
		return 0
	}
	return a.cfg.counter.Counter()
}

func (a *Analyzer) loop(q chan item, idle chan struct{}) {
	pk := newPacker(a.cfg.width)
	for it := range q {
		if it.flush {
			if pk.pending() {
				pk.pad()
				a.commit(pk.beats())
			}
			a.mu.Lock()
			a.busy = false
			close(idle)
			a.mu.Unlock()
			return
		}
		if pk.push(it.msg) {
			a.commit(pk.beats())
		}
	}
}

// commit writes one message group as a burst of beats at the write cursor,
// then advances the cursor, wrapping after the burst containing last.
func (a *Analyzer) commit(beats [][]byte) {
	a.mu.Lock()
	ptr := a.ptr
	a.mu.Unlock()

	var (
		off = ptr
		n   int64
		err error
	)
	for _, beat := range beats {
		_, err = a.mem.WriteAt(beat, off)
		if err != nil {
			break
		}
		off += int64(len(beat))
		n += int64(len(beat))
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		if !a.busErr {
			a.msg.Printf("could not write telemetry burst at 0x%x: %+v", ptr, err)
		}
		a.busErr = true
		return
	}

	a.bytes += uint64(n)
	if ptr+n-1 >= a.last {
		a.ptr = a.base
		return
	}
	a.ptr = ptr + n
}
