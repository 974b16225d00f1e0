// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package auxlink implements the auxiliary link packet controller: two
// rings of fixed-size packet slots, one per direction, laid out in a
// single memory block.
//
// The transmit ring occupies the first half of the block and the receive
// ring the second half. Each ring has exactly one producer and one
// consumer. A full transmit ring blocks its producer; a full receive ring
// is reported to the link transport, which stops reading the link.
package auxlink // import "github.com/go-lpc/rtio/auxlink"

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

var (
	ErrFull     = errors.New("auxlink: ring full")
	ErrEmpty    = errors.New("auxlink: ring empty")
	ErrTooLarge = errors.New("auxlink: packet too large")
)

type rwer interface {
	io.ReaderAt
	io.WriterAt
}

type config struct {
	msg   *log.Logger
	size  int // maximum packet size, one slot
	count int // number of slots per direction
}

func newConfig() config {
	return config{
		msg:   log.New(os.Stdout, "auxlink: ", 0),
		size:  1024,
		count: 8,
	}
}

// Option configures an auxiliary link controller.
type Option func(*config)

// WithLogger sets the logger of the controller and its transports.
func WithLogger(msg *log.Logger) Option {
	return func(cfg *config) { cfg.msg = msg }
}

// WithPacketSize sets the maximum packet size, in bytes.
func WithPacketSize(n int) Option {
	return func(cfg *config) { cfg.size = n }
}

// WithBufferCount sets the number of packet slots per direction.
func WithBufferCount(n int) Option {
	return func(cfg *config) { cfg.count = n }
}

// Layout describes the memory block shared by both rings.
type Layout struct {
	Base     int64 // start of the block, also start of the tx ring
	RxBase   int64 // start of the rx ring
	SlotSize int
	Count    int
	Size     int64 // total size of the block
}

// Stats holds the packet counters of a controller.
type Stats struct {
	TxQueued   uint64 // packets written by the local producer
	TxSent     uint64 // packets handed to the transport
	RxReceived uint64 // packets delivered by the transport
	RxRead     uint64 // packets read by the local consumer
}

// Controller manages the tx and rx packet rings.
type Controller struct {
	msg *log.Logger
	cfg config
	lay Layout

	tx *ring
	rx *ring
}

// New creates a controller whose rings live in mem, starting at base.
func New(mem rwer, base int64, opts ...Option) (*Controller, error) {
	cfg := newConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size <= 0 || cfg.size > maxPayload {
		return nil, fmt.Errorf("auxlink: invalid packet size %d", cfg.size)
	}
	if cfg.count <= 0 {
		return nil, fmt.Errorf("auxlink: invalid buffer count %d", cfg.count)
	}

	half := int64(cfg.size) * int64(cfg.count)
	lay := Layout{
		Base:     base,
		RxBase:   base + half,
		SlotSize: cfg.size,
		Count:    cfg.count,
		Size:     2 * half,
	}

	return &Controller{
		msg: cfg.msg,
		cfg: cfg,
		lay: lay,
		tx:  newRing(mem, lay.Base, cfg.size, cfg.count),
		rx:  newRing(mem, lay.RxBase, cfg.size, cfg.count),
	}, nil
}

// Layout returns the memory layout of the rings.
func (ctl *Controller) Layout() Layout { return ctl.lay }

// Send queues p for transmission, blocking while the tx ring is full.
func (ctl *Controller) Send(ctx context.Context, p []byte) error {
	err := ctl.tx.put(ctx, p, true)
	if err != nil {
		return fmt.Errorf("auxlink: could not send packet: %w", err)
	}
	return nil
}

// TrySend queues p for transmission, failing with ErrFull when the tx ring
// is full.
func (ctl *Controller) TrySend(p []byte) error {
	return ctl.tx.put(context.Background(), p, false)
}

// PopTx removes the oldest packet from the tx ring, blocking while the
// ring is empty. PopTx is used by the link transport.
func (ctl *Controller) PopTx(ctx context.Context) ([]byte, error) {
	return ctl.tx.get(ctx, true)
}

// Deliver stores a packet received from the link into the rx ring.
// Deliver fails with ErrFull when the rx ring is full.
func (ctl *Controller) Deliver(p []byte) error {
	return ctl.rx.put(context.Background(), p, false)
}

// Recv removes the oldest received packet, blocking while the rx ring is
// empty.
func (ctl *Controller) Recv(ctx context.Context) ([]byte, error) {
	p, err := ctl.rx.get(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("auxlink: could not receive packet: %w", err)
	}
	return p, nil
}

// TryRecv removes the oldest received packet, failing with ErrEmpty when
// the rx ring is empty.
func (ctl *Controller) TryRecv() ([]byte, error) {
	return ctl.rx.get(context.Background(), false)
}

// Stats returns the packet counters.
func (ctl *Controller) Stats() Stats {
	var st Stats
	st.TxQueued, st.TxSent = ctl.tx.counters()
	st.RxReceived, st.RxRead = ctl.rx.counters()
	return st
}

// ring is a single-producer single-consumer ring of packet slots.
// A slot is only visible to the consumer once fully written.
type ring struct {
	mem   rwer
	base  int64
	size  int
	count int

	mu   sync.Mutex
	prod uint64
	cons uint64
	lens []int
	kick chan struct{} // closed on every index update
}

func newRing(mem rwer, base int64, size, count int) *ring {
	return &ring{
		mem:   mem,
		base:  base,
		size:  size,
		count: count,
		lens:  make([]int, count),
		kick:  make(chan struct{}),
	}
}

func (r *ring) slot(i uint64) int64 {
	return r.base + int64(i%uint64(r.count))*int64(r.size)
}

// wait blocks until cond holds, with r.mu held on return.
func (r *ring) wait(ctx context.Context, cond func() bool, block bool, errNot error) error {
	r.mu.Lock()
	for !cond() {
		if !block {
			r.mu.Unlock()
			return errNot
		}
		kick := r.kick
		r.mu.Unlock()
		select {
		case <-kick:
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
	}
	return nil
}

func (r *ring) notify() {
	close(r.kick)
	r.kick = make(chan struct{})
}

func (r *ring) put(ctx context.Context, p []byte, block bool) error {
	if len(p) > r.size {
		return fmt.Errorf("%w (%d > %d)", ErrTooLarge, len(p), r.size)
	}

	room := func() bool { return r.prod-r.cons < uint64(r.count) }
	err := r.wait(ctx, room, block, ErrFull)
	if err != nil {
		return err
	}
	i := r.prod
	r.mu.Unlock()

	// the slot is owned by the producer until prod is published.
	_, err = r.mem.WriteAt(p, r.slot(i))
	if err != nil {
		return fmt.Errorf("auxlink: could not write packet slot: %w", err)
	}

	r.mu.Lock()
	r.lens[i%uint64(r.count)] = len(p)
	r.prod++
	r.notify()
	r.mu.Unlock()
	return nil
}

func (r *ring) get(ctx context.Context, block bool) ([]byte, error) {
	avail := func() bool { return r.prod != r.cons }
	err := r.wait(ctx, avail, block, ErrEmpty)
	if err != nil {
		return nil, err
	}
	i := r.cons
	n := r.lens[i%uint64(r.count)]
	r.mu.Unlock()

	p := make([]byte, n)
	_, err = r.mem.ReadAt(p, r.slot(i))
	if err != nil {
		return nil, fmt.Errorf("auxlink: could not read packet slot: %w", err)
	}

	r.mu.Lock()
	r.cons++
	r.notify()
	r.mu.Unlock()
	return p, nil
}

func (r *ring) counters() (prod, cons uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prod, r.cons
}
