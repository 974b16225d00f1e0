// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package auxlink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	minBackoff = 1 * time.Millisecond
	maxBackoff = 100 * time.Millisecond
)

// Transport pumps packets between a controller and a byte stream link.
//
// Packets from the tx ring are framed and written to the link. Frames read
// from the link are delivered to the rx ring; while the rx ring is full,
// the transport stops reading the link. Corrupted frames and frames larger
// than a slot are dropped.
type Transport struct {
	rw  io.ReadWriter
	ctl *Controller
	msg *log.Logger
}

// NewTransport creates a transport between ctl and the link rw.
func NewTransport(rw io.ReadWriter, ctl *Controller) *Transport {
	return &Transport{
		rw:  rw,
		ctl: ctl,
		msg: ctl.msg,
	}
}

// Run pumps packets until ctx is canceled or the link is closed by the
// peer. If the link implements io.Closer, it is closed on return.
func (tr *Transport) Run(ctx context.Context) error {
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		return tr.sendLoop(gctx)
	})
	grp.Go(func() error {
		return tr.recvLoop(gctx)
	})
	grp.Go(func() error {
		<-gctx.Done()
		if c, ok := tr.rw.(io.Closer); ok {
			_ = c.Close()
		}
		return nil
	})

	err := grp.Wait()
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, io.EOF):
		return nil
	}
	return err
}

func (tr *Transport) sendLoop(ctx context.Context) error {
	var buf []byte
	for {
		p, err := tr.ctl.PopTx(ctx)
		if err != nil {
			return err
		}
		buf, err = AppendFrame(buf[:0], p)
		if err != nil {
			return err
		}
		_, err = tr.rw.Write(buf)
		if err != nil {
			return fmt.Errorf("auxlink: could not write frame: %w", err)
		}
	}
}

func (tr *Transport) recvLoop(ctx context.Context) error {
	for {
		p, err := ReadFrame(tr.rw)
		if err != nil {
			if errors.Is(err, ErrCorrupted) {
				tr.msg.Printf("dropping packet: %+v", err)
				continue
			}
			return err
		}

		err = tr.deliver(ctx, p)
		switch {
		case errors.Is(err, ErrTooLarge):
			tr.msg.Printf("dropping packet: %+v", err)
		case err != nil:
			return err
		}
	}
}

// deliver stores p in the rx ring, backing off while the ring is full.
func (tr *Transport) deliver(ctx context.Context, p []byte) error {
	backoff := minBackoff
	for {
		err := tr.ctl.Deliver(p)
		if !errors.Is(err, ErrFull) {
			return err
		}

		tmr := time.NewTimer(backoff)
		select {
		case <-tmr.C:
		case <-ctx.Done():
			tmr.Stop()
			return ctx.Err()
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
