// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package cri

import (
	"context"
	"fmt"
	"runtime"
)

// Event is a timestamped input value.
type Event struct {
	Timestamp uint64
	Data      uint64
}

// Client issues commands to a timeline core, one at a time, polling the
// core status until the command resolves.
// Terminal errors are reported to the caller and never retried.
type Client struct {
	core Core
}

// NewClient returns a client issuing commands to core.
func NewClient(core Core) *Client {
	return &Client{core: core}
}

// Write submits an output command and waits for its completion.
func (c *Client) Write(ctx context.Context, cmd Command) error {
	cmd.Op = Write
	err := cmd.Validate()
	if err != nil {
		return err
	}

	c.core.Submit(cmd)
	rep, err := c.wait(ctx, Write)
	if err != nil {
		return fmt.Errorf("cri: could not complete write on channel 0x%06x: %w", cmd.Channel, err)
	}

	switch {
	case rep.Output.Underflow:
		return c.errorf(cmd, ErrUnderflow)
	case rep.Output.DestinationUnreachable:
		return c.errorf(cmd, ErrDestinationUnreachable)
	}
	return nil
}

// Read submits an input command on channel and waits for its result.
// timeout is the absolute time after which the core gives up waiting for
// an input event.
func (c *Client) Read(ctx context.Context, channel uint32, addr uint8, timeout uint64) (Event, error) {
	cmd := Command{
		Op:        Read,
		Channel:   channel,
		Address:   addr,
		Timestamp: timeout,
	}
	err := cmd.Validate()
	if err != nil {
		return Event{}, err
	}

	c.core.Submit(cmd)
	rep, err := c.wait(ctx, Read)
	if err != nil {
		return Event{}, fmt.Errorf("cri: could not complete read on channel 0x%06x: %w", channel, err)
	}

	switch {
	case rep.Input.Overflow:
		return Event{}, c.errorf(cmd, ErrOverflow)
	case rep.Input.DestinationUnreachable:
		return Event{}, c.errorf(cmd, ErrDestinationUnreachable)
	case rep.Input.Empty:
		return Event{}, c.errorf(cmd, ErrEmpty)
	}
	return Event{Timestamp: rep.Timestamp, Data: rep.Data}, nil
}

// Nop submits a no-operation command.
func (c *Client) Nop() {
	c.core.Submit(Command{Op: Nop})
}

func (c *Client) wait(ctx context.Context, op Opcode) (Reply, error) {
	for {
		rep := c.core.Poll()
		if !rep.Pending(op) {
			return rep, nil
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		runtime.Gosched()
	}
}

func (c *Client) errorf(cmd Command, err error) error {
	e := &Error{
		Op:        cmd.Op,
		Channel:   cmd.Channel,
		Timestamp: cmd.Timestamp,
		Err:       err,
	}
	if now, ok := counterOf(c.core); ok {
		e.Slack = int64(cmd.Timestamp - now)
	}
	return e
}

var (
	_ Writer = (*Client)(nil)
)
