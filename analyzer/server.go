// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package analyzer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
)

// Server serves telemetry dumps over TCP.
//
// The analyzer is armed while the server waits for a client. Once a client
// connects, the analyzer is disarmed, drained and its dump is sent to the
// client. The analyzer is then armed again for the next client.
type Server struct {
	ctl net.Listener
	msg *log.Logger

	ana *Analyzer
	mem io.ReaderAt
}

// Serve serves telemetry dumps of a, read back from mem, on addr.
// Only the WithLogger option is used.
func Serve(addr string, a *Analyzer, mem io.ReaderAt, opts ...Option) error {
	srv, err := NewServer(addr, a, mem, opts...)
	if err != nil {
		return err
	}
	return srv.Serve()
}

// NewServer creates a dump server listening on addr.
func NewServer(addr string, a *Analyzer, mem io.ReaderAt, opts ...Option) (*Server, error) {
	cfg := config{msg: log.New(os.Stdout, "analyzer-svc: ", 0)}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctl, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("analyzer: could not create dump server on %q: %w", addr, err)
	}

	return &Server{
		ctl: ctl,
		msg: cfg.msg,
		ana: a,
		mem: mem,
	}, nil
}

// Addr returns the address the server listens on.
func (srv *Server) Addr() net.Addr {
	return srv.ctl.Addr()
}

// Close stops the server.
func (srv *Server) Close() error {
	return srv.ctl.Close()
}

// Serve accepts clients until the server is closed.
func (srv *Server) Serve() error {
	defer srv.ctl.Close()

	for {
		err := srv.arm()
		if err != nil {
			return err
		}

		conn, err := srv.ctl.Accept()
		if err != nil {
			srv.disarm()
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("analyzer: could not accept connection: %w", err)
		}

		srv.disarm()
		err = srv.handle(conn)
		if err != nil {
			srv.msg.Printf("connection terminated: %+v", err)
			continue
		}
	}
}

func (srv *Server) arm() error {
	srv.msg.Printf("arming analyzer")
	err := srv.ana.Reset()
	if err != nil {
		return fmt.Errorf("analyzer: could not reset analyzer: %w", err)
	}
	err = srv.ana.Enable()
	if err != nil {
		return fmt.Errorf("analyzer: could not enable analyzer: %w", err)
	}
	return nil
}

func (srv *Server) disarm() {
	srv.msg.Printf("disarming analyzer")
	srv.ana.Disable()
	_ = srv.ana.Wait(context.Background())
	srv.msg.Printf("analyzer disarmed")
}

func (srv *Server) handle(conn net.Conn) error {
	defer conn.Close()
	srv.msg.Printf("serving %v...", conn.RemoteAddr())
	defer srv.msg.Printf("serving %v... [done]", conn.RemoteAddr())

	dump, err := srv.ana.Snapshot(srv.mem)
	if err != nil {
		return fmt.Errorf("analyzer: could not snapshot telemetry buffer: %w", err)
	}
	if srv.ana.Overflow() {
		srv.msg.Printf("overflow occurred")
	}
	if srv.ana.BusError() {
		srv.msg.Printf("bus error occurred")
	}

	return WriteDump(conn, dump)
}
