// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package node

import (
	"fmt"

	"github.com/go-daq/tdaq"
)

// Server exposes a node through the tdaq run-control protocol.
type Server struct {
	node *Node
}

// NewServer returns the run-control handlers of n.
func NewServer(n *Node) *Server {
	return &Server{node: n}
}

// Register installs the command, output and run handlers on srv.
func (srv *Server) Register(s *tdaq.Server) {
	s.CmdHandle("/config", srv.OnConfig)
	s.CmdHandle("/init", srv.OnInit)
	s.CmdHandle("/reset", srv.OnReset)
	s.CmdHandle("/start", srv.OnStart)
	s.CmdHandle("/stop", srv.OnStop)
	s.CmdHandle("/quit", srv.OnQuit)

	s.OutputHandle("/analyzer", srv.analyzer)

	s.RunHandle(srv.run)
}

func (srv *Server) OnConfig(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /config command...")
	err := srv.node.Configure()
	if err != nil {
		ctx.Msg.Errorf("could not configure node: %+v", err)
		return fmt.Errorf("could not configure node: %w", err)
	}
	return nil
}

func (srv *Server) OnInit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /init command...")
	err := srv.node.Init(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not initialize node: %+v", err)
		return fmt.Errorf("could not initialize node: %w", err)
	}
	return nil
}

func (srv *Server) OnReset(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /reset command...")
	err := srv.node.Configure()
	if err != nil {
		ctx.Msg.Errorf("could not reset node: %+v", err)
		return fmt.Errorf("could not reset node: %w", err)
	}
	return nil
}

func (srv *Server) OnStart(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /start command...")
	err := srv.node.Start(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not start node: %+v", err)
		return fmt.Errorf("could not start node: %w", err)
	}
	return nil
}

func (srv *Server) OnStop(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /stop command...")
	err := srv.node.Stop(ctx.Ctx)
	if err != nil {
		ctx.Msg.Errorf("could not stop node: %+v", err)
		return fmt.Errorf("could not stop node: %w", err)
	}
	return nil
}

func (srv *Server) OnQuit(ctx tdaq.Context, resp *tdaq.Frame, req tdaq.Frame) error {
	ctx.Msg.Debugf("received /quit command...")
	err := srv.node.Close()
	if err != nil {
		ctx.Msg.Errorf("could not close node: %+v", err)
		return fmt.Errorf("could not close node: %w", err)
	}
	return nil
}

func (srv *Server) analyzer(ctx tdaq.Context, dst *tdaq.Frame) error {
	raw, err := srv.node.Dump(ctx.Ctx)
	if err != nil {
		dst.Body = nil
		return nil
	}
	dst.Body = raw
	return nil
}

func (srv *Server) run(ctx tdaq.Context) error {
	return srv.node.Run(ctx.Ctx)
}
