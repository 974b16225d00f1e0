// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command rtio-srv starts a TDAQ server hosting a timeline core.
//
// The node is configured from a YAML file (see -cfg) with RTIO_ prefixed
// environment overrides.
// With -pmon, the CPU and memory usage of the server process is sampled
// every -freq and written to the given file.
//
// Usage: rtio-srv [OPTIONS]
//
// Example:
//
//	$> rtio-srv -cfg ./rtio.yaml -id rtio-01 -rc-addr :44000
package main // import "github.com/go-lpc/rtio/cmd/rtio-srv"

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/go-daq/tdaq"
	"github.com/go-daq/tdaq/flags"
	"github.com/go-lpc/rtio"
	"github.com/go-lpc/rtio/config"
	"github.com/go-lpc/rtio/node"
	"github.com/sbinet/pmon"
)

func main() {
	log.SetPrefix("rtio-srv: ")
	log.SetFlags(0)

	var (
		fname  = flag.String("cfg", os.Getenv("RTIO_CONFIG"), "path to YAML configuration file")
		doMon  = flag.String("pmon", "", "path to process monitoring log file")
		doFreq = flag.Duration("freq", 1*time.Second, "process monitoring frequency")
	)

	cmd := flags.New()

	if v := rtio.Version(); v != "" {
		log.Printf("version %s", v)
	}

	if *doMon != "" {
		stop, err := monitor(*doMon, *doFreq)
		if err != nil {
			log.Fatalf("could not start process monitoring: %+v", err)
		}
		defer stop()
	}

	cfg, err := config.Load(*fname)
	if err != nil {
		log.Fatalf("could not load configuration: %+v", err)
	}

	dev := node.New(cfg, node.WithLogger(log.New(os.Stdout, "rtio-srv: ", 0)))
	defer dev.Close()

	srv := tdaq.New(cmd, os.Stdout)
	node.NewServer(dev).Register(srv)

	err = srv.Run(context.Background())
	if err != nil {
		log.Panicf("error: %+v", err)
	}
}

func monitor(fname string, freq time.Duration) (func(), error) {
	f, err := os.Create(fname)
	if err != nil {
		return nil, err
	}

	p, err := pmon.Monitor(os.Getpid())
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	p.W = f
	p.Freq = freq

	go func() {
		err := p.Run()
		if err != nil {
			log.Printf("could not run process monitoring: %+v", err)
		}
	}()

	return func() {
		err := p.Kill()
		if err != nil {
			log.Printf("could not stop process monitoring: %+v", err)
		}
		_ = f.Close()
	}, nil
}
