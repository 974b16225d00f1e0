// Copyright 2022 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the configuration of the rtio daemon from a YAML
// file, with environment overrides.
package config // import "github.com/go-lpc/rtio/config"

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables overriding the
// configuration (e.g. RTIO_ANALYZER_BUS_WIDTH=16).
const EnvPrefix = "RTIO"

// Config is the configuration of the rtio daemon.
type Config struct {
	Core     Core     `mapstructure:"core"`
	Analyzer Analyzer `mapstructure:"analyzer"`
	Playback Playback `mapstructure:"playback"`
	TraceDB  TraceDB  `mapstructure:"tracedb"`
	Aux      Aux      `mapstructure:"aux"`
	Mail     Mail     `mapstructure:"mail"`
}

// Core selects the timeline core.
type Core struct {
	Kind    string `mapstructure:"kind"`    // sim or mmio
	Device  string `mapstructure:"device"`  // memory device for mmio
	Base    int64  `mapstructure:"base"`    // CSR block offset in device
	Tick    uint64 `mapstructure:"tick"`    // counter increment per poll (sim)
	Latency int    `mapstructure:"latency"` // polls per output command (sim)
}

type Analyzer struct {
	Memory     int    `mapstructure:"memory"` // telemetry memory size, in bytes
	BusWidth   int    `mapstructure:"bus_width"`
	QueueDepth int    `mapstructure:"queue_depth"`
	LogChannel int8   `mapstructure:"log_channel"`
	Addr       string `mapstructure:"addr"` // dump service address, disabled if empty
}

type Playback struct {
	Memory   int    `mapstructure:"memory"` // trace memory size, in bytes
	Burst    int    `mapstructure:"burst"`
	Prefetch int    `mapstructure:"prefetch"`
	Trace    string `mapstructure:"trace"` // Event Record file played on start
	Offset   int64  `mapstructure:"offset"`
}

type TraceDB struct {
	DSN string `mapstructure:"dsn"` // MySQL DSN, disabled if empty
}

type Aux struct {
	Memory     int    `mapstructure:"memory"`
	PacketSize int    `mapstructure:"packet_size"`
	Count      int    `mapstructure:"count"`
	Listen     string `mapstructure:"listen"`
	Dial       string `mapstructure:"dial"`
}

// Mail configures alert mails sent on fatal errors.
type Mail struct {
	Server string   `mapstructure:"server"` // disabled if empty
	Port   int      `mapstructure:"port"`
	User   string   `mapstructure:"user"`
	Pass   string   `mapstructure:"pass"`
	From   string   `mapstructure:"from"`
	To     []string `mapstructure:"to"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Core: Core{
			Kind:    "sim",
			Device:  "/dev/mem",
			Tick:    8,
			Latency: 1,
		},
		Analyzer: Analyzer{
			Memory:     1 << 16,
			BusWidth:   8,
			QueueDepth: 128,
			LogChannel: -1,
		},
		Playback: Playback{
			Memory:   1 << 20,
			Burst:    128,
			Prefetch: 4,
		},
		Aux: Aux{
			Memory:     16 * 0x400,
			PacketSize: 0x400,
			Count:      8,
		},
		Mail: Mail{
			Port: 587,
		},
	}
}

// Load reads the configuration from path, if not empty, and applies
// environment overrides on top of it.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// env overrides only apply to known keys.
	for k, val := range map[string]interface{}{
		"core.kind":            cfg.Core.Kind,
		"core.device":          cfg.Core.Device,
		"core.base":            cfg.Core.Base,
		"core.tick":            cfg.Core.Tick,
		"core.latency":         cfg.Core.Latency,
		"analyzer.memory":      cfg.Analyzer.Memory,
		"analyzer.bus_width":   cfg.Analyzer.BusWidth,
		"analyzer.queue_depth": cfg.Analyzer.QueueDepth,
		"analyzer.log_channel": cfg.Analyzer.LogChannel,
		"analyzer.addr":        cfg.Analyzer.Addr,
		"playback.memory":      cfg.Playback.Memory,
		"playback.burst":       cfg.Playback.Burst,
		"playback.prefetch":    cfg.Playback.Prefetch,
		"playback.trace":       cfg.Playback.Trace,
		"playback.offset":      cfg.Playback.Offset,
		"tracedb.dsn":          cfg.TraceDB.DSN,
		"aux.memory":           cfg.Aux.Memory,
		"aux.packet_size":      cfg.Aux.PacketSize,
		"aux.count":            cfg.Aux.Count,
		"aux.listen":           cfg.Aux.Listen,
		"aux.dial":             cfg.Aux.Dial,
		"mail.server":          cfg.Mail.Server,
		"mail.port":            cfg.Mail.Port,
		"mail.user":            cfg.Mail.User,
		"mail.pass":            cfg.Mail.Pass,
		"mail.from":            cfg.Mail.From,
	} {
		v.SetDefault(k, val)
	}

	if path != "" {
		v.SetConfigFile(path)
		err := v.ReadInConfig()
		if err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return cfg, fmt.Errorf("config: no such file %q: %w", path, err)
			}
			return cfg, fmt.Errorf("config: could not read %q: %w", path, err)
		}
	}

	err := v.Unmarshal(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("config: could not decode configuration: %w", err)
	}

	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the consistency of the configuration.
func (cfg *Config) Validate() error {
	cfg.Core.Kind = strings.ToLower(strings.TrimSpace(cfg.Core.Kind))
	switch cfg.Core.Kind {
	case "sim", "mmio":
	default:
		return fmt.Errorf("config: invalid core kind %q", cfg.Core.Kind)
	}

	w := cfg.Analyzer.BusWidth
	if w <= 0 || w&(w-1) != 0 {
		return fmt.Errorf("config: invalid analyzer bus width %d", w)
	}
	if cfg.Analyzer.Memory <= 0 {
		return fmt.Errorf("config: invalid analyzer memory size %d", cfg.Analyzer.Memory)
	}
	if cfg.Playback.Memory <= 0 {
		return fmt.Errorf("config: invalid trace memory size %d", cfg.Playback.Memory)
	}
	if cfg.Aux.Listen != "" && cfg.Aux.Dial != "" {
		return fmt.Errorf("config: aux link can not both listen and dial")
	}
	if need := 2 * cfg.Aux.PacketSize * cfg.Aux.Count; cfg.Aux.Memory < need {
		return fmt.Errorf(
			"config: aux memory too small (%d < %d)",
			cfg.Aux.Memory, need,
		)
	}
	return nil
}
