// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package logging builds the zap logger shared by the agent and server
// binaries, per SPEC_FULL.md section 3's ambient "Logging" subsection. Log
// output is optionally rotated with lumberjack and, when Options.Logs is
// set, mirrored into that broadcast.LogsProducer so operators can tail live
// logs over the "Logs" stream handler (spec.md section 4.5).
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/m87/tunnel/internal/broadcast"
)

// Options configures New.
type Options struct {
	Level string // debug, info, warn, error
	// File, when non-empty, rotates logs through lumberjack instead of
	// writing to stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Logs, when non-nil, receives every emitted record as a JSON line
	// (wired into the "logs" broadcast.Producer).
	Logs *broadcast.LogsProducer
}

// New builds a zap.Logger per Options. It is constructor-injected
// everywhere it's used rather than kept as a package-level global, per
// SPEC_FULL.md section 3's "no implicit singletons" design note.
func New(opts Options) (*zap.Logger, error) {
	level := parseLevel(opts.Level)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	var sink zapcore.WriteSyncer
	if opts.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    orDefault(opts.MaxSizeMB, 100),
			MaxBackups: orDefault(opts.MaxBackups, 5),
			MaxAge:     orDefault(opts.MaxAgeDays, 28),
			Compress:   true,
		})
	} else {
		sink = zapcore.AddSync(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, level)
	if opts.Logs != nil {
		core = zapcore.NewTee(core, newBroadcastCore(opts.Logs, level, encoder))
	}

	return zap.New(core, zap.AddCaller()), nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func parseLevel(s string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
