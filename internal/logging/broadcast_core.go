// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package logging

import (
	"go.uber.org/zap/zapcore"

	"github.com/m87/tunnel/internal/broadcast"
)

// broadcastCore is a zapcore.Core that forwards every encoded record to a
// broadcast.LogsProducer instead of a file or socket, so the "Logs" forward
// handler (spec.md section 4.5) tails live process logs without a separate
// log-shipping pipeline.
type broadcastCore struct {
	zapcore.LevelEnabler
	encoder zapcore.Encoder
	logs    *broadcast.LogsProducer
}

func newBroadcastCore(logs *broadcast.LogsProducer, level zapcore.LevelEnabler, encoder zapcore.Encoder) zapcore.Core {
	return &broadcastCore{LevelEnabler: level, encoder: encoder, logs: logs}
}

func (c *broadcastCore) With(fields []zapcore.Field) zapcore.Core {
	clone := c.encoder.Clone()
	for _, f := range fields {
		f.AddTo(clone)
	}
	return &broadcastCore{LevelEnabler: c.LevelEnabler, encoder: clone, logs: c.logs}
}

func (c *broadcastCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *broadcastCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.encoder.EncodeEntry(e, fields)
	if err != nil {
		return err
	}
	defer buf.Free()
	c.logs.Emit(buf.Bytes())
	return nil
}

func (c *broadcastCore) Sync() error { return nil }
