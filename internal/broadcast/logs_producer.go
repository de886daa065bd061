// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package broadcast

import (
	"sync/atomic"
)

// LogsProducer is the "logs" broadcast.Producer (spec.md section 4.7,
// "tracing log fan-out... every emitted record is broadcast as a line").
// Unlike MetricsProducer it has no ticker of its own: internal/logging
// installs a zapcore.Core that calls Emit for every record written, and
// Emit forwards to the active publish func only while at least one
// subscriber holds the table entry open.
type LogsProducer struct {
	publish atomic.Pointer[func([]byte)]
}

// NewLogsProducer constructs the shared logs producer. A single instance
// should be passed both to internal/logging (as the zap core sink) and
// registered in the broadcast.Table's factory map, so the two share state.
func NewLogsProducer() *LogsProducer {
	return &LogsProducer{}
}

func (p *LogsProducer) Run(publish func([]byte), stop <-chan struct{}) {
	p.publish.Store(&publish)
	<-stop
	p.publish.CompareAndSwap(&publish, nil)
}

// Emit forwards line to the current subscriber set, if any are attached;
// it is a no-op (not an error) when the producer isn't running, matching
// spec.md section 4.7's "first subscribe spawns the task" semantics — logs
// emitted with no subscribers are simply dropped, not buffered.
func (p *LogsProducer) Emit(line []byte) {
	publish := p.publish.Load()
	if publish == nil {
		return
	}
	cp := make([]byte, len(line))
	copy(cp, line)
	(*publish)(cp)
}
