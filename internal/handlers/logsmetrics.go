// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"github.com/m87/tunnel/internal/broadcast"
	"github.com/m87/tunnel/internal/transport"
)

// LogsMetricsProducerName selects which named broadcast.Table entry a
// stream subscribes to.
type LogsMetricsProducerName string

const (
	ProducerLogs    LogsMetricsProducerName = "logs"
	ProducerMetrics LogsMetricsProducerName = "system-metrics"
)

// LogsOrMetrics subscribes to the named broadcast producer and writes every
// item as a "\n"-terminated UTF-8 line on stream until a write to the stream
// fails, per spec.md section 4.5 "Logs / Metrics". The subscription is
// released when it returns; the subscriber's channel is never closed, so
// the loop does not end on its own.
func LogsOrMetrics(stream transport.Stream, table *broadcast.Table, name LogsMetricsProducerName) error {
	sub, err := table.Acquire(string(name))
	if err != nil {
		return err
	}
	defer table.Release(string(name), sub)

	for msg := range sub.Messages() {
		if _, err := stream.Write(append(msg, '\n')); err != nil {
			return err
		}
	}
	return nil
}
