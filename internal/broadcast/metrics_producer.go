// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package broadcast

import (
	"encoding/json"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// systemMetricsSnapshot is broadcast as JSON once per tick, per spec.md
// section 4.7 ("system-metrics... collects CPU/memory/disk/network... at 1
// Hz"). GPU collection is out of scope for this core: no pack dependency
// offers a cross-platform GPU probe, and spec.md section 1 treats "metric
// collection probes" generally as an external collaborator — this producer
// is the one probe SPEC_FULL pulls in-scope, and it is bounded to what
// gopsutil itself exposes.
type systemMetricsSnapshot struct {
	Timestamp   int64   `json:"timestamp"`
	CPUPercent  float64 `json:"cpu_percent"`
	MemUsedPct  float64 `json:"mem_used_percent"`
	DiskUsedPct float64 `json:"disk_used_percent"`
	NetBytesIn  uint64  `json:"net_bytes_recv"`
	NetBytesOut uint64  `json:"net_bytes_sent"`
}

// MetricsProducer is the "system-metrics" broadcast.Producer, collecting a
// snapshot every tick via shirou/gopsutil/v4.
type MetricsProducer struct {
	tick time.Duration
	root string
}

// NewMetricsProducer constructs the system-metrics producer. root is the
// filesystem path disk usage is sampled from (e.g. "/").
func NewMetricsProducer(tick time.Duration, root string) *MetricsProducer {
	if tick <= 0 {
		tick = time.Second
	}
	if root == "" {
		root = "/"
	}
	return &MetricsProducer{tick: tick, root: root}
}

func (p *MetricsProducer) Run(publish func([]byte), stop <-chan struct{}) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			snap := p.collect()
			b, err := json.Marshal(snap)
			if err != nil {
				continue
			}
			publish(b)
		}
	}
}

func (p *MetricsProducer) collect() systemMetricsSnapshot {
	snap := systemMetricsSnapshot{Timestamp: time.Now().Unix()}

	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemUsedPct = vm.UsedPercent
	}
	if du, err := disk.Usage(p.root); err == nil {
		snap.DiskUsedPct = du.UsedPercent
	}
	if counters, err := net.IOCounters(false); err == nil && len(counters) > 0 {
		snap.NetBytesIn = counters[0].BytesRecv
		snap.NetBytesOut = counters[0].BytesSent
	}
	return snap
}
