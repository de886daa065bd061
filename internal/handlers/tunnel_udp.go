// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"fmt"
	"net"
	"time"

	cache "github.com/patrickmn/go-cache"

	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/udpchan"
	"github.com/m87/tunnel/internal/wire"
)

// FlowIdleTimeout bounds a per-source UDP flow's idle lifetime inside a
// single Tunnel{Udp} channel, per spec.md section 4.5 ("Per-flow idle
// timeout 10 s; flows are reaped independently of the channel"). Reusing
// patrickmn/go-cache here mirrors internal/udpchan's channel-level table,
// grounded the same way on cppla-moto's ipCache.
const FlowIdleTimeout = 10 * time.Second

type udpFlow struct {
	conn *net.UDPConn
	src  wire.SourceAddr
}

// flowTable is the per-channel "each distinct operator-side source address
// opens its own upstream UDP socket" table from spec.md section 4.5. It is
// constructed fresh per Tunnel{Udp} handshake and closed when the channel
// is torn down — avoiding the cyclic-reference pitfall spec.md section 9
// calls out by having the reaper look up flows by key rather than holding a
// structural back-pointer into the table that owns it.
type flowTable struct {
	flows  *cache.Cache
	target *wire.TunnelTarget
	onPkt  func(src wire.SourceAddr, payload []byte)
}

func newFlowTable(target *wire.TunnelTarget, onPkt func(wire.SourceAddr, []byte)) *flowTable {
	c := cache.New(FlowIdleTimeout, FlowIdleTimeout/2)
	c.OnEvicted(func(_ string, v interface{}) {
		if f, ok := v.(*udpFlow); ok {
			f.conn.Close()
		}
	})
	return &flowTable{flows: c, target: target, onPkt: onPkt}
}

func (t *flowTable) deliver(src wire.SourceAddr, payload []byte) error {
	key := flowKey(src)
	var f *udpFlow
	if v, ok := t.flows.Get(key); ok {
		f = v.(*udpFlow)
	} else {
		addr := net.JoinHostPort(t.target.RemoteHost, fmt.Sprintf("%d", t.target.RemotePort))
		raddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return err
		}
		conn, err := net.DialUDP("udp", nil, raddr)
		if err != nil {
			return err
		}
		f = &udpFlow{conn: conn, src: src}
		t.flows.Set(key, f, cache.DefaultExpiration)
		go t.readLoop(key, f)
	}
	t.flows.Set(key, f, cache.DefaultExpiration) // refresh idle deadline
	_, err := f.conn.Write(payload)
	return err
}

func (t *flowTable) readLoop(key string, f *udpFlow) {
	buf := make([]byte, 65535)
	for {
		n, err := f.conn.Read(buf)
		if n > 0 {
			t.onPkt(f.src, append([]byte(nil), buf[:n]...))
			t.flows.Set(key, f, cache.DefaultExpiration)
		}
		if err != nil {
			return
		}
	}
}

func (t *flowTable) close() {
	for key, item := range t.flows.Items() {
		if f, ok := item.Object.(*udpFlow); ok {
			f.conn.Close()
		}
		t.flows.Delete(key)
	}
}

func flowKey(src wire.SourceAddr) string {
	return fmt.Sprintf("%d-%s-%d", src.Family, src.IP.String(), src.Port)
}

// TunnelUDP implements spec.md section 4.5 "Tunnel{Udp}": allocate a
// channel, report its id to the operator, half-close the handshake stream,
// then bridge per-source flows between the operator's datagrams and the
// target host/port.
func TunnelUDP(conn transport.ClientConn, channels *udpchan.Table, stream transport.Stream, target *wire.TunnelTarget) error {
	ch := channels.Alloc()
	defer channels.Remove(ch.ID)

	if err := wire.WriteChannelID(stream, ch.ID); err != nil {
		return fmt.Errorf("write channel id: %w", err)
	}
	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("half-close tunnel udp handshake stream: %w", err)
	}

	flows := newFlowTable(target, func(src wire.SourceAddr, payload []byte) {
		b, err := wire.EncodeDeviceDatagram(ch.ID, src, payload)
		if err == nil {
			_ = conn.SendDatagram(b)
		}
	})
	defer flows.close()

	for payload := range ch.Deliver {
		channels.Touch(ch.ID)
		src, n, ok := wire.DecodeSourceAddr(payload)
		if !ok {
			continue
		}
		if err := flows.deliver(src, payload[n:]); err != nil {
			continue
		}
	}
	return nil
}
