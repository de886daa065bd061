// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package udpchan is the device-side UDP datagram multiplexer table
// (spec.md section 4.3): one row per `Tunnel{Udp}` handshake, keyed by a
// monotonic channel id, holding a bounded delivery queue the router's
// datagram-demux loop feeds and the Tunnel{Udp} forward handler drains.
//
// Idle channels are reaped after IdleTimeout using patrickmn/go-cache's
// expiration sweep, the same library and expiry pattern the teacher
// (cppla-moto) uses for its per-IP request-rate cache
// (cppla-moto/controller/server.go's ipCache), generalized here from a
// rate-limit counter to a connection table with an eviction callback. This
// also resolves the open question in spec.md section 9 about the reaper
// using a blocking lock inside an async loop: go-cache's own janitor
// goroutine drives expiry, so no caller ever holds a lock across I/O.
package udpchan

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// IdleTimeout is how long a channel may sit without traffic before it's
// evicted, per spec.md section 4.3's 30s idle window.
const IdleTimeout = 30 * time.Second

// DeliverBufferSize bounds the per-channel inbound queue, matching spec.md
// section 5's "mpsc channels are bounded (UDP: 1024 messages)".
const DeliverBufferSize = 1024

// Channel is one multiplexed UDP flow: Deliver carries datagrams the
// router's demux loop has matched to this channel id, for the Tunnel{Udp}
// handler to drain. Deliver is closed exactly once, when the channel leaves
// the Table (reaped for being idle, or Remove), at which point the
// Tunnel{Udp} handler's `range ch.Deliver` loop returns. Shutdown of the
// owning tunnel does not close Deliver by itself; a channel of a closed
// tunnel is closed when it is next reaped as idle. Send and
// close share a lock so the demux loop in router.go can never write to an
// already-closed Deliver.
type Channel struct {
	ID      uint32
	Deliver chan []byte

	mu     sync.Mutex
	closed bool
}

// Send enqueues payload for delivery, returning false if the queue is full
// or the channel has already been closed — both cases the caller should
// treat as a silent drop rather than a panic.
func (c *Channel) Send(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Deliver <- payload:
		return true
	default:
		return false
	}
}

// close closes Deliver exactly once. Safe to call concurrently with Send.
func (c *Channel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Deliver)
}

// Table tracks open channels for a single tunnel, assigning monotonically
// increasing ids and evicting idle entries.
type Table struct {
	next    uint32
	entries *cache.Cache
}

// New constructs a Table whose entries expire after IdleTimeout, checked at
// half that interval. Eviction always closes the evicted channel's Deliver
// so its Tunnel{Udp} handler goroutine unblocks out of `range ch.Deliver`
// and returns; onEvict (if non-nil) is an additional hook invoked after the
// close, for callers that want to log or count reaps.
func New(onEvict func(*Channel)) *Table {
	c := cache.New(IdleTimeout, IdleTimeout/2)
	c.OnEvicted(func(_ string, v interface{}) {
		ch, ok := v.(*Channel)
		if !ok {
			return
		}
		ch.close()
		if onEvict != nil {
			onEvict(ch)
		}
	})
	return &Table{entries: c}
}

// Alloc assigns and returns the next channel id with a fresh delivery
// queue.
func (t *Table) Alloc() *Channel {
	id := atomic.AddUint32(&t.next, 1)
	ch := &Channel{ID: id, Deliver: make(chan []byte, DeliverBufferSize)}
	t.entries.Set(channelKey(id), ch, cache.DefaultExpiration)
	return ch
}

// Touch refreshes a channel's idle deadline; call on every datagram seen
// for it in either direction.
func (t *Table) Touch(id uint32) {
	if ch, ok := t.entries.Get(channelKey(id)); ok {
		t.entries.Set(channelKey(id), ch, cache.DefaultExpiration)
	}
}

// Get returns the channel for id, or (nil, false) if it's unknown or has
// already been evicted — the only signal the router's demux loop needs to silently
// drop a datagram for an unrecognized channel id (spec.md section 8,
// testable property 6).
func (t *Table) Get(id uint32) (*Channel, bool) {
	v, ok := t.entries.Get(channelKey(id))
	if !ok {
		return nil, false
	}
	return v.(*Channel), true
}

// Remove evicts id immediately, e.g. when its handler returns.
func (t *Table) Remove(id uint32) {
	t.entries.Delete(channelKey(id))
}

// Len reports the number of live channels.
func (t *Table) Len() int {
	return t.entries.ItemCount()
}

func channelKey(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
