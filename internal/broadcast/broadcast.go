// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package broadcast is the ref-counted fan-out producer table from spec.md
// section 4.7: named producers ("system-metrics", "logs") are spawned on
// first subscribe and torn down when the last subscriber drops, modeled as
// an explicit constructor-injected service rather than a package-level
// global, per the "no implicit singletons" design note in spec.md section
// 9.
package broadcast

import (
	"sync"
)

// State names a producer's lifecycle stage while its entry is in the table:
// Running, then ShuttingDown once the last subscriber has released it. A
// name with no table entry has no State value.
type State int

const (
	StateRunning State = iota
	StateShuttingDown
)

// Producer is a named data source a Table manages; Run is called exactly
// once per (re)activation and must exit promptly when stop is closed.
type Producer interface {
	Run(publish func([]byte), stop <-chan struct{})
}

type entry struct {
	producer Producer
	stop     chan struct{}
	state    State

	subMu       sync.Mutex
	refCount    int
	subscribers map[*Subscriber]struct{}
}

// Table is the process-wide (or test-scoped) producer registry.
type Table struct {
	mu      sync.Mutex
	entries map[string]*entry
	factory map[string]func() Producer
}

// New constructs an empty Table. factories maps a producer name to a
// constructor invoked lazily on first Acquire.
func New(factories map[string]func() Producer) *Table {
	return &Table{
		entries: make(map[string]*entry),
		factory: factories,
	}
}

// Subscriber is a single broadcast receiver; the buffer drops the oldest
// entry on overflow (spec.md section 5's "lag detection... lose oldest
// items, not newest").
type Subscriber struct {
	ch chan []byte
}

// SubscriberBufferSize matches spec.md section 5's 256-entry log broadcast
// buffer; the same size is reused for every named producer for simplicity.
const SubscriberBufferSize = 256

// Messages returns the channel new items are delivered on.
func (s *Subscriber) Messages() <-chan []byte { return s.ch }

// Acquire returns a new Subscriber for name, spawning the producer if this
// is the first live subscriber.
func (t *Table) Acquire(name string) (*Subscriber, error) {
	t.mu.Lock()
	e, ok := t.entries[name]
	if !ok {
		factory, known := t.factory[name]
		if !known {
			t.mu.Unlock()
			return nil, errUnknownProducer(name)
		}
		e = &entry{
			producer:    factory(),
			subscribers: make(map[*Subscriber]struct{}),
			stop:        make(chan struct{}),
			state:       StateRunning,
		}
		t.entries[name] = e
		go e.run()
	}
	sub := &Subscriber{ch: make(chan []byte, SubscriberBufferSize)}
	e.subMu.Lock()
	e.subscribers[sub] = struct{}{}
	e.refCount++
	e.subMu.Unlock()
	t.mu.Unlock()
	return sub, nil
}

// Release drops sub's subscription to name; when the last subscriber drops,
// the producer's shutdown signal fires and the entry is removed from the
// table at once, without waiting for the producer's Run to return. An
// Acquire that follows can therefore start a new producer while the old
// one is still exiting. sub's Messages channel is not closed.
func (t *Table) Release(name string, sub *Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[name]
	if !ok {
		return
	}
	e.subMu.Lock()
	delete(e.subscribers, sub)
	e.refCount--
	done := e.refCount <= 0
	e.subMu.Unlock()
	if done {
		e.state = StateShuttingDown
		close(e.stop)
		delete(t.entries, name)
	}
}

// Has reports whether name currently has a live producer entry, for tests
// asserting the shutdown-on-zero-refs property (spec.md section 8, property
// 4).
func (t *Table) Has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[name]
	return ok
}

func (e *entry) run() {
	publish := func(b []byte) {
		for sub := range e.snapshotSubscribers() {
			select {
			case sub.ch <- b:
			default:
				// buffer full: drop the oldest item, not the newest.
				select {
				case <-sub.ch:
				default:
				}
				select {
				case sub.ch <- b:
				default:
				}
			}
		}
	}
	e.producer.Run(publish, e.stop)
}

func (e *entry) snapshotSubscribers() map[*Subscriber]struct{} {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	out := make(map[*Subscriber]struct{}, len(e.subscribers))
	for s := range e.subscribers {
		out[s] = struct{}{}
	}
	return out
}

type errUnknownProducer string

func (e errUnknownProducer) Error() string {
	return "broadcast: unknown producer " + string(e)
}
