// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package registry is the server-side tunnel table: a process-wide mapping
// from a device's short id to its currently active QUIC/tunnel connection,
// per spec.md section 4.2. Writers are rare (connect/disconnect) and reads
// are frequent, so the table is guarded by a single RWMutex rather than the
// lock-free sync.Map the original Rust source used for unrelated tables —
// this lets replace/remove-if-match stay linearizable across their whole
// read-modify-write, which sync.Map's CompareAndSwap can't express for a
// struct this shaped.
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/m87/tunnel/internal/transport"
)

// ReplacedCode is the application close code used when a newer connection
// from the same device supersedes an older one.
const ReplacedCode = 0x5250 // "RP"

// ReplacedReason is the human-readable close reason paired with ReplacedCode.
const ReplacedReason = "replaced-by-new-connection"

// entry is one tunnel-table row; see spec.md section 3 "Tunnel entry".
type entry struct {
	conn         transport.ClientConn
	stableConnID uuid.UUID
	lost         bool
}

// Registry is the tunnel table. The zero value is not usable; use New.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Replace atomically swaps the entry for shortID, closing the prior
// connection (if any) with ReplacedCode/ReplacedReason and clearing the
// lost flag, per spec.md section 4.2 and testable property 7 (the old
// connection is closed before the replacement becomes visible to Get).
//
// It returns the stable id assigned to the new entry.
func (r *Registry) Replace(shortID string, conn transport.ClientConn) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev := r.entries[shortID]
	if prev != nil {
		prev.conn.CloseWithError(ReplacedCode, ReplacedReason)
	}
	stableID := uuid.New()
	r.entries[shortID] = &entry{conn: conn, stableConnID: stableID}
	return stableID
}

// RemoveIfMatch removes the entry for shortID only if its stable id equals
// stableID; a stale close of an already-superseded connection is a no-op
// (spec.md section 4.2, testable property 2). On a successful removal the
// entry's lost flag is set so a racing Get/Has can't observe a half-removed
// row; it returns true iff the removal happened.
func (r *Registry) RemoveIfMatch(shortID string, stableID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[shortID]
	if !ok || e.stableConnID != stableID {
		return false
	}
	e.lost = true
	delete(r.entries, shortID)
	return true
}

// Get returns the active connection for shortID, or (nil, false) if absent
// or marked lost.
func (r *Registry) Get(shortID string) (transport.ClientConn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[shortID]
	if !ok || e.lost {
		return nil, false
	}
	return e.conn, true
}

// Has is the predicate form of Get.
func (r *Registry) Has(shortID string) bool {
	_, ok := r.Get(shortID)
	return ok
}

// Len reports the number of live entries, for the ambient prometheus gauge
// in internal/splice.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Touch is an interface-only hook for a future heartbeat component to bump
// liveness without altering replace/remove semantics (SPEC_FULL section 6).
// It intentionally does nothing else.
func (r *Registry) Touch(shortID string) {
	_ = shortID
}
