// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package registry

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m87/tunnel/internal/transport"
)

// fakeConn is a minimal transport.ClientConn that records whether and how
// it was closed, for asserting registry close-ordering invariants.
type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	closeCode uint64
	closeRsn  string
}

func (c *fakeConn) Kind() transport.Kind { return "fake" }
func (c *fakeConn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	return nil, context.Canceled
}
func (c *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	return nil, context.Canceled
}
func (c *fakeConn) SendDatagram(b []byte) error                  { return nil }
func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) { return nil, context.Canceled }
func (c *fakeConn) Context() context.Context                     { return context.Background() }

func (c *fakeConn) CloseWithError(code uint64, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.closeCode = code
	c.closeRsn = reason
	return nil
}

func (c *fakeConn) isClosed() (bool, uint64, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeRsn
}

// Testable property 1: at most one connection per short id at any instant.
func TestReplaceKeepsAtMostOneEntry(t *testing.T) {
	reg := New()
	a := &fakeConn{}
	b := &fakeConn{}

	reg.Replace("abc123", a)
	got, ok := reg.Get("abc123")
	require.True(t, ok)
	assert.Same(t, transport.ClientConn(a), got)

	reg.Replace("abc123", b)
	got, ok = reg.Get("abc123")
	require.True(t, ok)
	assert.Same(t, transport.ClientConn(b), got)
	assert.Equal(t, 1, reg.Len())
}

// Testable property 7: the previous connection is closed with a distinct
// application close code before the replacement becomes visible to Get.
// Replace holds its write lock across both the close and the swap, so no
// reader can observe the new entry before the close call has returned.
func TestReplaceClosesPreviousBeforeNewIsVisible(t *testing.T) {
	reg := New()
	a := &fakeConn{}
	reg.Replace("abc123", a)

	b := &fakeConn{}
	reg.Replace("abc123", b)

	closed, code, reason := a.isClosed()
	assert.True(t, closed)
	assert.Equal(t, uint64(ReplacedCode), code)
	assert.Equal(t, ReplacedReason, reason)

	got, ok := reg.Get("abc123")
	require.True(t, ok)
	assert.Same(t, transport.ClientConn(b), got)
}

// Testable property 2: a stale RemoveIfMatch whose stable id no longer
// matches the current entry is a no-op — S3's "delayed close of the first
// must not evict" scenario.
func TestRemoveIfMatchRejectsStaleStableID(t *testing.T) {
	reg := New()
	a := &fakeConn{}
	staleID := reg.Replace("abc123", a)

	b := &fakeConn{}
	reg.Replace("abc123", b)

	ok := reg.RemoveIfMatch("abc123", staleID)
	assert.False(t, ok, "stale remove must be a no-op")

	got, ok := reg.Get("abc123")
	require.True(t, ok)
	assert.Same(t, transport.ClientConn(b), got)
}

func TestRemoveIfMatchRemovesCurrentEntry(t *testing.T) {
	reg := New()
	a := &fakeConn{}
	currentID := reg.Replace("abc123", a)

	ok := reg.RemoveIfMatch("abc123", currentID)
	assert.True(t, ok)
	assert.False(t, reg.Has("abc123"))
}

func TestGetHasReportUnknownShortID(t *testing.T) {
	reg := New()
	_, ok := reg.Get("nope")
	assert.False(t, ok)
	assert.False(t, reg.Has("nope"))
}
