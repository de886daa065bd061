// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package router

import (
	"bytes"
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/broadcast"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/udpchan"
	"github.com/m87/tunnel/internal/wire"
)

// fakeStream adapts a net.Conn to transport.Stream for tests.
type fakeStream struct {
	net.Conn
}

func (f fakeStream) CloseWrite() error {
	if cw, ok := f.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// fakeConn is a minimal transport.ClientConn offering one queued stream and
// one queued datagram, then blocking until ctx is cancelled.
type fakeConn struct {
	mu       sync.Mutex
	streams  []fakeStream
	datagrams chan []byte
	sent     [][]byte
}

func (c *fakeConn) Kind() transport.Kind { return "fake" }

func (c *fakeConn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	return nil, errors.New("not supported")
}

func (c *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	c.mu.Lock()
	if len(c.streams) > 0 {
		st := c.streams[0]
		c.streams = c.streams[1:]
		c.mu.Unlock()
		return st, nil
	}
	c.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (c *fakeConn) SendDatagram(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b := <-c.datagrams:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) CloseWithError(code uint64, reason string) error { return nil }

func (c *fakeConn) Context() context.Context { return context.Background() }

func TestRouterDispatchesExecStream(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	go func() {
		require.NoError(t, wire.WriteStreamHeader(client, wire.StreamHeader{
			Type: wire.KindExec, Token: "tok", Command: "true",
		}))
	}()

	out := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(client)
		out <- buf.String()
	}()

	r := &Router{
		validate: func(token string, kind wire.Kind) error {
			require.Equal(t, "tok", token)
			return nil
		},
		broadcast: broadcast.New(nil),
		channels:  udpchan.New(nil),
		log:       zap.NewNop(),
	}
	r.handleStream(fakeStream{server})

	select {
	case s := <-out:
		require.Contains(t, s, `"exit_code":0`)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for exec output")
	}
}

func TestRouterRejectsInvalidToken(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()
	defer server.Close()

	go wire.WriteStreamHeader(client, wire.StreamHeader{
		Type: wire.KindExec, Token: "bad", Command: "true",
	})

	r := &Router{
		validate: func(token string, kind wire.Kind) error {
			return errors.New("rejected")
		},
		broadcast: broadcast.New(nil),
		channels:  udpchan.New(nil),
		log:       zap.NewNop(),
	}
	r.handleStream(fakeStream{server})
}

func TestDatagramDemuxDropsUnknownChannel(t *testing.T) {
	channels := udpchan.New(nil)
	ch := channels.Alloc()

	payload := wire.EncodeOperatorDatagram(ch.ID, []byte("hi"))
	unknown := wire.EncodeOperatorDatagram(ch.ID+1000, []byte("ignored"))

	ctx, cancel := context.WithCancel(context.Background())
	conn := &fakeConn{datagrams: make(chan []byte, 2)}
	r := &Router{channels: channels, log: zap.NewNop()}

	delivered := make(chan []byte, 1)
	go func() {
		b := <-ch.Deliver
		delivered <- b
	}()

	conn.datagrams <- unknown
	conn.datagrams <- payload
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	r.conn = conn
	done := make(chan struct{})
	go func() {
		r.datagramDemuxLoop(ctx)
		close(done)
	}()

	select {
	case b := <-delivered:
		require.Equal(t, "hi", string(b))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	<-done
}
