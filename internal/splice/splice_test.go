// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package splice

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/transport"
)

type fakeStream struct {
	net.Conn
}

func (f fakeStream) CloseWrite() error { return nil }

type fakeConn struct {
	streams   chan transport.Stream
	datagrams chan []byte
	sent      chan []byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		streams:   make(chan transport.Stream, 4),
		datagrams: make(chan []byte, 4),
		sent:      make(chan []byte, 4),
	}
}

func (c *fakeConn) Kind() transport.Kind { return "fake" }
func (c *fakeConn) OpenStreamSync(ctx context.Context) (transport.Stream, error) {
	select {
	case st := <-c.streams:
		return st, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
func (c *fakeConn) AcceptStream(ctx context.Context) (transport.Stream, error) {
	return c.OpenStreamSync(ctx)
}
func (c *fakeConn) SendDatagram(b []byte) error {
	c.sent <- append([]byte(nil), b...)
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
func (c *fakeConn) Context() context.Context                       { return context.Background() }

func TestSpliceOneStreamBridgesBytes(t *testing.T) {
	s := &Server{log: zap.NewNop()}

	opServer, opClient := net.Pipe()
	devServer, devClient := net.Pipe()
	defer opClient.Close()
	defer devClient.Close()

	deviceConn := newFakeConn()
	deviceConn.streams <- fakeStream{devServer}

	go s.spliceOneStream(context.Background(), fakeStream{opServer}, deviceConn, "abc123", "op-1")

	_, err := opClient.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(devClient, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestSpliceDatagramsForwardsBothDirections(t *testing.T) {
	s := &Server{log: zap.NewNop()}
	opConn := newFakeConn()
	devConn := newFakeConn()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	opConn.datagrams <- []byte("op-to-dev")
	devConn.datagrams <- []byte("dev-to-op")

	go s.spliceDatagrams(ctx, opConn, devConn)

	select {
	case b := <-devConn.sent:
		require.Equal(t, "op-to-dev", string(b))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for operator->device datagram")
	}
	select {
	case b := <-opConn.sent:
		require.Equal(t, "dev-to-op", string(b))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for device->operator datagram")
	}
}

func TestIsExpectedCloseRecognizesContextCanceled(t *testing.T) {
	require.True(t, isExpectedClose(context.Canceled))
	require.False(t, isExpectedClose(errors.New("boom")))
}

func TestRecordDeniedCallsAudit(t *testing.T) {
	var got [3]string
	s := &Server{
		log: zap.NewNop(),
		audit: func(shortID, operatorID, reason string) {
			got = [3]string{shortID, operatorID, reason}
		},
	}
	s.deniedStreams = prometheus.NewCounter(prometheus.CounterOpts{Name: "test_denied_total"})
	s.recordDenied("abc123", "op-1", "bad-token")
	require.Equal(t, [3]string{"abc123", "op-1", "bad-token"}, got)
}
