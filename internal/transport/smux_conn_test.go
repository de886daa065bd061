// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"
)

func newSmuxPair(t *testing.T) (*smuxClientConn, *smuxClientConn) {
	t.Helper()
	serverSide, clientSide := net.Pipe()

	clientSess, err := smux.Client(clientSide, smuxSessionConfig())
	require.NoError(t, err)
	serverSess, err := smux.Server(serverSide, smuxSessionConfig())
	require.NoError(t, err)

	type pairResult struct {
		conn *smuxClientConn
		err  error
	}
	clientCh := make(chan pairResult, 1)
	serverCh := make(chan pairResult, 1)
	go func() {
		c, err := newSmuxClientConn(KindWS, clientSide, clientSess, true)
		clientCh <- pairResult{c, err}
	}()
	go func() {
		c, err := newSmuxClientConn(KindWS, serverSide, serverSess, false)
		serverCh <- pairResult{c, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	require.NoError(t, cr.err)
	require.NoError(t, sr.err)
	return cr.conn, sr.conn
}

func TestSmuxClientConnStreamRoundTrip(t *testing.T) {
	client, server := newSmuxPair(t)
	defer client.CloseWithError(0, "test done")
	defer server.CloseWithError(0, "test done")

	done := make(chan struct{})
	go func() {
		st, err := server.AcceptStream(context.Background())
		require.NoError(t, err)
		buf := make([]byte, 5)
		_, err = io.ReadFull(st, buf)
		require.NoError(t, err)
		require.Equal(t, "hello", string(buf))
		close(done)
	}()

	st, err := client.OpenStreamSync(context.Background())
	require.NoError(t, err)
	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream round trip")
	}
}

func TestSmuxClientConnDatagramRoundTrip(t *testing.T) {
	client, server := newSmuxPair(t)
	defer client.CloseWithError(0, "test done")
	defer server.CloseWithError(0, "test done")

	require.NoError(t, client.SendDatagram([]byte("ping")))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := server.ReceiveDatagram(ctx)
	require.NoError(t, err)
	require.Equal(t, "ping", string(b))
}

func TestSmuxClientConnCloseWithErrorCancelsContext(t *testing.T) {
	client, server := newSmuxPair(t)
	defer server.CloseWithError(0, "test done")

	require.NoError(t, client.CloseWithError(0, "shutting down"))
	select {
	case <-client.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context was not cancelled by CloseWithError")
	}
}
