// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package transport

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xtaci/smux"

	"github.com/m87/tunnel/shared/wsconn"
)

// WSPingInterval/WSPongWait mirror the teacher's websocket keep-alive
// cadence (ForTunnels-client/internal/dataplane/session.go wsReadTimeout and
// startPingLoop), used when this carrier is selected as the control-tunnel
// fallback (spec.md section 4.8, "alternate transports").
const (
	WSPingInterval = 30 * time.Second
	WSPongWait     = 90 * time.Second
)

func smuxSessionConfig() *smux.Config {
	cfg := smux.DefaultConfig()
	cfg.KeepAliveInterval = 10 * time.Second
	cfg.KeepAliveTimeout = 30 * time.Second
	return cfg
}

// DialWS dials the WebSocket+smux fallback control tunnel. wsURL is the full
// ws:// or wss:// URL of the server's upgrade endpoint and header is sent
// with the upgrade request, per spec.md section 4.8.
func DialWS(ctx context.Context, wsURL string, header http.Header) (ClientConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("ws dial: %w", err)
	}

	startWSKeepAlive(conn)

	sess, err := smux.Client(wsconn.NewWSConn(conn), smuxSessionConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smux client over ws: %w", err)
	}

	c, err := newSmuxClientConn(KindWS, conn, sess, true)
	if err != nil {
		sess.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

// AcceptWS wraps an already-upgraded *websocket.Conn on the server side,
// establishing the smux server session that pairs with DialWS's client
// session.
func AcceptWS(conn *websocket.Conn) (ClientConn, error) {
	startWSKeepAlive(conn)

	sess, err := smux.Server(wsconn.NewWSConn(conn), smuxSessionConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smux server over ws: %w", err)
	}

	c, err := newSmuxClientConn(KindWS, conn, sess, false)
	if err != nil {
		sess.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

func startWSKeepAlive(conn *websocket.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(WSPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(WSPongWait))
	})
	ticker := time.NewTicker(WSPingInterval)
	go func() {
		defer ticker.Stop()
		for range ticker.C {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}()
}
