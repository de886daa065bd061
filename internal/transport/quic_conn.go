// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPNProto is the TLS ALPN value devices and the server negotiate for the
// primary QUIC control tunnel (spec.md section 4.8 step 2).
const ALPNProto = "m87-quic"

// QUICKeepAlive matches the client's keep-alive period from spec.md section
// 4.8: the device pings the server every 5s so idle NATs don't reap the UDP
// mapping.
const QUICKeepAlive = 5 * time.Second

type quicStream struct {
	*quic.Stream
}

func (s quicStream) CloseWrite() error {
	return s.Stream.Close()
}

// quicClientConn adapts *quic.Conn (this process's view of the native
// control tunnel) to ClientConn. Grounded on the teacher's
// internal/dataplane/quic.go dial/stream/datagram calls
// (ForTunnels-client), generalized from a one-shot echo test into the
// device's long-lived control carrier.
type quicClientConn struct {
	conn *quic.Conn
}

// NewQUICClientConn wraps an established *quic.Conn.
func NewQUICClientConn(conn *quic.Conn) ClientConn {
	return &quicClientConn{conn: conn}
}

// DialQUIC dials the primary control tunnel transport, per spec.md section
// 4.8 step 2 (ALPN m87-quic, 5s keep-alive, datagrams enabled for the UDP
// multiplexer).
func DialQUIC(ctx context.Context, addr, serverName string, insecureSkipVerify bool) (ClientConn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: insecureSkipVerify,
		MinVersion:         tls.VersionTLS13,
		NextProtos:         []string{ALPNProto},
		ServerName:         serverName,
	}
	quicConf := &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: QUICKeepAlive,
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, fmt.Errorf("quic dial: %w", err)
	}
	return NewQUICClientConn(conn), nil
}

func (c *quicClientConn) Kind() Kind { return KindQUIC }

func (c *quicClientConn) OpenStreamSync(ctx context.Context) (Stream, error) {
	st, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{st}, nil
}

func (c *quicClientConn) AcceptStream(ctx context.Context) (Stream, error) {
	st, err := c.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return quicStream{st}, nil
}

func (c *quicClientConn) SendDatagram(b []byte) error {
	return c.conn.SendDatagram(b)
}

func (c *quicClientConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	return c.conn.ReceiveDatagram(ctx)
}

func (c *quicClientConn) CloseWithError(code uint64, reason string) error {
	return c.conn.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

func (c *quicClientConn) Context() context.Context {
	return c.conn.Context()
}

// RemoteAddr returns the UDP peer address.
func (c *quicClientConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// ListenQUIC opens the server-side device listener for the primary tunnel
// carrier (spec.md section 4.8 step 2, server half).
func ListenQUIC(addr string, tlsConf *tls.Config) (*quic.Listener, error) {
	conf := tlsConf.Clone()
	conf.NextProtos = []string{ALPNProto}
	quicConf := &quic.Config{
		EnableDatagrams: true,
		KeepAlivePeriod: QUICKeepAlive,
	}
	return quic.ListenAddr(addr, conf, quicConf)
}

// AcceptQUICConn wraps a server-accepted *quic.Conn as a ClientConn.
func AcceptQUICConn(conn *quic.Conn) ClientConn {
	return NewQUICClientConn(conn)
}
