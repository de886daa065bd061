// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package sshserver

import (
	"net"
	"time"

	"github.com/m87/tunnel/internal/transport"
)

// streamConn adapts a transport.Stream to net.Conn so golang.org/x/crypto/ssh
// (which only accepts net.Conn) can run its handshake directly over a
// tunnel substream; addresses are synthetic since a substream has no
// socket-level peer address of its own.
type streamConn struct {
	transport.Stream
}

// NewStreamConn wraps st for use with ssh.NewServerConn.
func NewStreamConn(st transport.Stream) net.Conn {
	return streamConn{st}
}

func (streamConn) LocalAddr() net.Addr                { return streamAddr{} }
func (streamConn) RemoteAddr() net.Addr               { return streamAddr{} }
func (streamConn) SetDeadline(_ time.Time) error      { return nil }
func (streamConn) SetReadDeadline(_ time.Time) error  { return nil }
func (streamConn) SetWriteDeadline(_ time.Time) error { return nil }

type streamAddr struct{}

func (streamAddr) Network() string { return "m87-tunnel-stream" }
func (streamAddr) String() string  { return "tunnel-substream" }
