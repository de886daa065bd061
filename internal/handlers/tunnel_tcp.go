// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"fmt"
	"net"

	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// TunnelTCP implements spec.md section 4.5 "Tunnel{Tcp}": connect to the
// target and bidi-copy, writing a diagnostic line before closing on dial
// failure.
func TunnelTCP(stream transport.Stream, target *wire.TunnelTarget) error {
	addr := net.JoinHostPort(target.RemoteHost, fmt.Sprintf("%d", target.RemotePort))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(stream, "TCP connect failed: %v\n", err)
		return err
	}
	defer support.SafeClose(conn)
	support.PipeNetConn(conn, stream)
	return nil
}
