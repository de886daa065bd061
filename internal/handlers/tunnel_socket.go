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

// TunnelSocket implements spec.md section 4.5 "Tunnel{Socket}": connect to
// a local Unix socket and bidi-copy. Copy errors that
// internal/support.IsBenignCopyError classifies as an expected peer close
// are not logged; other copy errors are logged by the bridge through the
// standard log package. This handler itself only reports the dial failure.
func TunnelSocket(stream transport.Stream, target *wire.TunnelTarget) error {
	conn, err := net.Dial("unix", target.RemotePath)
	if err != nil {
		fmt.Fprintf(stream, "socket connect failed: %v\n", err)
		return err
	}
	defer support.SafeClose(conn)
	support.PipeNetConn(conn, stream)
	return nil
}
