// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"github.com/m87/tunnel/internal/sshserver"
	"github.com/m87/tunnel/internal/transport"
)

// Ssh implements spec.md section 4.5 "Ssh": hand the stream to the embedded
// SSH server.
func Ssh(stream transport.Stream, srv *sshserver.Server) error {
	return srv.Serve(sshserver.NewStreamConn(stream))
}
