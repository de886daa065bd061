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

// Port implements the legacy "Port" stream variant (spec.md section 4.5):
// kept for devices/operators that predate the Tunnel variant (SPEC_FULL
// open-question resolution 2/3); new code should only ever emit Tunnel.
func Port(stream transport.Stream, header wire.StreamHeader) error {
	switch header.Protocol {
	case wire.ProtoTcp:
		return portTCP(stream, header)
	case wire.ProtoUdp:
		return portUDP(stream, header)
	default:
		fmt.Fprintf(stream, "unsupported port protocol: %q\n", header.Protocol)
		return fmt.Errorf("unsupported port protocol %q", header.Protocol)
	}
}

func portTCP(stream transport.Stream, header wire.StreamHeader) error {
	addr := net.JoinHostPort(header.Host, fmt.Sprintf("%d", header.Port))
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(stream, "TCP connect failed: %v\n", err)
		return err
	}
	defer support.SafeClose(conn)
	support.PipeNetConn(conn, stream)
	return nil
}

func portUDP(stream transport.Stream, header wire.StreamHeader) error {
	addr := net.JoinHostPort(header.Host, fmt.Sprintf("%d", header.Port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		fmt.Fprintf(stream, "UDP resolve failed: %v\n", err)
		return err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		fmt.Fprintf(stream, "UDP connect failed: %v\n", err)
		return err
	}
	defer support.SafeClose(conn)

	done := make(chan struct{}, 2)
	go func() {
		buf := make([]byte, 65535)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		done <- struct{}{}
	}()
	go func() {
		buf := make([]byte, 65535)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := stream.Write(buf[:n]); werr != nil {
					break
				}
			}
			if err != nil {
				break
			}
		}
		done <- struct{}{}
	}()
	<-done
	return nil
}
