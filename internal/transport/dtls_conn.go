// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	dtls "github.com/pion/dtls/v3"
	"github.com/xtaci/smux"
)

// DTLSHandshakeTimeout bounds the DTLS handshake, mirroring the teacher's
// use of a bounded dial rather than letting it block forever
// (ForTunnels-client/internal/dataplane/dtls.go used a plain blocking Dial;
// this tightens it with ConnectContextMaker, which v3 added over the
// teacher's v2-era API).
const DTLSHandshakeTimeout = 10 * time.Second

func dtlsConfig(serverName string, insecureSkipVerify bool) *dtls.Config {
	return &dtls.Config{
		InsecureSkipVerify:   insecureSkipVerify,
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
		ServerName:           serverName,
		ConnectContextMaker: func() (context.Context, func()) {
			return context.WithTimeout(context.Background(), DTLSHandshakeTimeout)
		},
	}
}

// DialDTLS dials the DTLS+smux fallback control tunnel, used on networks
// that block QUIC's UDP/ALPN fingerprint but still pass plain UDP (spec.md
// section 4.8, "alternate transports"). Adapted from the teacher's
// StartDTLSDataPlaneUDP, which dialed pion/dtls/v2 for a one-shot UDP echo;
// this targets the v3 API (ConnectContextMaker replaces the implicit
// blocking dial) and layers a real smux session rather than a raw preface.
func DialDTLS(ctx context.Context, addr, serverName string, insecureSkipVerify bool) (ClientConn, error) {
	uaddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve dtls addr: %w", err)
	}

	conn, err := dtls.Dial("udp", uaddr, dtlsConfig(serverName, insecureSkipVerify))
	if err != nil {
		return nil, fmt.Errorf("dtls dial: %w", err)
	}

	sess, err := smux.Client(conn, smuxSessionConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smux client over dtls: %w", err)
	}

	c, err := newSmuxClientConn(KindDTLS, conn, sess, true)
	if err != nil {
		sess.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}

// ListenDTLS starts the server-side DTLS listener. cert is the server's
// TLS certificate reused for the DTLS handshake (the same PKI as the QUIC
// listener, per spec.md section 4.8's single-certificate assumption).
func ListenDTLS(addr string, cert tls.Certificate) (net.Listener, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve dtls listen addr: %w", err)
	}
	cfg := &dtls.Config{
		Certificates:         []tls.Certificate{cert},
		ExtendedMasterSecret: dtls.RequireExtendedMasterSecret,
	}
	return dtls.Listen("udp", laddr, cfg)
}

// AcceptDTLS completes the smux server handshake over an accepted DTLS
// association, pairing with DialDTLS's client session.
func AcceptDTLS(conn net.Conn) (ClientConn, error) {
	sess, err := smux.Server(conn, smuxSessionConfig())
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smux server over dtls: %w", err)
	}
	c, err := newSmuxClientConn(KindDTLS, conn, sess, false)
	if err != nil {
		sess.Close()
		conn.Close()
		return nil, err
	}
	return c, nil
}
