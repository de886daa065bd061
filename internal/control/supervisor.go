// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package control is the device-side persistent tunnel supervisor (spec.md
// section 4.8): resolve the server, dial the tunnel connection, perform the
// handshake, and hand the live connection to internal/router — reconnecting
// forever on any fatal error. Generalized from the teacher's one-shot
// ConnectWebSocket keepalive/reconnect loop (internal/control/watch.go) into
// a carrier-agnostic, indefinitely-retrying supervisor.
package control

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/broadcast"
	"github.com/m87/tunnel/internal/router"
	"github.com/m87/tunnel/internal/security"
	"github.com/m87/tunnel/internal/sshserver"
	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/tokens"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/udpchan"
	"github.com/m87/tunnel/internal/wire"
)

// ReconnectDelay is the pause between tunnel attempts after a fatal error,
// per spec.md section 4.8 ("reconnect with 10s sleep on fatal error").
const ReconnectDelay = 10 * time.Second

// ResolveRetries and resolveBackoff bound the hostname resolution retry
// described in spec.md section 4.8 ("resolve server hostname, retrying up
// to 10 times with 200-1550ms backoff").
const ResolveRetries = 10

var resolveBackoff = func(attempt int) time.Duration {
	d := 200*time.Millisecond + time.Duration(attempt)*150*time.Millisecond
	if d > 1550*time.Millisecond {
		d = 1550 * time.Millisecond
	}
	return d
}

// Carrier selects which transport.ClientConn constructor the supervisor
// dials with.
type Carrier string

const (
	CarrierQUIC Carrier = "quic"
	CarrierWS   Carrier = "ws"
	CarrierDTLS Carrier = "dtls"
)

// Settings configures one supervisor run.
type Settings struct {
	ServerAddr string
	Carrier    Carrier
	DeviceID   string
	TokenKey   []byte
	ServerName string
	InsecureTLS bool

	// ReconnectDelay overrides the default pause between tunnel attempts
	// (ReconnectDelay const) when non-zero, so the agent's --reconnect-delay
	// flag can tune it.
	ReconnectDelay time.Duration

	// EncryptSecret, when non-empty, enables the optional per-stream PSK
	// payload-encryption layer (internal/security) on every forwarded
	// stream.
	EncryptSecret string

	Broadcast *broadcast.Table
	SSH       *sshserver.Server
	Logger    *zap.Logger
}

// Run dials, handshakes, and serves the tunnel connection forever, only
// returning when ctx is cancelled.
func Run(ctx context.Context, s Settings) {
	delay := s.ReconnectDelay
	if delay <= 0 {
		delay = ReconnectDelay
	}
	for {
		if ctx.Err() != nil {
			return
		}
		if err := runOnce(ctx, s); err != nil {
			logReconnect(s.Logger, err)
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

// logReconnect classifies a failed tunnel attempt per spec.md section 7's
// Transport error kind ("DNS, TCP/QUIC dial, TLS handshake, keep-alive
// timeout... retried at the tunnel loop with backoff") so operators can
// tell a refused dial from a stalled one at a glance in the reconnect log,
// without escalating either past this loop.
func logReconnect(logger *zap.Logger, err error) {
	switch {
	case support.IsConnRefused(err):
		logger.Warn("tunnel dial refused by server, retrying", zap.Error(err))
	case support.IsDialTimeout(err):
		logger.Warn("tunnel dial timed out, retrying", zap.Error(err))
	default:
		logger.Warn("tunnel connection ended", zap.Error(err))
	}
}

func runOnce(ctx context.Context, s Settings) error {
	if err := waitForResolve(ctx, s.ServerAddr); err != nil {
		return fmt.Errorf("resolve %s: %w", s.ServerAddr, err)
	}

	conn, err := dial(ctx, s)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.CloseWithError(0, "supervisor exiting")

	if err := handshake(ctx, conn, s); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	channels := udpchan.New(nil)
	r := router.New(conn, s.validator(), s.Broadcast, s.SSH, channels, s.Logger)
	if s.EncryptSecret != "" {
		r = r.WithEncryption(security.NewStreamCipher([]byte(s.EncryptSecret)), s.DeviceID)
	}

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-conn.Context().Done()
		cancel()
	}()
	r.Serve(connCtx)
	return conn.Context().Err()
}

// validator wraps the device's tunnel-token secret into the
// router.TokenValidator the router needs for per-stream auth.
func (s Settings) validator() router.TokenValidator {
	return func(token string, kind wire.Kind) error {
		_, err := tokens.VerifyTunnelToken(s.TokenKey, token, time.Now())
		return err
	}
}

func waitForResolve(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	var lastErr error
	for attempt := 0; attempt < ResolveRetries; attempt++ {
		if _, err := net.DefaultResolver.LookupHost(ctx, host); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-time.After(resolveBackoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func dial(ctx context.Context, s Settings) (transport.ClientConn, error) {
	switch s.Carrier {
	case CarrierQUIC, "":
		return transport.DialQUIC(ctx, s.ServerAddr, s.ServerName, s.InsecureTLS)
	case CarrierWS:
		return transport.DialWS(ctx, s.ServerAddr, nil)
	case CarrierDTLS:
		return transport.DialDTLS(ctx, s.ServerAddr, s.ServerName, s.InsecureTLS)
	default:
		return nil, fmt.Errorf("unknown carrier %q", s.Carrier)
	}
}

// handshake performs the tunnel handshake of spec.md section 4.1: open the
// first stream, write the device token, and wait for the server's ack byte.
func handshake(ctx context.Context, conn transport.ClientConn, s Settings) error {
	st, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	token := tokens.MintTunnelToken(s.TokenKey, s.DeviceID, time.Now())
	if err := wire.WriteHandshakeToken(st, token); err != nil {
		return err
	}

	ack := make([]byte, 1)
	if _, err := st.Read(ack); err != nil {
		return err
	}
	if ack[0] != wire.HandshakeAckByte {
		return fmt.Errorf("unexpected handshake ack byte 0x%x", ack[0])
	}
	log.Printf("tunnel handshake complete for device %s via %s", s.DeviceID, conn.Kind())
	return nil
}
