// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package splice

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/ids"
	"github.com/m87/tunnel/internal/registry"
	"github.com/m87/tunnel/internal/tokens"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// DeviceHub accepts device QUIC connections and registers them in the
// tunnel registry, implementing the server half of the handshake in
// spec.md section 4.1 ("device writes u16_be(len)||token... server writes
// one byte 0x01 ACK").
type DeviceHub struct {
	registry *registry.Registry
	tokenKey []byte
	log      *zap.Logger
}

// NewDeviceHub constructs a DeviceHub bound to reg, validating tunnel
// tokens against tokenKey (internal/tokens.VerifyTunnelToken).
func NewDeviceHub(reg *registry.Registry, tokenKey []byte, logger *zap.Logger) *DeviceHub {
	return &DeviceHub{registry: reg, tokenKey: tokenKey, log: logger}
}

// Serve accepts device connections on addr until ctx is done.
func (h *DeviceHub) Serve(ctx context.Context, addr string, tlsConf *tls.Config) error {
	ln, err := transport.ListenQUIC(addr, tlsConf)
	if err != nil {
		return fmt.Errorf("devicehub: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("devicehub: accept: %w", err)
		}
		go h.handleDevice(ctx, conn)
	}
}

func (h *DeviceHub) handleDevice(ctx context.Context, conn *quic.Conn) {
	h.registerDevice(ctx, transport.AcceptQUICConn(conn))
}

// registerDevice runs the handshake and registry lifecycle for one device
// connection; split out from handleDevice so it can be exercised against a
// fake transport.ClientConn in tests.
func (h *DeviceHub) registerDevice(ctx context.Context, devConn transport.ClientConn) {
	handshakeCtx, cancel := context.WithTimeout(ctx, RequestBudget)
	st, err := devConn.AcceptStream(handshakeCtx)
	cancel()
	if err != nil {
		h.log.Debug("devicehub: handshake stream failed", zap.Error(err))
		devConn.CloseWithError(0, "handshake timeout")
		return
	}

	token, err := wire.ReadHandshakeToken(st)
	if err != nil {
		h.log.Debug("devicehub: malformed handshake token", zap.Error(err))
		devConn.CloseWithError(0, "malformed handshake")
		return
	}

	deviceID, err := tokens.VerifyTunnelToken(h.tokenKey, token, time.Now())
	if err != nil {
		h.log.Info("devicehub: handshake token rejected", zap.Error(err))
		devConn.CloseWithError(0, "token rejected")
		return
	}

	if _, err := st.Write([]byte{wire.HandshakeAckByte}); err != nil {
		devConn.CloseWithError(0, "ack write failed")
		return
	}
	st.Close()

	shortID := ids.ShortID(deviceID)
	stableID := h.registry.Replace(shortID, devConn)
	h.log.Info("device tunnel registered", zap.String("short_id", shortID), zap.String("stable_id", stableID.String()))

	<-devConn.Context().Done()
	h.registry.RemoveIfMatch(shortID, stableID)
	h.log.Info("device tunnel disconnected", zap.String("short_id", shortID))
}
