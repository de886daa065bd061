// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package router is the device-side stream router (spec.md section 4.4):
// for each inbound bidirectional stream on the tunnel, read and validate
// the header, then dispatch to the matching forward handler in its own
// goroutine so the router never blocks on a handler. It also runs the
// datagram demux loop feeding internal/udpchan.
package router

import (
	"context"
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/broadcast"
	"github.com/m87/tunnel/internal/handlers"
	"github.com/m87/tunnel/internal/security"
	"github.com/m87/tunnel/internal/sshserver"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/udpchan"
	"github.com/m87/tunnel/internal/wire"
)

// TokenValidator authenticates the per-stream token embedded in every
// StreamHeader (spec.md section 3: "every variant carries an opaque token
// string authenticated... device-side").
type TokenValidator func(token string, kind wire.Kind) error

// Router dispatches accepted streams and datagrams for one tunnel
// connection.
type Router struct {
	conn      transport.ClientConn
	validate  TokenValidator
	broadcast *broadcast.Table
	sshServer *sshserver.Server
	channels  *udpchan.Table
	log       *zap.Logger

	// cipher, when non-nil, wraps every dispatched forward-handler stream
	// in an additional payload-encryption layer (SPEC_FULL.md section 4's
	// optional --encrypt PSK), keyed by deviceID.
	cipher   *security.StreamCipher
	deviceID string
}

// New constructs a Router bound to one ClientConn and its supporting
// services.
func New(
	conn transport.ClientConn,
	validate TokenValidator,
	bcast *broadcast.Table,
	sshSrv *sshserver.Server,
	channels *udpchan.Table,
	logger *zap.Logger,
) *Router {
	return &Router{
		conn:      conn,
		validate:  validate,
		broadcast: bcast,
		sshServer: sshSrv,
		channels:  channels,
		log:       logger,
	}
}

// WithEncryption enables the optional payload-encryption layer, wrapping
// every forward-handler stream with cipher keyed by deviceID.
func (r *Router) WithEncryption(cipher *security.StreamCipher, deviceID string) *Router {
	r.cipher = cipher
	r.deviceID = deviceID
	return r
}

// Serve runs the accept loop and the datagram demux loop until ctx is done
// or the connection closes (spec.md section 4.8's "spawn (a) an accept-loop
// ... and (b) a datagram demux").
func (r *Router) Serve(ctx context.Context) {
	go r.acceptLoop(ctx)
	r.datagramDemuxLoop(ctx)
}

func (r *Router) acceptLoop(ctx context.Context) {
	for {
		st, err := r.conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go r.handleStream(st)
	}
}

func (r *Router) handleStream(st transport.Stream) {
	defer st.Close()

	header, err := wire.ReadStreamHeader(streamReaderAdapter{st})
	if err != nil {
		r.log.Debug("stream header read failed", zap.Error(err))
		return
	}
	if err := header.Validate(); err != nil {
		r.log.Debug("stream header invalid", zap.Error(err))
		return
	}
	if err := r.validate(header.Token, header.Type); err != nil {
		r.log.Info("stream token rejected", zap.String("type", string(header.Type)), zap.Error(err))
		return
	}

	if r.cipher != nil {
		st = r.cipher.Wrap(st, r.deviceID)
	}
	if err := r.dispatch(st, header); err != nil {
		r.log.Debug("handler returned error", zap.String("type", string(header.Type)), zap.Error(err))
	}
}

func (r *Router) dispatch(st transport.Stream, header wire.StreamHeader) error {
	switch header.Type {
	case wire.KindTerminal:
		return handlers.Terminal(st)
	case wire.KindExec:
		return handlers.Exec(st, header)
	case wire.KindLogs:
		return handlers.LogsOrMetrics(st, r.broadcast, handlers.ProducerLogs)
	case wire.KindMetrics:
		return handlers.LogsOrMetrics(st, r.broadcast, handlers.ProducerMetrics)
	case wire.KindDocker:
		return handlers.Docker(st, header)
	case wire.KindSsh:
		return handlers.Ssh(st, r.sshServer)
	case wire.KindSerial:
		return handlers.Serial(st, header)
	case wire.KindPort:
		return handlers.Port(st, header)
	case wire.KindTunnel:
		return r.dispatchTunnel(st, header)
	default:
		return fmt.Errorf("unknown stream type %q", header.Type)
	}
}

func (r *Router) dispatchTunnel(st transport.Stream, header wire.StreamHeader) error {
	if header.Target == nil {
		return fmt.Errorf("tunnel stream missing target")
	}
	switch header.Target.Kind {
	case wire.TargetTcp:
		return handlers.TunnelTCP(st, header.Target)
	case wire.TargetUdp:
		return handlers.TunnelUDP(r.conn, r.channels, st, header.Target)
	case wire.TargetSocket:
		return handlers.TunnelSocket(st, header.Target)
	case wire.TargetVpn:
		fmt.Fprintf(st, "vpn tunnel target is reserved and unimplemented\n")
		return fmt.Errorf("vpn target unimplemented")
	default:
		return fmt.Errorf("unknown tunnel target kind %q", header.Target.Kind)
	}
}

// datagramDemuxLoop reads datagrams from the tunnel connection and routes
// them by the leading channel id into internal/udpchan, per spec.md section
// 4.4. A datagram whose channel id is unknown is dropped without being
// logged or counted.
func (r *Router) datagramDemuxLoop(ctx context.Context) {
	for {
		b, err := r.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		channelID, payload, ok := wire.DecodeOperatorDatagram(b)
		if !ok {
			continue
		}
		ch, ok := r.channels.Get(channelID)
		if !ok {
			continue // unknown channel id: silently dropped (spec.md testable property 6)
		}
		if !ch.Send(payload) {
			log.Printf("router: channel %d delivery queue full or closed, dropping datagram", channelID)
		}
	}
}

// streamReaderAdapter narrows transport.Stream to io.Reader for
// wire.ReadStreamHeader, which only needs Read.
type streamReaderAdapter struct {
	transport.Stream
}
