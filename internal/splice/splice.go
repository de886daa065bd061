// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package splice is the server-side SNI splice layer (spec.md section 4.6):
// it accepts operator QUIC connections, authenticates the operator token,
// resolves the target device by the leading label of the TLS SNI hostname,
// and for every operator stream opens a paired stream into the device's
// tunnel, copying bytes bidirectionally. A second task mirrors raw
// datagrams between the two connections with no parsing.
package splice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/ids"
	"github.com/m87/tunnel/internal/registry"
	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/tokens"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// RequestBudget bounds the operator handshake, per spec.md section 8
// ("server splice per-request budget: 30s").
const RequestBudget = 30 * time.Second

// EditorScope is the collaborator role required to open a spliced stream
// (spec.md section 4.6 step 5, "find_one_with_scope_and_role(device,
// Editor)").
const EditorScope = "Editor"

// AuditLogger records best-effort, non-blocking splice decisions (spec.md
// section 4.6 step 6). A nil AuditLogger is a valid no-op.
type AuditLogger func(deviceShortID, operatorID, outcome string)

// Server runs the operator-facing QUIC splice listener.
type Server struct {
	registry *registry.Registry
	verifier *tokens.OperatorVerifier
	audit    AuditLogger
	log      *zap.Logger

	activeTunnels  prometheus.GaugeFunc
	splicedStreams prometheus.Counter
	deniedStreams  prometheus.Counter
}

// NewServer constructs the splice server. reg and verifier must outlive it.
func NewServer(reg *registry.Registry, verifier *tokens.OperatorVerifier, audit AuditLogger, logger *zap.Logger, reg2 prometheus.Registerer) *Server {
	if audit == nil {
		audit = func(string, string, string) {}
	}
	s := &Server{registry: reg, verifier: verifier, audit: audit, log: logger}

	s.activeTunnels = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "m87_active_tunnels",
		Help: "Number of devices currently registered with a live tunnel connection.",
	}, func() float64 { return float64(reg.Len()) })
	s.splicedStreams = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "m87_spliced_streams_total",
		Help: "Total operator streams successfully spliced into a device tunnel.",
	})
	s.deniedStreams = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "m87_denied_streams_total",
		Help: "Total operator streams rejected by authentication or routing.",
	})
	if reg2 != nil {
		reg2.MustRegister(s.activeTunnels, s.splicedStreams, s.deniedStreams)
	}
	return s
}

// Serve accepts operator QUIC connections on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string, tlsConf *tls.Config) error {
	ln, err := transport.ListenQUIC(addr, tlsConf)
	if err != nil {
		return fmt.Errorf("splice: listen: %w", err)
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
			return fmt.Errorf("splice: accept: %w", err)
		}
		go s.handleOperatorConn(ctx, conn)
	}
}

func (s *Server) handleOperatorConn(ctx context.Context, conn *quic.Conn) {
	opConn := transport.AcceptQUICConn(conn)
	defer opConn.CloseWithError(0, "splice session ended")

	shortID := ids.LeadingLabel(conn.ConnectionState().TLS.ServerName)

	handshakeCtx, cancel := context.WithTimeout(ctx, RequestBudget)
	st, err := opConn.AcceptStream(handshakeCtx)
	cancel()
	if err != nil {
		s.log.Debug("splice: operator handshake stream failed", zap.Error(err))
		return
	}

	token, err := wire.ReadHandshakeToken(st)
	if err != nil {
		s.log.Debug("splice: malformed operator handshake", zap.Error(err))
		return
	}

	claims, err := s.verifier.Verify(token, shortID, "*")
	if err != nil {
		s.recordDenied(shortID, "", "bad-token")
		fmt.Fprint(st, "operator token rejected")
		st.Close()
		return
	}
	if err := tokens.RequireRole(claims, EditorScope); err != nil {
		s.recordDenied(shortID, claims.Subject, "role denied")
		fmt.Fprint(st, "operator role rejected")
		st.Close()
		return
	}

	deviceConn, ok := s.registry.Get(shortID)
	if !ok {
		s.recordDenied(shortID, claims.Subject, "device tunnel not connected")
		fmt.Fprint(st, "device tunnel not connected")
		st.Close()
		return
	}

	if _, err := st.Write([]byte{wire.HandshakeAckByte}); err != nil {
		return
	}
	st.Close()

	s.audit(shortID, claims.Subject, "connected")

	streamCtx, cancelStreams := context.WithCancel(ctx)
	defer cancelStreams()
	go s.spliceDatagrams(streamCtx, opConn, deviceConn)
	s.spliceStreams(streamCtx, opConn, deviceConn, shortID, claims.Subject)
}

func (s *Server) spliceStreams(ctx context.Context, opConn, deviceConn transport.ClientConn, shortID, operatorID string) {
	for {
		opStream, err := opConn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go s.spliceOneStream(ctx, opStream, deviceConn, shortID, operatorID)
	}
}

func (s *Server) spliceOneStream(ctx context.Context, opStream transport.Stream, deviceConn transport.ClientConn, shortID, operatorID string) {
	devStream, err := deviceConn.OpenStreamSync(ctx)
	if err != nil {
		s.recordDenied(shortID, operatorID, "device stream open failed")
		opStream.Close()
		return
	}
	s.splicedStreams.Inc()
	support.PipeStreams(opStream, devStream)
}

// spliceDatagrams mirrors raw datagrams between the operator and device
// connections with no parsing, per spec.md section 4.6.
func (s *Server) spliceDatagrams(ctx context.Context, opConn, deviceConn transport.ClientConn) {
	go func() {
		for {
			b, err := opConn.ReceiveDatagram(ctx)
			if err != nil {
				return
			}
			if err := deviceConn.SendDatagram(b); err != nil && !isExpectedClose(err) {
				s.log.Debug("splice: forward to device failed", zap.Error(err))
				return
			}
		}
	}()
	for {
		b, err := deviceConn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if err := opConn.SendDatagram(b); err != nil && !isExpectedClose(err) {
			s.log.Debug("splice: forward to operator failed", zap.Error(err))
			return
		}
	}
}

func (s *Server) recordDenied(shortID, operatorID, reason string) {
	s.deniedStreams.Inc()
	s.audit(shortID, operatorID, reason)
}

// isExpectedClose matches spec.md section 4.6's "treated as expected close"
// error list so routine peer hangups don't get logged as failures.
func isExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	return support.IsBenignCopyError(err)
}
