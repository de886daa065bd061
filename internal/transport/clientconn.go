// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package transport abstracts the device<->server control tunnel over three
// concrete carriers: native QUIC (primary), WebSocket+smux, and DTLS+smux
// (both fallbacks for networks that interfere with QUIC's UDP/ALPN
// fingerprint). This generalizes the teacher's ws|quic|dtls data-plane
// Strategy (ForTunnels-client/internal/dataplane/strategy.go) from a
// one-shot test client into the device's persistent control transport.
//
// Per spec.md section 9's "Dynamic dispatch" design note, ClientConn is a
// sealed variant (an interface with exactly three constructors in this
// package) rather than an open plugin surface — callers never hold an
// interface implemented outside this package.
package transport

import (
	"context"
	"io"
)

// Stream is a single bidirectional substream of a ClientConn.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
	// CloseWrite half-closes the send side without closing the read side,
	// used by the UDP-tunnel handshake reply (spec.md section 4.1) and by
	// forward handlers that have finished writing but expect more reads.
	// On the smux-based carriers (WebSocket, DTLS) it closes the whole
	// stream, read side included.
	CloseWrite() error
}

// ClientConn is the carrier-agnostic tunnel connection. Every method must
// be safe to call from multiple goroutines. Kind distinguishes the three
// sealed implementations for logging/metrics without a type switch at every
// call site.
type ClientConn interface {
	Kind() Kind

	// OpenStreamSync opens a new bidirectional stream, blocking until one
	// is available or ctx is done.
	OpenStreamSync(ctx context.Context) (Stream, error)

	// AcceptStream blocks until a peer-initiated bidirectional stream
	// arrives or ctx is done / the connection closes.
	AcceptStream(ctx context.Context) (Stream, error)

	// SendDatagram sends one unreliable, unordered datagram. Carriers that
	// cannot support datagrams natively (WebSocket, DTLS) emulate them over
	// a dedicated length-prefixed stream; callers must tolerate the
	// resulting loss of the "unordered" property on those carriers exactly
	// as they would tolerate real loss on QUIC.
	SendDatagram(b []byte) error

	// ReceiveDatagram blocks for the next inbound datagram.
	ReceiveDatagram(ctx context.Context) ([]byte, error)

	// CloseWithError tears down the connection with an application code and
	// human-readable reason (used by the registry's Replace, spec.md
	// section 4.2).
	CloseWithError(code uint64, reason string) error

	// Context is done when the underlying connection is closed, for
	// components that need to select on tunnel teardown (spec.md section 5
	// "global shutdown token" combined with per-connection liveness).
	Context() context.Context
}

// Kind names which concrete carrier backs a ClientConn.
type Kind string

const (
	KindQUIC Kind = "quic"
	KindWS   Kind = "ws+smux"
	KindDTLS Kind = "dtls+smux"
)
