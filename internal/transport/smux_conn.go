// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/xtaci/smux"
)

// maxDatagramFrame bounds a single emulated datagram, matching the UDP
// multiplexer's real-world payload ceiling (spec.md section 4.3).
const maxDatagramFrame = 65535

// smuxClientConn is the shared ClientConn implementation for the two
// fallback carriers (WebSocket and DTLS), both of which tunnel an
// xtaci/smux multiplexed session over a plain io.ReadWriteCloser. Neither
// carrier has a native unreliable-datagram primitive, so one smux stream is
// reserved at session setup purely to emulate SendDatagram/ReceiveDatagram
// with u16-length-prefixed frames; every other stream is a real bidi
// substream returned by OpenStreamSync/AcceptStream.
//
// Grounded on the teacher's internal/dataplane/session.go Manager/Client
// (ForTunnels-client), which multiplexes a WebSocket this same way but only
// ever used smux streams for one-shot TCP echoes; this generalizes that
// wiring into the persistent, bidirectional control carrier and adds the
// datagram stream the teacher's client never needed.
type smuxClientConn struct {
	kind    Kind
	carrier io.Closer // websocket.Conn or dtls.Conn, closed after sess
	sess    *smux.Session

	dgramOnce sync.Once
	dgramErr  error
	dgramOut  *smux.Stream
	dgramIn   chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

func newSmuxClientConn(kind Kind, carrier io.Closer, sess *smux.Session, isDialer bool) (*smuxClientConn, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &smuxClientConn{
		kind:    kind,
		carrier: carrier,
		sess:    sess,
		dgramIn: make(chan []byte, 64),
		ctx:     ctx,
		cancel:  cancel,
	}

	// Both sides agree that the first smux stream of the session is the
	// datagram-emulation channel: the dialer opens it, the listener accepts
	// it. Every subsequent stream is a real caller-visible substream.
	if isDialer {
		st, err := sess.OpenStream()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("open datagram stream: %w", err)
		}
		c.dgramOut = st
	} else {
		st, err := sess.AcceptStream()
		if err != nil {
			cancel()
			return nil, fmt.Errorf("accept datagram stream: %w", err)
		}
		c.dgramOut = st
	}
	go c.readDatagramLoop()

	go func() {
		select {
		case <-sess.CloseChan():
			cancel()
		case <-ctx.Done():
		}
	}()
	return c, nil
}

func (c *smuxClientConn) readDatagramLoop() {
	defer close(c.dgramIn)
	lenBuf := make([]byte, 2)
	for {
		if _, err := io.ReadFull(c.dgramOut, lenBuf); err != nil {
			return
		}
		n := binary.BigEndian.Uint16(lenBuf)
		payload := make([]byte, n)
		if _, err := io.ReadFull(c.dgramOut, payload); err != nil {
			return
		}
		select {
		case c.dgramIn <- payload:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *smuxClientConn) Kind() Kind { return c.kind }

type smuxStream struct {
	*smux.Stream
}

// CloseWrite closes the whole smux stream: smux has no half-close, so the
// read side is closed too.
func (s smuxStream) CloseWrite() error {
	return s.Stream.Close()
}

func (c *smuxClientConn) OpenStreamSync(ctx context.Context) (Stream, error) {
	type result struct {
		st  *smux.Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := c.sess.OpenStream()
		ch <- result{st, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return smuxStream{r.st}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *smuxClientConn) AcceptStream(ctx context.Context) (Stream, error) {
	type result struct {
		st  *smux.Stream
		err error
	}
	ch := make(chan result, 1)
	go func() {
		st, err := c.sess.AcceptStream()
		ch <- result{st, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return nil, r.err
		}
		return smuxStream{r.st}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *smuxClientConn) SendDatagram(b []byte) error {
	if len(b) > maxDatagramFrame {
		return fmt.Errorf("datagram too large: %d bytes", len(b))
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := c.dgramOut.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := c.dgramOut.Write(b)
	return err
}

func (c *smuxClientConn) ReceiveDatagram(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-c.dgramIn:
		if !ok {
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CloseWithError closes the session and underlying carrier. Neither
// WebSocket nor DTLS carries an application error code on close the way
// QUIC does, so code/reason are left to the caller's own logging.
func (c *smuxClientConn) CloseWithError(code uint64, reason string) error {
	c.cancel()
	sessErr := c.sess.Close()
	carrierErr := c.carrier.Close()
	if sessErr != nil {
		return sessErr
	}
	return carrierErr
}

func (c *smuxClientConn) Context() context.Context {
	return c.ctx
}
