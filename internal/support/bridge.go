// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package support

import (
	"io"
	"log"
	"net"
)

// ClosedReason names why a forwarded stream or bridge ended, so handlers can
// log a consistent word instead of re-deriving it from an error string at
// every call site (spec.md section 9, "explicit reasons over error-string
// sniffing").
type ClosedReason string

const (
	ClosedPeerEOF    ClosedReason = "peer-eof"
	ClosedLocalError ClosedReason = "local-error"
	ClosedShutdown   ClosedReason = "shutdown"
	ClosedReplaced   ClosedReason = "replaced-by-new-connection"
	ClosedIdleEvict  ClosedReason = "idle-evicted"
)

// SafeClose closes c and logs any error, for cleanup paths where failing the
// close must not fail the caller's main operation.
func SafeClose(c io.Closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil && !IsBenignCopyError(err) {
		log.Printf("error closing resource: %v", err)
	}
}

// PipeStreams bridges two duplex connections, copying with independent
// buffers in each direction, and returns only after both directions have
// ended. A direction ends at EOF or an error on its source; ending one
// direction does not close or half-close either connection, so the other
// direction keeps copying until its own source ends. Grounded on the
// teacher's internal/dataplane/bridge.go PipeStreams (ForTunnels-client),
// generalized from net.Conn<->io.ReadWriteCloser to two io.ReadWriteClosers
// so it serves every forward handler (Docker/Serial/Socket/Port/TCP
// tunnels), not just the TCP echo test it originally bridged.
func PipeStreams(a, b io.ReadWriteCloser) {
	bufA := make([]byte, 64*1024)
	bufB := make([]byte, 64*1024)
	done := make(chan struct{}, 2)
	startBufferedCopy(a, b, bufB, "b->a", done)
	startBufferedCopy(b, a, bufA, "a->b", done)
	<-done
	<-done
}

func startBufferedCopy(dst io.Writer, src io.Reader, buf []byte, label string, done chan<- struct{}) {
	go func() {
		_, err := io.CopyBuffer(dst, src, buf)
		if err != nil && !IsBenignCopyError(err) {
			log.Printf("bridge: copy %s error: %v", label, err)
		}
		done <- struct{}{}
	}()
}

// PipeNetConn is the net.Conn-facing convenience used by forward handlers
// that bridge a raw TCP/unix-socket dial against a tunnel stream.
func PipeNetConn(a net.Conn, b io.ReadWriteCloser) {
	PipeStreams(a, b)
}
