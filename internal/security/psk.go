// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package security is the device's optional per-stream payload encryption
// layer (SPEC_FULL.md section 4's domain stack): when an operator enables
// --encrypt, every forward-handler stream is wrapped in an XChaCha20-Poly1305
// AEAD derived from a pre-shared secret and the device's tunnel id, layered
// under (not instead of) the QUIC/TLS transport's own encryption. Grounded
// on the teacher's internal/security/psk.go ClientPSK/ClientAEAD
// (ForTunnels-client), generalized from wrapping one fixed stream kind to
// wrapping any transport.Stream a forward handler bridges.
package security

import (
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/transport"
)

// StreamCipher derives a per-tunnel AEAD key from a shared secret.
type StreamCipher struct{ secret []byte }

// NewStreamCipher constructs a StreamCipher bound to secret.
func NewStreamCipher(secret []byte) *StreamCipher {
	return &StreamCipher{secret: secret}
}

// Wrap returns a transport.Stream that encrypts writes and decrypts reads
// using a key derived as sha256(secret||tunnelID), so every device uses a
// distinct key from the same shared secret.
func (c *StreamCipher) Wrap(stream transport.Stream, tunnelID string) transport.Stream {
	h := sha256.New()
	h.Write(c.secret)
	h.Write([]byte(tunnelID))
	key := h.Sum(nil)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return stream
	}
	return &aeadStream{base: stream, aead: aead}
}

type aeadStream struct {
	base   transport.Stream
	aead   cipher.AEAD
	encCtr uint64
}

// Read decodes one frame: [len(4)|nonce(24)|ciphertext].
func (s *aeadStream) Read(p []byte) (int, error) {
	hdr := make([]byte, 4+24)
	if _, err := io.ReadFull(s.base, hdr); err != nil {
		return 0, err
	}
	l := binary.BigEndian.Uint32(hdr[:4])
	nonce := hdr[4:]
	ct := make([]byte, int(l))
	if _, err := io.ReadFull(s.base, ct); err != nil {
		return 0, err
	}
	pt, err := s.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return 0, err
	}
	n := copy(p, pt)
	if n < len(pt) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}

// Write encrypts p and writes one frame to the base stream, using a
// monotonic counter for the nonce's low 8 bytes.
func (s *aeadStream) Write(p []byte) (int, error) {
	nonce := make([]byte, 24)
	binary.BigEndian.PutUint64(nonce[16:], s.encCtr)
	s.encCtr++
	ct := s.aead.Seal(nil, nonce, p, nil)

	l, err := support.ToUint32Size(len(ct))
	if err != nil {
		return 0, err
	}
	hdr := make([]byte, 4+24)
	binary.BigEndian.PutUint32(hdr[:4], l)
	copy(hdr[4:], nonce)
	if _, err := s.base.Write(hdr); err != nil {
		return 0, err
	}
	if _, err := s.base.Write(ct); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *aeadStream) Close() error      { return s.base.Close() }
func (s *aeadStream) CloseWrite() error { return s.base.CloseWrite() }
