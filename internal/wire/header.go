// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxHeaderSize bounds the per-stream JSON header, per spec.md section 4.4.
const MaxHeaderSize = 64 * 1024

// MaxHandshakeTokenSize bounds the initial tunnel-handshake token.
const MaxHandshakeTokenSize = 16 * 1024

// HandshakeAckByte is written by the server once the device's initial
// handshake token has validated.
const HandshakeAckByte = 0x01

// WriteHandshakeToken writes u16_be(len) || token_bytes, per spec.md
// section 4.1 step 1.
func WriteHandshakeToken(w io.Writer, token string) error {
	if len(token) > 1<<16-1 {
		return fmt.Errorf("wire: handshake token too large (%d bytes)", len(token))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(token)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, token)
	return err
}

// ReadHandshakeToken reads u16_be(len) || token_bytes.
func ReadHandshakeToken(r io.Reader) (string, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint16(hdr[:])
	if int(n) > MaxHandshakeTokenSize {
		return "", fmt.Errorf("wire: handshake token exceeds maximum size")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteStreamHeader writes u32_be(json_len) || json_bytes, per spec.md
// section 4.1's per-stream header.
func WriteStreamHeader(w io.Writer, h StreamHeader) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("wire: marshal stream header: %w", err)
	}
	if len(b) > MaxHeaderSize {
		return fmt.Errorf("wire: stream header exceeds maximum size (%d bytes)", len(b))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(b)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadStreamHeader reads u32_be(json_len) || json_bytes and decodes it.
func ReadStreamHeader(r io.Reader) (StreamHeader, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return StreamHeader{}, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxHeaderSize {
		return StreamHeader{}, fmt.Errorf("wire: stream header exceeds maximum size (%d bytes)", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return StreamHeader{}, err
	}
	var h StreamHeader
	if err := json.Unmarshal(buf, &h); err != nil {
		return StreamHeader{}, fmt.Errorf("wire: decode stream header: %w", err)
	}
	return h, nil
}

// WriteChannelID writes u32_be(channel_id), the UDP-tunnel header reply
// (spec.md section 4.1 / section 6).
func WriteChannelID(w io.Writer, channelID uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], channelID)
	_, err := w.Write(b[:])
	return err
}

// ReadChannelID reads u32_be(channel_id).
func ReadChannelID(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}
