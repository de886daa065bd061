// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"fmt"
	"os"

	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// DefaultBaudRate matches spec.md section 4.5 "Serial" (115200 8N1, no flow
// control) and SPEC_FULL's serial-defaults supplement.
const DefaultBaudRate = 115200

// Serial opens /dev/{name} and bidi-copies with stream. It defaults
// BaudRate to DefaultBaudRate when unset but does not apply it: no baud,
// data-bit, parity or flow-control setting is made on the device, which
// keeps whatever line settings it already has.
func Serial(stream transport.Stream, header wire.StreamHeader) error {
	baud := header.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	path := "/dev/" + header.SerialName
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(stream, "serial open failed: %v\n", err)
		return err
	}
	defer support.SafeClose(f)
	support.PipeStreams(f, stream)
	return nil
}
