// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/creack/pty"

	"github.com/m87/tunnel/internal/transport"
)

// resizeState walks the small state machine that recognizes a 0xFF resize
// control frame (0xFF || u16_be(rows) || u16_be(cols)) embedded anywhere in
// the terminal input stream, per SPEC_FULL's terminal resize framing
// supplement: the control byte can land mid-buffer, not only at a Read
// boundary, so a byte-at-a-time scan is required rather than trusting one
// Read call to deliver a whole frame.
type resizeState int

const (
	stateNormal resizeState = iota
	stateRowsHi
	stateRowsLo
	stateColsHi
	stateColsLo
)

// Terminal allocates a PTY, spawns the user's login shell, and bridges it
// with stream, consuming resize control frames rather than forwarding them.
// Grounded on spec.md section 4.5 "Terminal" and the teacher's PTY-adjacent
// bridge helpers (internal/dataplane/bridge.go's buffered-copy pattern).
func Terminal(stream transport.Stream) error {
	cmd := exec.Command(loginShell())
	f, err := pty.Start(cmd)
	if err != nil {
		fmt.Fprintf(stream, "PTY allocation failed: %v\n", err)
		return err
	}
	defer func() {
		_ = cmd.Process.Kill()
		_ = f.Close()
	}()

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(stream, f)
		done <- struct{}{}
	}()
	go func() {
		filterResizeFrames(f, stream)
		done <- struct{}{}
	}()
	<-done
	return nil
}

// filterResizeFrames reads from src, applying any embedded resize frame to
// f via pty.Setsize and forwarding every other byte verbatim, until src
// reaches EOF or f's write fails.
func filterResizeFrames(f *os.File, src io.Reader) {
	state := stateNormal
	var rows, cols uint16
	buf := make([]byte, 4096)
	out := make([]byte, 0, 4096)
	for {
		n, err := src.Read(buf)
		out = out[:0]
		for i := 0; i < n; i++ {
			b := buf[i]
			switch state {
			case stateNormal:
				if b == 0xFF {
					state = stateRowsHi
				} else {
					out = append(out, b)
				}
			case stateRowsHi:
				rows = uint16(b) << 8
				state = stateRowsLo
			case stateRowsLo:
				rows |= uint16(b)
				state = stateColsHi
			case stateColsHi:
				cols = uint16(b) << 8
				state = stateColsLo
			case stateColsLo:
				cols |= uint16(b)
				_ = pty.Setsize(f, &pty.Winsize{Rows: rows, Cols: cols})
				state = stateNormal
			}
		}
		if len(out) > 0 {
			if _, werr := f.Write(out); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func loginShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		if _, err := exec.LookPath(sh); err == nil {
			return sh
		}
	}
	for _, candidate := range []string{"/bin/bash", "/bin/zsh", "/usr/bin/fish", "/bin/sh"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "/bin/sh"
}
