// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// execTrailer is the one-line JSON written after the command exits, per
// SPEC_FULL's exec payload-shape supplement, so a caller reading a plain
// bidi stream can recover an exit status.
type execTrailer struct {
	ExitCode int `json:"exit_code"`
}

// Exec runs header's command/args/cwd/env to completion with stdin/stdout
// and stderr both wired onto stream (combined, not tagged — matching the
// original's single-stream interleaving), then writes a trailing exit-code
// line before returning.
func Exec(stream transport.Stream, header wire.StreamHeader) error {
	cmd := exec.Command(header.Command, header.Args...)
	if header.Cwd != "" {
		cmd.Dir = header.Cwd
	}
	if len(header.Env) > 0 {
		cmd.Env = envSlice(header.Env)
	}
	cmd.Stdin = stream
	cmd.Stdout = stream
	cmd.Stderr = stream

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	trailer, err := json.Marshal(execTrailer{ExitCode: exitCode})
	if err != nil {
		return err
	}
	trailer = append(trailer, '\n')
	if _, err := stream.Write(trailer); err != nil {
		return fmt.Errorf("write exec trailer: %w", err)
	}
	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
