// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package handlers

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/m87/tunnel/internal/support"
	"github.com/m87/tunnel/internal/transport"
	"github.com/m87/tunnel/internal/wire"
)

// DockerSocketPath is the default Docker Engine API socket, per spec.md
// section 4.5 "Docker".
const DockerSocketPath = "/var/run/docker.sock"

// Docker implements spec.md section 4.5 "Docker": a raw bidi-copy to the
// Docker Engine API socket for the default case, or — per SPEC_FULL's
// container_logs supplement — an in-process HTTP request over that same
// socket whose response body is streamed back, so operators requesting
// logs don't need to speak Docker's HTTP/chunked framing themselves.
func Docker(stream transport.Stream, header wire.StreamHeader) error {
	if header.ContainerLogs {
		return dockerContainerLogs(stream)
	}
	conn, err := net.Dial("unix", DockerSocketPath)
	if err != nil {
		fmt.Fprintf(stream, "docker socket connect failed: %v\n", err)
		return err
	}
	defer support.SafeClose(conn)
	support.PipeNetConn(conn, stream)
	return nil
}

// dockerContainerLogs expects one "\n"-terminated line on stream naming the
// target container id, then performs a GET against the Engine API's
// container logs endpoint and streams the (already chunk-decoded) body
// back, per SPEC_FULL's "container_logs" supplement.
func dockerContainerLogs(stream transport.Stream) error {
	rd := bufio.NewReader(stream)
	containerID, err := rd.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read container id: %w", err)
	}
	containerID = trimNewline(containerID)

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", DockerSocketPath)
			},
		},
	}
	url := fmt.Sprintf("http://unix/containers/%s/logs?stdout=1&stderr=1&follow=1", containerID)
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(stream, "docker logs request failed: %v\n", err)
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(stream, resp.Body)
	return err
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
