// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package wire implements the length-prefixed framing used on every
// substream and datagram of a device tunnel: the tagged stream-type
// header, the UDP channel-id/source-address datagram encoding, and the
// small helpers both ends use to read/write them.
package wire

import (
	"encoding/json"
	"fmt"
)

// Kind tags the variant carried by a stream header.
type Kind string

const (
	KindTerminal Kind = "Terminal"
	KindExec     Kind = "Exec"
	KindLogs     Kind = "Logs"
	KindMetrics  Kind = "Metrics"
	KindDocker   Kind = "Docker"
	KindSsh      Kind = "Ssh"
	KindSerial   Kind = "Serial"
	KindPort     Kind = "Port"
	KindTunnel   Kind = "Tunnel"
)

// TunnelTargetKind tags the nested target of a Tunnel stream.
type TunnelTargetKind string

const (
	TargetTcp    TunnelTargetKind = "Tcp"
	TargetUdp    TunnelTargetKind = "Udp"
	TargetSocket TunnelTargetKind = "Socket"
	TargetVpn    TunnelTargetKind = "Vpn"
)

// PortProtocol is the legacy Port variant's protocol selector.
type PortProtocol string

const (
	ProtoTcp PortProtocol = "Tcp"
	ProtoUdp PortProtocol = "Udp"
)

// TunnelTarget is the nested payload of a Tunnel{...} header.
type TunnelTarget struct {
	Kind TunnelTargetKind `json:"kind"`

	// Tcp / Udp
	RemoteHost string `json:"remote_host,omitempty"`
	RemotePort int    `json:"remote_port,omitempty"`
	LocalPort  int    `json:"local_port,omitempty"`

	// Socket
	LocalPath  string `json:"local_path,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`

	// Vpn (reserved, unimplemented)
	Cidr string `json:"cidr,omitempty"`
	Mtu  int    `json:"mtu,omitempty"`
}

// tunnelTargetWire is the on-the-wire shape: a single-key object whose key
// names the variant, matching the original Rust enum's serde tagging.
type tunnelTargetWire struct {
	Tcp *struct {
		RemoteHost string `json:"remote_host"`
		RemotePort int    `json:"remote_port"`
		LocalPort  int    `json:"local_port"`
	} `json:"Tcp,omitempty"`
	Udp *struct {
		RemoteHost string `json:"remote_host"`
		RemotePort int    `json:"remote_port"`
		LocalPort  int    `json:"local_port"`
	} `json:"Udp,omitempty"`
	Socket *struct {
		LocalPath  string `json:"local_path"`
		RemotePath string `json:"remote_path"`
	} `json:"Socket,omitempty"`
	Vpn *struct {
		Cidr string `json:"cidr,omitempty"`
		Mtu  int    `json:"mtu,omitempty"`
	} `json:"Vpn,omitempty"`
}

func (t TunnelTarget) MarshalJSON() ([]byte, error) {
	var w tunnelTargetWire
	switch t.Kind {
	case TargetTcp:
		w.Tcp = &struct {
			RemoteHost string `json:"remote_host"`
			RemotePort int    `json:"remote_port"`
			LocalPort  int    `json:"local_port"`
		}{t.RemoteHost, t.RemotePort, t.LocalPort}
	case TargetUdp:
		w.Udp = &struct {
			RemoteHost string `json:"remote_host"`
			RemotePort int    `json:"remote_port"`
			LocalPort  int    `json:"local_port"`
		}{t.RemoteHost, t.RemotePort, t.LocalPort}
	case TargetSocket:
		w.Socket = &struct {
			LocalPath  string `json:"local_path"`
			RemotePath string `json:"remote_path"`
		}{t.LocalPath, t.RemotePath}
	case TargetVpn:
		w.Vpn = &struct {
			Cidr string `json:"cidr,omitempty"`
			Mtu  int    `json:"mtu,omitempty"`
		}{t.Cidr, t.Mtu}
	default:
		return nil, fmt.Errorf("wire: unknown tunnel target kind %q", t.Kind)
	}
	return json.Marshal(w)
}

func (t *TunnelTarget) UnmarshalJSON(b []byte) error {
	var w tunnelTargetWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.Tcp != nil:
		*t = TunnelTarget{Kind: TargetTcp, RemoteHost: w.Tcp.RemoteHost, RemotePort: w.Tcp.RemotePort, LocalPort: w.Tcp.LocalPort}
	case w.Udp != nil:
		*t = TunnelTarget{Kind: TargetUdp, RemoteHost: w.Udp.RemoteHost, RemotePort: w.Udp.RemotePort, LocalPort: w.Udp.LocalPort}
	case w.Socket != nil:
		*t = TunnelTarget{Kind: TargetSocket, LocalPath: w.Socket.LocalPath, RemotePath: w.Socket.RemotePath}
	case w.Vpn != nil:
		*t = TunnelTarget{Kind: TargetVpn, Cidr: w.Vpn.Cidr, Mtu: w.Vpn.Mtu}
	default:
		return fmt.Errorf("wire: tunnel target has no recognized variant")
	}
	return nil
}

// StreamHeader is the decoded, length-prefixed JSON header that opens every
// bidirectional substream on a tunnel (spec.md section 4.1).
type StreamHeader struct {
	Type  Kind   `json:"type"`
	Token string `json:"token"`

	// Serial
	SerialName string `json:"name,omitempty"`
	BaudRate   int    `json:"baud,omitempty"`

	// Port (legacy)
	Port     int          `json:"port,omitempty"`
	Host     string       `json:"host,omitempty"`
	Protocol PortProtocol `json:"protocol,omitempty"`

	// Tunnel
	Target *TunnelTarget `json:"target,omitempty"`

	// Exec
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Docker
	ContainerLogs bool `json:"container_logs,omitempty"`
}

// Validate checks that the header is well-formed for its declared Kind,
// independent of authentication (token validity is checked by the caller).
func (h StreamHeader) Validate() error {
	if h.Token == "" {
		return fmt.Errorf("wire: missing token")
	}
	switch h.Type {
	case KindTerminal, KindExec, KindLogs, KindMetrics, KindDocker, KindSsh:
		return nil
	case KindSerial:
		if h.SerialName == "" {
			return fmt.Errorf("wire: Serial header missing name")
		}
		return nil
	case KindPort:
		if h.Port <= 0 || h.Port > 65535 {
			return fmt.Errorf("wire: Port header has invalid port %d", h.Port)
		}
		if h.Protocol != ProtoTcp && h.Protocol != ProtoUdp {
			return fmt.Errorf("wire: Port header has invalid protocol %q", h.Protocol)
		}
		return nil
	case KindTunnel:
		if h.Target == nil {
			return fmt.Errorf("wire: Tunnel header missing target")
		}
		switch h.Target.Kind {
		case TargetTcp, TargetUdp:
			if h.Target.RemotePort <= 0 || h.Target.RemotePort > 65535 {
				return fmt.Errorf("wire: Tunnel target has invalid remote_port %d", h.Target.RemotePort)
			}
		case TargetSocket:
			if h.Target.RemotePath == "" {
				return fmt.Errorf("wire: Tunnel Socket target missing remote_path")
			}
		case TargetVpn:
			return nil
		default:
			return fmt.Errorf("wire: Tunnel header has unknown target kind %q", h.Target.Kind)
		}
		return nil
	default:
		return fmt.Errorf("wire: unknown stream type %q", h.Type)
	}
}
