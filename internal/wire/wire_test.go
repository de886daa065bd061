// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStreamHeaderRoundTrip(t *testing.T) {
	cases := []StreamHeader{
		{Type: KindTerminal, Token: "tok"},
		{Type: KindExec, Token: "tok", Command: "ls", Args: []string{"-la"}, Cwd: "/tmp"},
		{Type: KindLogs, Token: "tok"},
		{Type: KindMetrics, Token: "tok"},
		{Type: KindDocker, Token: "tok", ContainerLogs: true},
		{Type: KindSsh, Token: "tok"},
		{Type: KindSerial, Token: "tok", SerialName: "ttyUSB0", BaudRate: 9600},
		{Type: KindPort, Token: "tok", Port: 8080, Host: "127.0.0.1", Protocol: ProtoTcp},
		{Type: KindTunnel, Token: "tok", Target: &TunnelTarget{
			Kind: TargetTcp, RemoteHost: "127.0.0.1", RemotePort: 8080, LocalPort: 0,
		}},
		{Type: KindTunnel, Token: "tok", Target: &TunnelTarget{
			Kind: TargetUdp, RemoteHost: "127.0.0.1", RemotePort: 9000,
		}},
		{Type: KindTunnel, Token: "tok", Target: &TunnelTarget{
			Kind: TargetSocket, LocalPath: "/var/run/docker.sock", RemotePath: "/var/run/docker.sock",
		}},
		{Type: KindTunnel, Token: "tok", Target: &TunnelTarget{Kind: TargetVpn, Cidr: "10.0.0.0/24", Mtu: 1400}},
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, WriteStreamHeader(&buf, want))
		got, err := ReadStreamHeader(&buf)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.NoError(t, got.Validate())
	}
}

func TestStreamHeaderValidateRejectsMissingToken(t *testing.T) {
	h := StreamHeader{Type: KindLogs}
	require.Error(t, h.Validate())
}

func TestStreamHeaderValidateRejectsBadPort(t *testing.T) {
	h := StreamHeader{Type: KindPort, Token: "t", Port: 0, Protocol: ProtoTcp}
	require.Error(t, h.Validate())
}

func TestHandshakeTokenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteHandshakeToken(&buf, "abc.def.ghi"))
	got, err := ReadHandshakeToken(&buf)
	require.NoError(t, err)
	require.Equal(t, "abc.def.ghi", got)
}

func TestChannelIDRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChannelID(&buf, 42))
	got, err := ReadChannelID(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(42), got)
}

func TestSourceAddrCodecV4(t *testing.T) {
	a := SourceAddr{Family: FamilyV4, Port: 8080, IP: net.ParseIP("127.0.0.1").To4()}
	buf, err := EncodeSourceAddr(nil, a)
	require.NoError(t, err)
	require.Len(t, buf, SourceHeaderLenV4)

	got, n, ok := DecodeSourceAddr(buf)
	require.True(t, ok)
	require.Equal(t, SourceHeaderLenV4, n)
	require.Equal(t, a.Family, got.Family)
	require.Equal(t, a.Port, got.Port)
	require.True(t, a.IP.Equal(got.IP))
}

func TestSourceAddrCodecV6(t *testing.T) {
	a := SourceAddr{Family: FamilyV6, Port: 53, IP: net.ParseIP("::1")}
	buf, err := EncodeSourceAddr(nil, a)
	require.NoError(t, err)
	require.Len(t, buf, SourceHeaderLenV6)

	got, n, ok := DecodeSourceAddr(buf)
	require.True(t, ok)
	require.Equal(t, SourceHeaderLenV6, n)
	require.True(t, a.IP.Equal(got.IP))
}

func TestSourceAddrCodecTruncatedOrUnknown(t *testing.T) {
	_, _, ok := DecodeSourceAddr(nil)
	require.False(t, ok)

	_, _, ok = DecodeSourceAddr([]byte{byte(FamilyV4), 0, 1})
	require.False(t, ok, "truncated v4 header must fail")

	_, _, ok = DecodeSourceAddr([]byte{9, 0, 0, 0, 0, 0, 0})
	require.False(t, ok, "unknown family must fail")
}

func TestDeviceDatagramRoundTrip(t *testing.T) {
	src := SourceAddr{Family: FamilyV4, Port: 8080, IP: net.ParseIP("127.0.0.1").To4()}
	b, err := EncodeDeviceDatagram(1, src, []byte("pong"))
	require.NoError(t, err)

	channelID, gotSrc, payload, ok := DecodeDeviceDatagram(b)
	require.True(t, ok)
	require.Equal(t, uint32(1), channelID)
	require.Equal(t, src.Port, gotSrc.Port)
	require.Equal(t, []byte("pong"), payload)
}

func TestOperatorDatagramRoundTrip(t *testing.T) {
	b := EncodeOperatorDatagram(7, []byte("ping"))
	channelID, payload, ok := DecodeOperatorDatagram(b)
	require.True(t, ok)
	require.Equal(t, uint32(7), channelID)
	require.Equal(t, []byte("ping"), payload)
}

func TestUnknownChannelIDDroppedIndependently(t *testing.T) {
	// Decoding never fails on an unrecognized channel id; the drop decision
	// is made by the channel table (internal/udpchan), not the codec.
	b := EncodeOperatorDatagram(999, []byte("x"))
	channelID, _, ok := DecodeOperatorDatagram(b)
	require.True(t, ok)
	require.Equal(t, uint32(999), channelID)
}
