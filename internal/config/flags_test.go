// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/m87/tunnel/internal/support"
)

func TestParsePort(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"port only", "8000", "8000"},
		{"port with colon", ":9000", "9000"},
		{"invalid port", "abc", ""},
		{"empty", "", ""},
		{"host:port", "127.0.0.1:8080", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, support.ParsePort(tt.input))
		})
	}
}

func TestLooksLikeHostPort(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"valid host:port", "127.0.0.1:8080", true},
		{"valid localhost:port", "localhost:3000", true},
		{"port only", "8000", false},
		{"port with colon", ":8000", false},
		{"no port", "localhost", false},
		{"empty", "", false},
		{"invalid", "bad:value", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.expected, support.LooksLikeHostPort(tt.input))
		})
	}
}

func TestSetDefaultServerAddr(t *testing.T) {
	original := defaultServerAddr
	defer func() { defaultServerAddr = original }()

	SetDefaultServerAddr("tunnel.example.com:4443")
	require.Equal(t, "tunnel.example.com:4443", defaultServerAddr)

	SetDefaultServerAddr("")
	require.Equal(t, "tunnel.example.com:4443", defaultServerAddr, "empty value must not override")

	SetDefaultServerAddr("   ")
	require.Equal(t, "tunnel.example.com:4443", defaultServerAddr, "whitespace-only value must not override")
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	require.NotEmpty(t, cfg.ServerAddr)
	require.Equal(t, carrierQUIC, cfg.Carrier)
	require.Equal(t, "info", cfg.LogLevel)
	require.Empty(t, cfg.TokenKey)
}

func TestApplyTokenKeySourceFromEnv(t *testing.T) {
	t.Setenv("M87_TOKEN_KEY", "env-secret")
	cfg := &Config{}
	require.NoError(t, applyTokenKeySource(cfg))
	require.Equal(t, "env-secret", cfg.TokenKey)
	require.True(t, cfg.TokenKeyFromEnv)
}

func TestApplyTokenKeySourceFilePrecedence(t *testing.T) {
	t.Setenv("M87_TOKEN_KEY", "env-secret")

	f, err := os.CreateTemp("", "token-key")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("file-secret")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg := &Config{TokenKeyFile: f.Name()}
	require.NoError(t, applyTokenKeySource(cfg))
	require.Equal(t, "file-secret", cfg.TokenKey)
}

func TestApplyTokenKeySourceExplicitValueWins(t *testing.T) {
	t.Setenv("M87_TOKEN_KEY", "env-secret")
	cfg := &Config{TokenKey: "flag-secret"}
	require.NoError(t, applyTokenKeySource(cfg))
	require.Equal(t, "flag-secret", cfg.TokenKey)
}

func TestApplyPSKSourceNoopWhenEncryptDisabled(t *testing.T) {
	t.Setenv("M87_PSK", "env-psk")
	cfg := &Config{Encrypt: false}
	require.NoError(t, applyPSKSource(cfg))
	require.Empty(t, cfg.PSK)
}

func TestApplyPSKSourceFromEnvWhenEncryptEnabled(t *testing.T) {
	t.Setenv("M87_PSK", "env-psk")
	cfg := &Config{Encrypt: true}
	require.NoError(t, applyPSKSource(cfg))
	require.Equal(t, "env-psk", cfg.PSK)
}

func TestApplyPSKSourceFilePrecedence(t *testing.T) {
	t.Setenv("M87_PSK", "env-psk")

	f, err := os.CreateTemp("", "psk")
	require.NoError(t, err)
	defer os.Remove(f.Name())
	_, err = f.WriteString("file-psk")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cfg := &Config{Encrypt: true, PSKFile: f.Name()}
	require.NoError(t, applyPSKSource(cfg))
	require.Equal(t, "file-psk", cfg.PSK)
}
