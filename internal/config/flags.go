// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/m87/tunnel/internal/support"
)

const (
	carrierQUIC = "quic"
	carrierWS   = "ws"
	carrierDTLS = "dtls"
)

var defaultServerAddr = "tunnel.m87.example:4443"

// SetDefaultServerAddr allows overriding the default server address (for
// ldflags-injected builds).
func SetDefaultServerAddr(value string) {
	if strings.TrimSpace(value) != "" {
		defaultServerAddr = value
	}
}

// Config aggregates the device agent's CLI options after parsing, per
// SPEC_FULL.md section 3's "Configuration" ambient-stack subsection.
type Config struct {
	DeviceID   string
	ServerAddr string
	ServerName string
	Carrier    string

	InsecureTLS bool

	TokenKey       string
	TokenKeyFile   string
	TokenKeyStdin  bool
	TokenKeyFromEnv bool

	SSHHostKeyFile     string
	SSHAuthorizedKeys  string

	Encrypt      bool
	PSK          string
	PSKFile      string
	PSKFromStdin bool

	ReconnectDelay time.Duration
	LogLevel       string
	LogFile        string

	ServerFlagProvided    bool
	TokenKeyFlagProvided  bool
}

// Parse parses command-line flags into Config.
func Parse() (*Config, error) {
	cfg := defaultConfig()
	var reconnectStr string

	fs := flag.CommandLine
	fs.StringVar(&cfg.DeviceID, "device-id", cfg.DeviceID, "Stable device identifier used in the tunnel handshake token")
	fs.StringVar(&cfg.ServerAddr, "server", cfg.ServerAddr, "Tunnel server address (host:port)")
	fs.StringVar(&cfg.ServerName, "server-name", cfg.ServerName, "TLS server name for the tunnel connection (defaults to the server host)")
	fs.StringVar(&cfg.Carrier, "carrier", cfg.Carrier, "Tunnel carrier: quic, ws, or dtls")
	fs.BoolVar(&cfg.InsecureTLS, "insecure-tls", cfg.InsecureTLS, "Skip TLS certificate verification (testing only)")
	fs.StringVar(&cfg.TokenKey, "token-key", cfg.TokenKey, "HMAC secret for minting the tunnel handshake token")
	fs.StringVar(&cfg.TokenKeyFile, "token-key-file", cfg.TokenKeyFile, "Read the HMAC token secret from a file")
	fs.BoolVar(&cfg.TokenKeyStdin, "token-key-stdin", cfg.TokenKeyStdin, "Read the HMAC token secret from stdin")
	fs.StringVar(&cfg.SSHHostKeyFile, "ssh-host-key", cfg.SSHHostKeyFile, "Path to the embedded SSH server's host key")
	fs.StringVar(&cfg.SSHAuthorizedKeys, "ssh-authorized-keys", cfg.SSHAuthorizedKeys, "Path to an authorized_keys file for the embedded SSH server")
	fs.BoolVar(&cfg.Encrypt, "encrypt", cfg.Encrypt, "Enable an additional per-stream payload-encryption layer (PSK)")
	fs.StringVar(&cfg.PSK, "psk", cfg.PSK, "Pre-shared key for --encrypt")
	fs.StringVar(&cfg.PSKFile, "psk-file", cfg.PSKFile, "Read the --encrypt pre-shared key from a file")
	fs.BoolVar(&cfg.PSKFromStdin, "psk-stdin", cfg.PSKFromStdin, "Read the --encrypt pre-shared key from stdin")
	fs.StringVar(&reconnectStr, "reconnect-delay", "10s", "Delay between tunnel reconnect attempts")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file (rotated) instead of stderr")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	cfg.ServerFlagProvided = flagProvided("server")
	cfg.TokenKeyFlagProvided = flagProvided("token-key")

	dur, err := time.ParseDuration(reconnectStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --reconnect-delay: %w", err)
	}
	cfg.ReconnectDelay = dur

	if err := applyTokenKeySource(cfg); err != nil {
		return nil, err
	}
	if err := applyPSKSource(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServerAddr:     support.GetDefaultServerURL(defaultServerAddr),
		Carrier:        carrierQUIC,
		ReconnectDelay: 10 * time.Second,
		LogLevel:       "info",
	}
}

func flagProvided(name string) bool {
	for _, a := range os.Args[1:] {
		if a == "-"+name || a == "--"+name ||
			strings.HasPrefix(a, "-"+name+"=") ||
			strings.HasPrefix(a, "--"+name+"=") {
			return true
		}
	}
	return false
}

// applyTokenKeySource layers the token-key secret the same way the teacher's
// applySecretSources did: flag > file > stdin > environment.
func applyTokenKeySource(cfg *Config) error {
	if cfg.TokenKey != "" {
		return nil
	}
	if cfg.TokenKeyFile != "" {
		secret, err := support.ReadSecretFile(cfg.TokenKeyFile)
		if err != nil {
			return err
		}
		cfg.TokenKey = secret
		return nil
	}
	if cfg.TokenKeyStdin {
		secret, err := support.ReadSecretStdin("token-key")
		if err != nil {
			return err
		}
		cfg.TokenKey = secret
		return nil
	}
	cfg.TokenKey = support.GetEnvTrimmed("M87_TOKEN_KEY")
	if cfg.TokenKey != "" {
		cfg.TokenKeyFromEnv = true
	}
	return nil
}

// applyPSKSource layers the optional --encrypt pre-shared key the same way
// as the tunnel token: flag > file > stdin > environment.
func applyPSKSource(cfg *Config) error {
	if !cfg.Encrypt {
		return nil
	}
	if cfg.PSK != "" {
		return nil
	}
	if cfg.PSKFile != "" {
		secret, err := support.ReadSecretFile(cfg.PSKFile)
		if err != nil {
			return err
		}
		cfg.PSK = secret
		return nil
	}
	if cfg.PSKFromStdin {
		secret, err := support.ReadSecretStdin("psk")
		if err != nil {
			return err
		}
		cfg.PSK = secret
		return nil
	}
	cfg.PSK = support.GetEnvTrimmed("M87_PSK")
	return nil
}
