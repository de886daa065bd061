// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Package serverconfig parses the m87 server binary's flags, mirroring the
// agent's internal/config layering (flag > file > env; no stdin source) for its own
// secrets, per SPEC_FULL.md section 3.
package serverconfig

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/m87/tunnel/internal/support"
)

// Config aggregates the server's CLI options after parsing.
type Config struct {
	DeviceListenAddr   string
	OperatorListenAddr string
	MetricsListenAddr  string

	TLSCertFile string
	TLSKeyFile  string

	TunnelTokenKey    string
	TunnelTokenKeyFile string
	OperatorTokenKey     string
	OperatorTokenKeyFile string

	RequestBudget time.Duration
	LogLevel      string
	LogFile       string
}

// Parse parses command-line flags into Config.
func Parse() (*Config, error) {
	cfg := &Config{
		DeviceListenAddr:   ":4443",
		OperatorListenAddr: ":4444",
		MetricsListenAddr:  ":9090",
		RequestBudget:      30 * time.Second,
		LogLevel:           "info",
	}
	var budgetStr string

	fs := flag.CommandLine
	fs.StringVar(&cfg.DeviceListenAddr, "device-listen", cfg.DeviceListenAddr, "Address devices dial to register their tunnel")
	fs.StringVar(&cfg.OperatorListenAddr, "operator-listen", cfg.OperatorListenAddr, "Address operators dial to splice into a device tunnel")
	fs.StringVar(&cfg.MetricsListenAddr, "metrics-listen", cfg.MetricsListenAddr, "Address serving /metrics")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert", cfg.TLSCertFile, "TLS certificate chain (PEM)")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key", cfg.TLSKeyFile, "TLS private key (PEM)")
	fs.StringVar(&cfg.TunnelTokenKey, "tunnel-token-key", cfg.TunnelTokenKey, "HMAC secret validating device tunnel tokens")
	fs.StringVar(&cfg.TunnelTokenKeyFile, "tunnel-token-key-file", cfg.TunnelTokenKeyFile, "Read the device tunnel-token secret from a file")
	fs.StringVar(&cfg.OperatorTokenKey, "operator-token-key", cfg.OperatorTokenKey, "HMAC secret validating operator JWTs")
	fs.StringVar(&cfg.OperatorTokenKeyFile, "operator-token-key-file", cfg.OperatorTokenKeyFile, "Read the operator-token secret from a file")
	fs.StringVar(&budgetStr, "request-budget", "30s", "Parsed into Config.RequestBudget; the splice handshake uses its own fixed 30s budget")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs to this file (rotated) instead of stderr")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, err
	}

	dur, err := time.ParseDuration(budgetStr)
	if err != nil {
		return nil, fmt.Errorf("invalid --request-budget: %w", err)
	}
	cfg.RequestBudget = dur

	if err := applySecretFiles(cfg); err != nil {
		return nil, err
	}
	if err := validateListenAddrs(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validateListenAddrs rejects a listen address that is neither a bare port
// (":4443" or "4443", bind-all) nor a "host:port" form, per SPEC_FULL.md's
// config section. A listen address never needs the stricter
// net.SplitHostPort check internal/config uses for the agent's --server
// flag (which must resolve to a real remote host); here
// support.ParsePort/LooksLikeHostPort are enough to catch a typo like
// "--metrics-listen host" (no port at all) before the server binds three
// listeners back to back.
func validateListenAddrs(cfg *Config) error {
	for _, addr := range []struct {
		name string
		val  string
	}{
		{"--device-listen", cfg.DeviceListenAddr},
		{"--operator-listen", cfg.OperatorListenAddr},
		{"--metrics-listen", cfg.MetricsListenAddr},
	} {
		if support.LooksLikeHostPort(addr.val) {
			continue
		}
		if support.ParsePort(addr.val) != "" {
			continue
		}
		return fmt.Errorf("invalid %s address %q: expected \":port\" or \"host:port\"", addr.name, addr.val)
	}
	return nil
}

func applySecretFiles(cfg *Config) error {
	if cfg.TunnelTokenKey == "" && cfg.TunnelTokenKeyFile != "" {
		secret, err := support.ReadSecretFile(cfg.TunnelTokenKeyFile)
		if err != nil {
			return err
		}
		cfg.TunnelTokenKey = secret
	}
	if cfg.TunnelTokenKey == "" {
		cfg.TunnelTokenKey = support.GetEnvTrimmed("M87_TUNNEL_TOKEN_KEY")
	}
	if cfg.OperatorTokenKey == "" && cfg.OperatorTokenKeyFile != "" {
		secret, err := support.ReadSecretFile(cfg.OperatorTokenKeyFile)
		if err != nil {
			return err
		}
		cfg.OperatorTokenKey = secret
	}
	if cfg.OperatorTokenKey == "" {
		cfg.OperatorTokenKey = support.GetEnvTrimmed("M87_OPERATOR_TOKEN_KEY")
	}
	return nil
}
