// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Validate ensures the agent's CLI configuration is consistent, exiting the
// process on fatal errors (same "print then os.Exit(2)" pattern the teacher
// used for CLI validation failures).
func Validate(cfg *Config) {
	validateCarrier(cfg.Carrier)
	validateServerAddr(cfg.ServerAddr)
	validateDeviceID(cfg.DeviceID)
	validateTokenKey(cfg.TokenKey)
	validateEncryptPSK(cfg)
	warnOnSensitiveFlagUsage(cfg)
}

func validateEncryptPSK(cfg *Config) {
	if cfg.Encrypt && strings.TrimSpace(cfg.PSK) == "" {
		fmt.Println("missing pre-shared key for --encrypt: set --psk, --psk-file, --psk-stdin, or M87_PSK")
		os.Exit(2)
	}
}

func validateCarrier(carrier string) {
	switch strings.ToLower(carrier) {
	case carrierQUIC, carrierWS, carrierDTLS:
	default:
		fmt.Printf("unsupported carrier: %s\n", carrier)
		fmt.Println("   Supported: quic, ws, dtls")
		os.Exit(2)
	}
}

func validateServerAddr(addr string) {
	if addr == "" {
		fmt.Println("missing --server address")
		os.Exit(2)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		fmt.Println("invalid --server address")
		fmt.Println("   Example: --server tunnel.example.com:4443")
		os.Exit(2)
	}
}

func validateDeviceID(id string) {
	if strings.TrimSpace(id) == "" {
		fmt.Println("missing --device-id")
		os.Exit(2)
	}
}

func validateTokenKey(key string) {
	if strings.TrimSpace(key) == "" {
		fmt.Println("missing tunnel token secret: set --token-key, --token-key-file, --token-key-stdin, or M87_TOKEN_KEY")
		os.Exit(2)
	}
}

func warnOnSensitiveFlagUsage(cfg *Config) {
	if cfg.TokenKeyFlagProvided && strings.TrimSpace(cfg.TokenKey) != "" {
		fmt.Fprintln(os.Stderr, "warning: --token-key was provided via CLI and may be visible in process listings")
	}
}
