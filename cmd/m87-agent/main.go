// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Command m87-agent is the device-side process: it dials the tunnel server,
// performs the handshake, and serves forwarded streams (terminal, exec,
// logs/metrics, docker, ssh, serial, tunnel) until killed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/m87/tunnel/internal/broadcast"
	"github.com/m87/tunnel/internal/config"
	"github.com/m87/tunnel/internal/control"
	"github.com/m87/tunnel/internal/handlers"
	"github.com/m87/tunnel/internal/logging"
	"github.com/m87/tunnel/internal/sshserver"
)

var (
	defaultServerAddr = "tunnel.m87.example:4443"
	version           = "dev" // set via ldflags during build
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-v" || os.Args[1] == "version") {
		fmt.Printf("m87-agent %s\n", version)
		os.Exit(0)
	}

	cfg := parseConfigOrExit()
	run(cfg)
}

func parseConfigOrExit() *config.Config {
	config.SetDefaultServerAddr(defaultServerAddr)
	cfg, err := config.Parse()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
	config.Validate(cfg)
	return cfg
}

func run(cfg *config.Config) {
	logsProducer := broadcast.NewLogsProducer()
	logger, err := logging.New(logging.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
		Logs:  logsProducer,
	})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	table := broadcast.New(map[string]func() broadcast.Producer{
		string(handlers.ProducerLogs):    func() broadcast.Producer { return logsProducer },
		string(handlers.ProducerMetrics): func() broadcast.Producer { return broadcast.NewMetricsProducer(time.Second, "/") },
	})

	hostKey, err := loadHostKey(cfg.SSHHostKeyFile)
	if err != nil {
		log.Fatalf("load ssh host key: %v", err)
	}
	sshSrv := sshserver.New(hostKey, func() ([]byte, error) {
		return os.ReadFile(cfg.SSHAuthorizedKeys)
	})

	fmt.Printf("Connecting to tunnel server %s via %s ...\n", cfg.ServerAddr, cfg.Carrier)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var encryptSecret string
	if cfg.Encrypt {
		encryptSecret = cfg.PSK
	}

	control.Run(ctx, control.Settings{
		ServerAddr:     cfg.ServerAddr,
		Carrier:        control.Carrier(cfg.Carrier),
		DeviceID:       cfg.DeviceID,
		TokenKey:       []byte(cfg.TokenKey),
		ServerName:     cfg.ServerName,
		InsecureTLS:    cfg.InsecureTLS,
		ReconnectDelay: cfg.ReconnectDelay,
		EncryptSecret:  encryptSecret,
		Broadcast:      table,
		SSH:            sshSrv,
		Logger:         logger,
	})
}

func loadHostKey(path string) (ssh.Signer, error) {
	if path == "" {
		return nil, errors.New("missing --ssh-host-key")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(raw)
}
