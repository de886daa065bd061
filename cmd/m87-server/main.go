// SPDX-License-Identifier: PROPRIETARY
// Copyright (c) 2026 ForTunnels

// Command m87-server is the tunnel server: it accepts device connections on
// one QUIC listener, registers them in the tunnel registry, and splices
// operator connections from a second QUIC listener into the matching
// device tunnel, per spec.md sections 4.2 and 4.6.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/m87/tunnel/internal/logging"
	"github.com/m87/tunnel/internal/registry"
	"github.com/m87/tunnel/internal/serverconfig"
	"github.com/m87/tunnel/internal/splice"
	"github.com/m87/tunnel/internal/tokens"
)

func main() {
	cfg := parseConfigOrExit()
	run(cfg)
}

func parseConfigOrExit() *serverconfig.Config {
	cfg, err := serverconfig.Parse()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Fatal(err)
	}
	if cfg.TunnelTokenKey == "" {
		log.Fatal("missing tunnel token secret: set --tunnel-token-key, --tunnel-token-key-file, or M87_TUNNEL_TOKEN_KEY")
	}
	if cfg.OperatorTokenKey == "" {
		log.Fatal("missing operator token secret: set --operator-token-key, --operator-token-key-file, or M87_OPERATOR_TOKEN_KEY")
	}
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		log.Fatal("missing --tls-cert/--tls-key")
	}
	return cfg
}

func run(cfg *serverconfig.Config) {
	logger, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer logger.Sync()

	cert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		log.Fatalf("load TLS certificate: %v", err)
	}
	tlsConf := &tls.Config{Certificates: []tls.Certificate{cert}}

	reg := registry.New()
	verifier := tokens.NewOperatorVerifier([]byte(cfg.OperatorTokenKey))

	metricsReg := prometheus.NewRegistry()
	spliceServer := splice.NewServer(reg, verifier, nil, logger, metricsReg)
	deviceHub := splice.NewDeviceHub(reg, []byte(cfg.TunnelTokenKey), logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	errc := make(chan error, 3)
	go func() {
		fmt.Printf("Listening for devices on %s\n", cfg.DeviceListenAddr)
		errc <- deviceHub.Serve(ctx, cfg.DeviceListenAddr, tlsConf)
	}()
	go func() {
		fmt.Printf("Listening for operators on %s\n", cfg.OperatorListenAddr)
		errc <- spliceServer.Serve(ctx, cfg.OperatorListenAddr, tlsConf)
	}()
	go func() {
		errc <- serveMetrics(ctx, cfg.MetricsListenAddr, metricsReg)
	}()

	select {
	case err := <-errc:
		if err != nil {
			logger.Error("server exited", zap.Error(err))
		}
	case <-ctx.Done():
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	fmt.Printf("Serving metrics on %s\n", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
