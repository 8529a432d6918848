// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/panekit/windowbus/transport"
)

// relayConfig is the relay's YAML config file. Flags override it.
type relayConfig struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log_level"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		logLevel   string
	)
	pflag.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	pflag.StringVar(&listen, "listen", "", "address to serve the relay on (default :8400)")
	pflag.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	pflag.Parse()

	config := relayConfig{Listen: ":8400", LogLevel: "info"}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("parsing config: %w", err)
		}
	}
	if listen != "" {
		config.Listen = listen
	}
	if logLevel != "" {
		config.LogLevel = logLevel
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	relay := transport.NewRelay(logger)
	// No ReadTimeout: the handler hijacks connections for long-lived
	// websockets, and a server-level deadline would sever them.
	server := &http.Server{
		Addr:              config.Listen,
		Handler:           relay.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("relay listening", "address", config.Listen)
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down relay: %w", err)
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}
