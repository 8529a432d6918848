// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/panekit/windowbus/bus"
	"github.com/panekit/windowbus/lib/clock"
	"github.com/panekit/windowbus/protocol"
	"github.com/panekit/windowbus/statesync"
	"github.com/panekit/windowbus/transport"
)

// document is the state the simulated windows share.
type document struct {
	Counter int    `json:"counter"`
	Title   string `json:"title"`
}

// preferences is a second state key, owned by the secondary window.
type preferences struct {
	Theme    string `json:"theme"`
	FontSize int    `json:"font_size"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		edits    int
		pace     time.Duration
		logLevel string
	)
	pflag.IntVar(&edits, "edits", 5, "number of owner-side edits to replay")
	pflag.DurationVar(&pace, "pace", 200*time.Millisecond, "delay between edits")
	pflag.StringVar(&logLevel, "log-level", "debug", "log level: debug, info, warn, error")
	pflag.Parse()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("parsing --log-level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	hub := transport.NewMemoryHub()
	clk := clock.Real()

	// Short liveness settings so the simulation shows heartbeats
	// without running for a minute.
	config := func(label string, role protocol.Role) bus.Config {
		c := bus.DefaultConfig(label, role)
		c.HeartbeatInterval = bus.Duration(500 * time.Millisecond)
		c.HeartbeatTimeout = bus.Duration(time.Second)
		c.Debounce = bus.Duration(50 * time.Millisecond)
		return c
	}

	// The consumer window, a detached outline widget. Started first so
	// it sees the owner's initial announcement.
	outline, err := bus.New(config("tool-outline", protocol.RoleConsumer), hub.Attach("tool-outline"), clk, logger)
	if err != nil {
		return err
	}
	defer outline.Close()

	outlineStore, err := statesync.NewStore(document{})
	if err != nil {
		return err
	}
	if _, err := outline.Attach("doc", outlineStore); err != nil {
		return err
	}
	outlineStore.Watch(func() {
		var doc document
		if err := outlineStore.Decode(&doc); err == nil {
			logger.Info("outline sees document", "counter", doc.Counter, "title", doc.Title)
		}
	})
	prefsFollower, err := statesync.NewStore(preferences{})
	if err != nil {
		return err
	}
	if _, err := outline.Attach("prefs", prefsFollower); err != nil {
		return err
	}
	if err := outline.Start(ctx); err != nil {
		return err
	}

	// A detached workspace window: owner-secondary, owning the
	// preferences key while following the document.
	workspace, err := bus.New(config("workspace", protocol.RoleOwnerSecondary), hub.Attach("workspace"), clk, logger)
	if err != nil {
		return err
	}
	defer workspace.Close()

	prefsStore, err := statesync.NewStore(preferences{Theme: "dark", FontSize: 13})
	if err != nil {
		return err
	}
	if _, err := workspace.Attach("prefs", prefsStore); err != nil {
		return err
	}
	if err := workspace.Start(ctx); err != nil {
		return err
	}

	// The owner window.
	primary, err := bus.New(config("main", protocol.RoleOwnerPrimary), hub.Attach("main"), clk, logger)
	if err != nil {
		return err
	}
	defer primary.Close()

	mainStore, err := statesync.NewStore(document{Counter: 1, Title: "untitled"})
	if err != nil {
		return err
	}
	if _, err := primary.Attach("doc", mainStore); err != nil {
		return err
	}
	if err := primary.HandleAction("save-document", func(_ context.Context, params json.RawMessage) (any, error) {
		logger.Info("owner handling save-document", "params", string(params))
		return map[string]any{"saved": true}, nil
	}); err != nil {
		return err
	}
	if err := primary.Start(ctx); err != nil {
		return err
	}

	// Replay edits on the owner; each reaches the outline after the
	// debounce quiet period, as a delta or a full snapshot.
	for i := 0; i < edits; i++ {
		time.Sleep(pace)
		doc := document{Counter: i + 2, Title: fmt.Sprintf("draft %d", i+2)}
		if err := mainStore.Set(doc); err != nil {
			return err
		}
	}
	time.Sleep(pace)

	// The secondary owner changes its key too.
	if err := prefsStore.Set(preferences{Theme: "light", FontSize: 14}); err != nil {
		return err
	}
	time.Sleep(pace)

	// The outline fires an action at whichever window handles it.
	result, err := outline.RequestAction(ctx, "save-document",
		map[string]string{"path": "/tmp/sim.md"},
		bus.RequestOptions{Timeout: 2 * time.Second, IdempotencyKey: uuid.NewString()})
	if err != nil {
		return fmt.Errorf("save-document action: %w", err)
	}
	logger.Info("outline received action result", "result", string(result))

	// Simulate the outline regaining focus; it asks the owner for a
	// fresh snapshot of everything it follows.
	hub.Focus("tool-outline")
	time.Sleep(pace)

	for _, info := range primary.Registry().Windows() {
		logger.Info("registry entry", "peer", info.Label, "role", info.Role,
			"last_heartbeat", info.LastHeartbeat.Format(time.RFC3339))
	}
	return nil
}
