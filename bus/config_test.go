// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/panekit/windowbus/protocol"
)

func TestDefaultConfigValidates(t *testing.T) {
	config := DefaultConfig("main", protocol.RoleOwnerPrimary)
	if err := config.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	base := DefaultConfig("main", protocol.RoleOwnerPrimary)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "missing label",
			mutate: func(c *Config) { c.Label = "" },
			want:   "label is required",
		},
		{
			name:   "missing channel",
			mutate: func(c *Config) { c.Channel = "" },
			want:   "channel is required",
		},
		{
			name:   "unknown role",
			mutate: func(c *Config) { c.Role = "spectator" },
			want:   "role",
		},
		{
			name:   "timeout under twice the interval",
			mutate: func(c *Config) { c.HeartbeatTimeout = Duration(45 * time.Second) },
			want:   "at least twice",
		},
		{
			name:   "threshold above one",
			mutate: func(c *Config) { c.DeltaThreshold = 1.5 },
			want:   "delta_threshold",
		},
		{
			name:   "zero threshold",
			mutate: func(c *Config) { c.DeltaThreshold = 0 },
			want:   "delta_threshold",
		},
		{
			name:   "negative debounce",
			mutate: func(c *Config) { c.Debounce = Duration(-time.Millisecond) },
			want:   "debounce",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := base
			tt.mutate(&config)
			err := config.Validate()
			if err == nil {
				t.Fatalf("Validate accepted the config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestConfigValidateReportsEveryProblem(t *testing.T) {
	config := Config{}
	err := config.Validate()
	if err == nil {
		t.Fatalf("empty config validated")
	}
	for _, want := range []string{"label", "channel", "role", "heartbeat_interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %q", err, want)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	raw := `
channel: panes
label: tool-1
role: consumer
component_id: outline
heartbeat_interval: 5s
heartbeat_timeout: 12s
debounce: 50ms
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if config.Channel != "panes" || config.Label != "tool-1" {
		t.Fatalf("got channel=%q label=%q", config.Channel, config.Label)
	}
	if config.Role != protocol.RoleConsumer || config.ComponentID != "outline" {
		t.Fatalf("got role=%s component=%q", config.Role, config.ComponentID)
	}
	if time.Duration(config.HeartbeatInterval) != 5*time.Second {
		t.Fatalf("heartbeat_interval = %v, want 5s", time.Duration(config.HeartbeatInterval))
	}
	if time.Duration(config.Debounce) != 50*time.Millisecond {
		t.Fatalf("debounce = %v, want 50ms", time.Duration(config.Debounce))
	}

	// Fields the file omits keep their defaults.
	if time.Duration(config.ActionTimeout) != 10*time.Second {
		t.Fatalf("action_timeout = %v, want the 10s default", time.Duration(config.ActionTimeout))
	}
	if config.DeltaThreshold != 0.5 {
		t.Fatalf("delta_threshold = %v, want 0.5", config.DeltaThreshold)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus.yaml")
	raw := `
channel: panes
label: tool-1
role: consumer
heartbeat_interval: 30s
heartbeat_timeout: 31s
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("LoadConfig accepted a timeout below twice the interval")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("LoadConfig succeeded on a missing file")
	}
}
