// Copyright 2026 The Panekit Authors
// SPDX-License-Identifier: Apache-2.0

package bus

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/panekit/windowbus/protocol"
)

// Duration is a time.Duration that unmarshals from YAML duration
// strings like "30s" or "100ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Config holds one window's bus settings. The zero value is not
// usable; start from DefaultConfig or LoadConfig.
type Config struct {
	// Channel is the single host channel all bus traffic is
	// multiplexed onto.
	Channel string `yaml:"channel"`

	// Label is this window's unique identifier.
	Label string `yaml:"label"`

	// Role is derived from the window's purpose at startup, never
	// negotiated.
	Role protocol.Role `yaml:"role"`

	// ComponentID names the consumer widget this window hosts, if any.
	ComponentID string `yaml:"component_id"`

	// HeartbeatInterval is how often the bus broadcasts a heartbeat
	// and sweeps for dead windows.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// HeartbeatTimeout is the silence after which a window is
	// considered gone. Must be at least twice the interval so one
	// missed beat is tolerated.
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`

	// Debounce is the quiet period applied to local state mutations
	// before a push.
	Debounce Duration `yaml:"debounce"`

	// DeltaThreshold is the fraction of the full snapshot size a
	// patch must stay under to be sent as a delta.
	DeltaThreshold float64 `yaml:"delta_threshold"`

	// DisableDelta forces every sync to carry a full snapshot.
	DisableDelta bool `yaml:"disable_delta"`

	// ActionTimeout is the default wait for an action response.
	ActionTimeout Duration `yaml:"action_timeout"`
}

// DefaultConfig returns the stock settings for a window.
func DefaultConfig(label string, role protocol.Role) Config {
	return Config{
		Channel:           "windowbus",
		Label:             label,
		Role:              role,
		HeartbeatInterval: Duration(30 * time.Second),
		HeartbeatTimeout:  Duration(60 * time.Second),
		Debounce:          Duration(100 * time.Millisecond),
		DeltaThreshold:    0.5,
		ActionTimeout:     Duration(10 * time.Second),
	}
}

// LoadConfig reads a YAML config file over the defaults. The file is
// the single source of truth; there is no environment fallback.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config: %w", err)
	}
	config := DefaultConfig("", "")
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate checks the configuration and reports every problem at once.
func (c Config) Validate() error {
	var problems []error

	if c.Channel == "" {
		problems = append(problems, fmt.Errorf("channel is required"))
	}
	if c.Label == "" {
		problems = append(problems, fmt.Errorf("label is required"))
	}
	if !c.Role.Valid() {
		problems = append(problems, fmt.Errorf("role %q is not one of owner-primary, owner-secondary, consumer", c.Role))
	}
	if c.HeartbeatInterval <= 0 {
		problems = append(problems, fmt.Errorf("heartbeat_interval must be positive"))
	}
	if c.HeartbeatTimeout < 2*c.HeartbeatInterval {
		problems = append(problems, fmt.Errorf(
			"heartbeat_timeout %v must be at least twice heartbeat_interval %v to tolerate a missed beat",
			time.Duration(c.HeartbeatTimeout), time.Duration(c.HeartbeatInterval)))
	}
	if c.DeltaThreshold <= 0 || c.DeltaThreshold > 1 {
		problems = append(problems, fmt.Errorf("delta_threshold %v must be in (0, 1]", c.DeltaThreshold))
	}
	if c.Debounce < 0 {
		problems = append(problems, fmt.Errorf("debounce must not be negative"))
	}
	if c.ActionTimeout <= 0 {
		problems = append(problems, fmt.Errorf("action_timeout must be positive"))
	}

	return errors.Join(problems...)
}
