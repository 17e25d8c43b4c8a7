// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig is the on-disk configuration for an RFB server host: the
// listen address and the defaults applied to every Session it accepts.
// Load it with LoadServerConfig, then turn its fields into SessionOption
// values with Options.
type ServerConfig struct {
	// ListenAddress is the host:port the server listens on.
	ListenAddress string `yaml:"listen_address"`

	// DesktopName is advertised to clients during ServerInit.
	DesktopName string `yaml:"desktop_name"`

	// Password enables VNC password authentication when non-empty.
	Password string `yaml:"password"`

	// PumpRateHz caps the update pump's tick rate.
	PumpRateHz float64 `yaml:"pump_rate_hz"`

	// MaxClipboardLength bounds accepted ClientCutText/ServerCutText payloads.
	MaxClipboardLength int `yaml:"max_clipboard_length"`

	// MaxEncodingsCount bounds the accepted SetEncodings count.
	MaxEncodingsCount uint16 `yaml:"max_encodings_count"`

	// MetricsAddress, if non-empty, serves Prometheus metrics on this
	// host:port at /metrics.
	MetricsAddress string `yaml:"metrics_address"`
}

// DefaultServerConfig returns the configuration used as a base before a
// config file's values are merged in.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		ListenAddress:      ":5900",
		DesktopName:        "RFB Session",
		PumpRateHz:         15,
		MaxClipboardLength: MaxClientCutTextLength,
		MaxEncodingsCount:  MaxSetEncodingsCount,
	}
}

// LoadServerConfig reads and parses a YAML config file at path, starting
// from DefaultServerConfig so every field has a sensible value even when
// the file omits it.
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path) // #nosec G304 - path is an operator-supplied config location
	if err != nil {
		return nil, configurationError("LoadServerConfig", fmt.Sprintf("failed to read config file %q", path), err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, configurationError("LoadServerConfig", fmt.Sprintf("failed to parse config file %q", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for internally inconsistent values.
func (c *ServerConfig) Validate() error {
	if c.ListenAddress == "" {
		return configurationError("ServerConfig.Validate", "listen_address is required", nil)
	}
	if c.PumpRateHz <= 0 {
		return configurationError("ServerConfig.Validate", "pump_rate_hz must be positive", nil)
	}
	if c.MaxClipboardLength <= 0 {
		return configurationError("ServerConfig.Validate", "max_clipboard_length must be positive", nil)
	}
	if c.MaxEncodingsCount == 0 {
		return configurationError("ServerConfig.Validate", "max_encodings_count must be positive", nil)
	}
	return nil
}

// Options turns the config into the SessionOption values NewSession
// expects, so every accepted connection inherits the same defaults.
func (c *ServerConfig) Options(logger Logger, listener *Listener) []SessionOption {
	opts := []SessionOption{
		WithDesktopName(c.DesktopName),
		WithPumpRate(c.PumpRateHz),
		WithMaxClipboardLength(c.MaxClipboardLength),
		WithMaxEncodingsCount(c.MaxEncodingsCount),
	}
	if c.Password != "" {
		opts = append(opts, WithPassword(c.Password))
	}
	if logger != nil {
		opts = append(opts, WithSessionLogger(logger))
	}
	if listener != nil {
		opts = append(opts, WithListener(listener))
	}
	return opts
}
