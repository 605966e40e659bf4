// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the ollyhook agent.
type Config struct {
	ServiceName string        `yaml:"service_name" env:"OLLYHOOK_SERVICE_NAME"`
	LogLevel    string        `yaml:"log_level" env:"OLLYHOOK_LOG_LEVEL"`
	Control     ControlConfig `yaml:"control"`
	Tracing     TracingConfig `yaml:"tracing"`
	Report      ReportConfig  `yaml:"report"`
	Hooks       []HookSpec    `yaml:"hooks"`
}

// ControlConfig configures the HTTP control and health server.
type ControlConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr" env:"OLLYHOOK_CONTROL_ADDR"` // e.g. "127.0.0.1:8787"
}

type TracingConfig struct {
	OnDemand bool `yaml:"on_demand"` // Start dormant; activate via 'ollyhookctl tracing enable'
}

type ReportConfig struct {
	Stdout    StdoutConfig    `yaml:"stdout"`
	Socket    SocketConfig    `yaml:"socket"`
	OTLP      OTLPConfig      `yaml:"otlp"`
	Redaction RedactionConfig `yaml:"redaction"`
}

// RedactionConfig scrubs captured argument values before any reporter
// sees them. Built-in rules cover card numbers, SSNs and credentials.
type RedactionConfig struct {
	Enabled bool            `yaml:"enabled"`
	Rules   []RedactionRule `yaml:"rules"`
}

type RedactionRule struct {
	Name        string `yaml:"name"`
	Pattern     string `yaml:"pattern"`
	Replacement string `yaml:"replacement"`
}

type StdoutConfig struct {
	Enabled bool   `yaml:"enabled"`
	Format  string `yaml:"format"` // "json" or "text"
}

// SocketConfig points at the observer's Unix DGRAM socket.
type SocketConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" env:"OLLYHOOK_SOCKET_PATH"`
}

type OTLPConfig struct {
	Enabled       bool              `yaml:"enabled"`
	Endpoint      string            `yaml:"endpoint"`
	Insecure      bool              `yaml:"insecure"`
	Compression   string            `yaml:"compression"` // "gzip" or "none"
	Headers       map[string]string `yaml:"headers"`
	BatchSize     int               `yaml:"batch_size"`
	QueueSize     int               `yaml:"queue_size"`
	FlushInterval time.Duration     `yaml:"flush_interval"`
}

// HookSpec is a hook installed at startup and on every reload.
type HookSpec struct {
	Method      string  `yaml:"method"`
	Overload    *string `yaml:"overload"` // omit to hook every overload
	CaptureArgs bool    `yaml:"capture_args"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of DefaultConfig, applies environment
// overrides and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName: "ollyhook",
		LogLevel:    "info",
		Control: ControlConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8787",
		},
		Report: ReportConfig{
			Stdout: StdoutConfig{
				Enabled: true,
				Format:  "json",
			},
			Socket: SocketConfig{
				Enabled: false,
				Path:    "/var/run/ollyhook/events.sock",
			},
			OTLP: OTLPConfig{
				Enabled:       false,
				Endpoint:      "localhost:4317",
				Insecure:      true,
				Compression:   "gzip",
				BatchSize:     512,
				QueueSize:     8192,
				FlushInterval: 2 * time.Second,
			},
		},
	}
}

// ApplyEnvOverrides reads OLLYHOOK_* environment variables and applies
// them to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"OLLYHOOK_SERVICE_NAME":  func(v string) { c.ServiceName = v },
		"OLLYHOOK_LOG_LEVEL":     func(v string) { c.LogLevel = v },
		"OLLYHOOK_CONTROL_ADDR":  func(v string) { c.Control.Addr = v },
		"OLLYHOOK_SOCKET_PATH":   func(v string) { c.Report.Socket.Path = v },
		"OLLYHOOK_OTLP_ENDPOINT": func(v string) { c.Report.OTLP.Endpoint = v },
		"OLLYHOOK_STDOUT_FORMAT": func(v string) { c.Report.Stdout.Format = v },
	}

	boolOverrides := map[string]*bool{
		"OLLYHOOK_CONTROL_ENABLED": &c.Control.Enabled,
		"OLLYHOOK_STDOUT_ENABLED":  &c.Report.Stdout.Enabled,
		"OLLYHOOK_SOCKET_ENABLED":  &c.Report.Socket.Enabled,
		"OLLYHOOK_OTLP_ENABLED":    &c.Report.OTLP.Enabled,
		"OLLYHOOK_ON_DEMAND":       &c.Tracing.OnDemand,
		"OLLYHOOK_REDACTION":       &c.Report.Redaction.Enabled,
	}

	intOverrides := map[string]*int{
		"OLLYHOOK_OTLP_BATCH_SIZE": &c.Report.OTLP.BatchSize,
		"OLLYHOOK_OTLP_QUEUE_SIZE": &c.Report.OTLP.QueueSize,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}

	for envKey, target := range intOverrides {
		if val := os.Getenv(envKey); val != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
				*target = n
			}
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if c.Control.Enabled && c.Control.Addr == "" {
		return fmt.Errorf("control.addr is required when control is enabled")
	}

	r := c.Report
	if !r.Stdout.Enabled && !r.Socket.Enabled && !r.OTLP.Enabled {
		return fmt.Errorf("at least one of report.stdout, report.socket, report.otlp must be enabled")
	}

	if r.Stdout.Enabled && r.Stdout.Format != "json" && r.Stdout.Format != "text" {
		return fmt.Errorf("report.stdout.format must be 'json' or 'text'")
	}

	if r.Socket.Enabled && r.Socket.Path == "" {
		return fmt.Errorf("report.socket.path is required when socket reporting is enabled")
	}

	if r.OTLP.Enabled {
		if r.OTLP.Endpoint == "" {
			return fmt.Errorf("report.otlp.endpoint is required when OTLP is enabled")
		}
		if r.OTLP.Compression != "" && r.OTLP.Compression != "gzip" && r.OTLP.Compression != "none" {
			return fmt.Errorf("report.otlp.compression must be 'gzip' or 'none'")
		}
		if r.OTLP.BatchSize <= 0 || r.OTLP.QueueSize <= 0 {
			return fmt.Errorf("report.otlp.batch_size and queue_size must be positive")
		}
		if r.OTLP.FlushInterval < 10*time.Millisecond {
			return fmt.Errorf("report.otlp.flush_interval must be at least 10ms")
		}
	}

	for i, rule := range r.Redaction.Rules {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return fmt.Errorf("report.redaction.rules[%d] (%s): %w", i, rule.Name, err)
		}
	}

	for i, h := range c.Hooks {
		dot := strings.LastIndexByte(h.Method, '.')
		if dot <= 0 || dot == len(h.Method)-1 {
			return fmt.Errorf("hooks[%d].method %q must be a qualified Owner.member name", i, h.Method)
		}
	}

	return nil
}
