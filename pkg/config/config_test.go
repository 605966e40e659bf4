package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}
	if !cfg.Report.Stdout.Enabled {
		t.Error("stdout reporting should be enabled by default")
	}
	if cfg.Tracing.OnDemand {
		t.Error("capture should be active by default")
	}
}

func TestParseHooks(t *testing.T) {
	data := []byte(`
service_name: demo
log_level: debug
report:
  stdout:
    enabled: true
    format: text
hooks:
  - method: com.google.progress.WifiCheckTask.checkWifiCanOrNotConnectServer
    overload: java.lang.String
    capture_args: true
  - method: com.example.Task.run
`)
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.ServiceName != "demo" || cfg.LogLevel != "debug" {
		t.Errorf("service/log level = %q/%q", cfg.ServiceName, cfg.LogLevel)
	}
	if len(cfg.Hooks) != 2 {
		t.Fatalf("got %d hooks, want 2", len(cfg.Hooks))
	}
	h := cfg.Hooks[0]
	if h.Overload == nil || *h.Overload != "java.lang.String" || !h.CaptureArgs {
		t.Errorf("hook 0 = %+v", h)
	}
	if cfg.Hooks[1].Overload != nil {
		t.Errorf("hook 1 overload should be nil, got %q", *cfg.Hooks[1].Overload)
	}
	// Untouched sections keep their defaults.
	if cfg.Report.OTLP.BatchSize != 512 {
		t.Errorf("OTLP batch size = %d, want default 512", cfg.Report.OTLP.BatchSize)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"no control addr", func(c *Config) { c.Control.Addr = "" }},
		{"no reporters", func(c *Config) { c.Report.Stdout.Enabled = false }},
		{"bad stdout format", func(c *Config) { c.Report.Stdout.Format = "xml" }},
		{"socket without path", func(c *Config) {
			c.Report.Socket.Enabled = true
			c.Report.Socket.Path = ""
		}},
		{"otlp without endpoint", func(c *Config) {
			c.Report.OTLP.Enabled = true
			c.Report.OTLP.Endpoint = ""
		}},
		{"otlp bad compression", func(c *Config) {
			c.Report.OTLP.Enabled = true
			c.Report.OTLP.Compression = "zstd"
		}},
		{"otlp zero batch", func(c *Config) {
			c.Report.OTLP.Enabled = true
			c.Report.OTLP.BatchSize = 0
		}},
		{"otlp tiny flush", func(c *Config) {
			c.Report.OTLP.Enabled = true
			c.Report.OTLP.FlushInterval = time.Millisecond
		}},
		{"bad redaction pattern", func(c *Config) {
			c.Report.Redaction.Rules = []RedactionRule{{Name: "x", Pattern: "("}}
		}},
		{"unqualified hook", func(c *Config) {
			c.Hooks = []HookSpec{{Method: "run"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLYHOOK_CONTROL_ADDR", "127.0.0.1:9999")
	t.Setenv("OLLYHOOK_SOCKET_ENABLED", "yes")
	t.Setenv("OLLYHOOK_SOCKET_PATH", "/tmp/x.sock")
	t.Setenv("OLLYHOOK_OTLP_BATCH_SIZE", "64")
	t.Setenv("OLLYHOOK_ON_DEMAND", "1")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	if cfg.Control.Addr != "127.0.0.1:9999" {
		t.Errorf("control addr = %q", cfg.Control.Addr)
	}
	if !cfg.Report.Socket.Enabled || cfg.Report.Socket.Path != "/tmp/x.sock" {
		t.Errorf("socket = %+v", cfg.Report.Socket)
	}
	if cfg.Report.OTLP.BatchSize != 64 {
		t.Errorf("batch size = %d, want 64", cfg.Report.OTLP.BatchSize)
	}
	if !cfg.Tracing.OnDemand {
		t.Error("on_demand should be set from env")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ollyhook.yaml")
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("log level = %q, want warn", cfg.LogLevel)
	}
}
