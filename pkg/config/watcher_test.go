// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ollyhook.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := make(chan *Config, 4)
	w := NewWatcher(path, func(c *Config) { got <- c }, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	// Unrelated files in the same directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("log_level: error\n"), 0644)

	hooks := "log_level: debug\nhooks:\n  - method: a.B.c\n"
	if err := os.WriteFile(path, []byte(hooks), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-got:
		if cfg.LogLevel != "debug" || len(cfg.Hooks) != 1 {
			t.Errorf("reloaded config = %+v", cfg)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "x.yaml"), func(*Config) {}, zap.NewNop())
	w.Stop()
	w.Stop()
}
