// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbeema/ollyhook/pkg/agent"
	"github.com/mbeema/ollyhook/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	var (
		configPath  string
		logLevel    string
		workload    time.Duration
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to configuration file (watched for changes)")
	flag.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.DurationVar(&workload, "workload-interval", time.Second, "interval of the built-in demo workload (0 disables)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("ollyhook %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	path, cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Override log level from CLI
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting ollyhook agent",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("config", path),
	)

	types, err := newDemoRegistry()
	if err != nil {
		logger.Fatal("failed to build type registry", zap.Error(err))
	}

	a, err := agent.New(cfg, types, logger, agent.WithVersion(version))
	if err != nil {
		logger.Fatal("failed to create agent", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.Start(ctx); err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}

	if workload > 0 {
		go runWorkload(ctx, types, workload, logger)
	}

	var watcher *config.Watcher
	if path != "" {
		watcher = config.NewWatcher(path, func(newCfg *config.Config) {
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply reloaded config", zap.Error(err))
			}
		}, logger)
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("config watcher disabled", zap.Error(err))
			watcher = nil
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", zap.String("signal", sig.String()))
			if watcher != nil {
				watcher.Stop()
			}
			cancel()

			shutdownDone := make(chan struct{})
			go func() {
				if err := a.Stop(); err != nil {
					logger.Error("error during shutdown", zap.Error(err))
				}
				close(shutdownDone)
			}()

			select {
			case <-shutdownDone:
				logger.Info("ollyhook agent stopped")
			case <-time.After(30 * time.Second):
				logger.Error("shutdown timed out after 30s, forcing exit")
				os.Exit(1)
			}
			return

		case <-hupCh:
			logger.Info("received SIGHUP, reloading configuration")
			_, newCfg, err := loadConfig(path)
			if err != nil {
				logger.Error("failed to reload config", zap.Error(err))
				continue
			}
			if err := a.Reload(newCfg); err != nil {
				logger.Error("failed to apply new config", zap.Error(err))
			}
		}
	}
}

// loadConfig returns the config file path it used ("" for built-in
// defaults) and the parsed configuration.
func loadConfig(path string) (string, *config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return path, cfg, err
	}

	defaults := []string{
		"configs/ollyhook.yaml",
		"/etc/ollyhook/ollyhook.yaml",
	}
	for _, p := range defaults {
		if _, err := os.Stat(p); err == nil {
			cfg, err := config.Load(p)
			return p, cfg, err
		}
	}

	cfg := config.DefaultConfig()
	cfg.ApplyEnvOverrides()
	return "", cfg, cfg.Validate()
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	// Events go to stdout; logs stay on stderr.
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder

	return cfg.Build()
}
