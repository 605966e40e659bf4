// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mbeema/ollyhook/pkg/config"
	"github.com/mbeema/ollyhook/pkg/control"
	"github.com/mbeema/ollyhook/pkg/health"
	"github.com/mbeema/ollyhook/pkg/hook"
	"github.com/mbeema/ollyhook/pkg/redact"
	"github.com/mbeema/ollyhook/pkg/report"
	"github.com/mbeema/ollyhook/pkg/typereg"
	"go.uber.org/zap"
)

// Agent wires the registrar to its reporters and control surface.
// Config is stored as an atomic pointer, safe for concurrent access.
type Agent struct {
	cfg       atomic.Pointer[config.Config]
	logger    *zap.Logger
	version   string
	sessionID string

	registrar   *hook.Registrar
	socket      *report.Socket
	otlp        *report.OTLP
	healthStats *health.Stats
	server      *health.Server

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
}

// Option customizes an Agent.
type Option func(*options)

type options struct {
	version string
	stdout  io.Writer
}

// WithVersion sets the version reported on /health.
func WithVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithStdout redirects the stdout reporter.
func WithStdout(w io.Writer) Option {
	return func(o *options) { o.stdout = w }
}

// New builds an agent that hooks methods of types.
func New(cfg *config.Config, types typereg.TypeRegistry, logger *zap.Logger, opts ...Option) (*Agent, error) {
	o := options{version: "dev", stdout: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	a := &Agent{
		logger:      logger,
		version:     o.version,
		sessionID:   uuid.NewString(),
		healthStats: health.NewStats(),
	}
	a.cfg.Store(cfg)

	var reporters report.Multi
	if cfg.Report.Stdout.Enabled {
		reporters = append(reporters, report.NewStream(o.stdout, cfg.Report.Stdout.Format))
	}
	if cfg.Report.Socket.Enabled {
		a.socket = report.NewSocket(cfg.Report.Socket.Path, logger)
		reporters = append(reporters, a.socket)
	}
	if cfg.Report.OTLP.Enabled {
		otlp, err := report.NewOTLP(&cfg.Report.OTLP, cfg.ServiceName, a.sessionID, logger)
		if err != nil {
			return nil, fmt.Errorf("create otlp reporter: %w", err)
		}
		a.otlp = otlp
		reporters = append(reporters, otlp)
	}
	if len(reporters) == 0 {
		logger.Warn("no reporters enabled, events will be discarded")
	}

	var reporter hook.Reporter = reporters
	redactor, err := redact.FromConfig(&cfg.Report.Redaction)
	if err != nil {
		return nil, err
	}
	if redactor != nil {
		reporter = redactor.Reporter(reporters)
	}

	a.registrar = hook.NewRegistrar(types, reporter, logger)
	a.registerStats()

	if cfg.Control.Enabled {
		a.server = health.NewServer(cfg.Control.Addr, a.version, a.sessionID, a.healthStats, logger)
		control.NewAPI(a.registrar, logger).Mount(a.server.Router())
	}

	return a, nil
}

func (a *Agent) registerStats() {
	r := a.registrar
	a.healthStats.Register("ollyhook_hooks_installed_total", health.Counter,
		"Overloads wrapped", func() float64 { return float64(r.Counters().HooksInstalled) })
	a.healthStats.Register("ollyhook_hooks_active", health.Gauge,
		"Overloads currently hooked", func() float64 { return float64(len(r.Hooks())) })
	a.healthStats.Register("ollyhook_hook_failures_total", health.Counter,
		"Hook requests naming a missing type or member", func() float64 { return float64(r.Counters().HookFailures) })
	a.healthStats.Register("ollyhook_events_emitted_total", health.Counter,
		"Events accepted by reporters", func() float64 { return float64(r.Counters().EventsEmitted) })
	a.healthStats.Register("ollyhook_emit_errors_total", health.Counter,
		"Events a reporter failed to accept", func() float64 { return float64(r.Counters().EmitErrors) })
	a.healthStats.Register("ollyhook_events_dropped_total", health.Counter,
		"Events dropped by transports", func() float64 { return float64(a.eventsDropped()) })
	a.healthStats.Register("ollyhook_tracing_enabled", health.Gauge,
		"1 when hooks emit events, 0 when dormant", func() float64 {
			if r.Enabled() {
				return 1
			}
			return 0
		})
}

func (a *Agent) eventsDropped() int64 {
	var n int64
	if a.socket != nil {
		n += a.socket.Dropped()
	}
	if a.otlp != nil {
		n += a.otlp.Dropped()
	}
	return n
}

// Start starts reporters and the control server, then installs the
// configured hooks.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return errors.New("agent already started")
	}
	ctx, a.cancel = context.WithCancel(ctx)
	cfg := a.cfg.Load()

	if cfg.Tracing.OnDemand {
		a.registrar.Disable()
		a.logger.Info("on-demand mode: hooks dormant until 'ollyhookctl tracing enable'")
	}

	if a.otlp != nil {
		a.otlp.Start(ctx)
	}

	if a.server != nil {
		if err := a.server.Start(ctx); err != nil {
			a.cancel()
			if a.otlp != nil {
				a.otlp.Stop()
			}
			return fmt.Errorf("start control server: %w", err)
		}
	}

	a.installHooks(cfg.Hooks)
	a.started = true

	if a.server != nil {
		a.server.SetReady(true)
	}

	a.logger.Info("agent started",
		zap.String("session_id", a.sessionID),
		zap.String("service", cfg.ServiceName),
		zap.Int("hooks", len(a.registrar.Hooks())),
		zap.Bool("tracing", a.registrar.Enabled()),
	)
	return nil
}

// installHooks applies preset hook requests. Missing targets are already
// reported as HookFailed events, so they are only logged here.
func (a *Agent) installHooks(specs []config.HookSpec) {
	for _, spec := range specs {
		n, err := a.registrar.InstallHook(hook.Request{
			Method:      spec.Method,
			Overload:    spec.Overload,
			CaptureArgs: spec.CaptureArgs,
		})
		if err != nil {
			a.logger.Warn("preset hook not installed", zap.String("method", spec.Method), zap.Error(err))
			continue
		}
		a.logger.Debug("preset hook applied", zap.String("method", spec.Method), zap.Int("overloads", n))
	}
}

// changedHooks returns the specs in next that are absent from prev or list
// different options.
func changedHooks(prev, next []config.HookSpec) []config.HookSpec {
	seen := make(map[string]bool, len(prev))
	for _, spec := range prev {
		seen[hookKey(spec)] = spec.CaptureArgs
	}

	var out []config.HookSpec
	for _, spec := range next {
		captureArgs, ok := seen[hookKey(spec)]
		if !ok || captureArgs != spec.CaptureArgs {
			out = append(out, spec)
		}
	}
	return out
}

func hookKey(spec config.HookSpec) string {
	method := strings.TrimSpace(spec.Method)
	if spec.Overload == nil {
		return method + " *"
	}
	return method + " (" + hook.Request{Overload: spec.Overload}.FilterString() + ")"
}

// Stop shuts down the control server and flushes reporters. Installed
// hooks stay in place.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
	}

	var errs []error
	if a.server != nil {
		a.server.SetReady(false)
		if err := a.server.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop control server: %w", err))
		}
	}
	if a.otlp != nil {
		if err := a.otlp.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop otlp reporter: %w", err))
		}
	}
	if a.socket != nil {
		if err := a.socket.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close socket reporter: %w", err))
		}
	}
	a.started = false

	c := a.registrar.Counters()
	a.logger.Info("agent stopped",
		zap.Int64("hooks_installed", c.HooksInstalled),
		zap.Int64("hook_failures", c.HookFailures),
		zap.Int64("events_emitted", c.EventsEmitted),
		zap.Int64("emit_errors", c.EmitErrors),
		zap.Int64("events_dropped", a.eventsDropped()),
	)
	return errors.Join(errs...)
}

// Reload applies a new configuration. Hooks that are new or whose options
// changed since the previous configuration are installed; unchanged ones
// are left alone, so options set over the control API survive. The
// on-demand switch follows tracing.on_demand. Reporter and control changes
// need a restart.
func (a *Agent) Reload(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	oldCfg := a.cfg.Load()
	a.cfg.Store(cfg)

	if !oldCfg.Tracing.OnDemand && cfg.Tracing.OnDemand {
		a.registrar.Disable()
	} else if oldCfg.Tracing.OnDemand && !cfg.Tracing.OnDemand {
		a.registrar.Enable()
	}

	if !reflect.DeepEqual(oldCfg.Report, cfg.Report) || oldCfg.Control != cfg.Control {
		a.logger.Warn("report/control changes take effect after restart")
	}

	changed := changedHooks(oldCfg.Hooks, cfg.Hooks)
	a.installHooks(changed)

	a.logger.Info("configuration reloaded",
		zap.Int("hooks_changed", len(changed)),
		zap.Int("hooks", len(a.registrar.Hooks())),
		zap.Bool("tracing", a.registrar.Enabled()),
	)
	return nil
}

// Registrar returns the agent's registrar for in-process HookMethod calls.
func (a *Agent) Registrar() *hook.Registrar {
	return a.registrar
}

// SessionID identifies this agent run in events exported over OTLP.
func (a *Agent) SessionID() string {
	return a.sessionID
}

// ControlAddr returns the control server's bound address, or "" when the
// control API is disabled.
func (a *Agent) ControlAddr() string {
	if a.server == nil {
		return ""
	}
	return a.server.Addr()
}

// Stats returns the agent's self-monitoring stats.
func (a *Agent) Stats() *health.Stats {
	return a.healthStats
}
