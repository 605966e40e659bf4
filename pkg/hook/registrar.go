// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbeema/ollyhook/pkg/typereg"
	"go.uber.org/zap"
)

// Reporter delivers events to the external observer. Report runs on the
// goroutine of the intercepted call and must not block beyond encoding and
// a single send.
type Reporter interface {
	Report(ev *Event) error
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ev *Event) error

// Report implements Reporter.
func (f ReporterFunc) Report(ev *Event) error { return f(ev) }

// HookInfo describes one installed hook.
type HookInfo struct {
	Method      string    `json:"method"`
	Signature   string    `json:"signature"`
	CaptureArgs bool      `json:"captureArgs"`
	Installed   time.Time `json:"installed"`
	Calls       int64     `json:"calls"`
}

// Counters is a snapshot of registrar activity.
type Counters struct {
	HooksInstalled int64
	HookFailures   int64
	EventsEmitted  int64
	EmitErrors     int64
}

// Registrar resolves hook requests against a TypeRegistry and installs one
// Wrapper per matching overload. Installation is serialized; invocations
// through installed wrappers run concurrently on the callers' goroutines.
type Registrar struct {
	types    typereg.TypeRegistry
	reporter Reporter
	logger   *zap.Logger

	mu    sync.Mutex
	hooks map[string]*Wrapper // keyed by Overload.String()

	dormant atomic.Bool

	installed  atomic.Int64
	failures   atomic.Int64
	emitted    atomic.Int64
	emitErrors atomic.Int64
}

// NewRegistrar creates a registrar that reports through reporter.
func NewRegistrar(types typereg.TypeRegistry, reporter Reporter, logger *zap.Logger) *Registrar {
	return &Registrar{
		types:    types,
		reporter: reporter,
		logger:   logger,
		hooks:    make(map[string]*Wrapper),
	}
}

// HookMethod is the control entry point: hook methodName, optionally
// restricted to one overload, recording arguments when printArgs is set.
func (r *Registrar) HookMethod(methodName string, overloadFilter *string, printArgs bool) (int, error) {
	return r.InstallHook(Request{
		Method:      methodName,
		Overload:    overloadFilter,
		CaptureArgs: printArgs,
	})
}

// InstallHook wraps every overload of req.Method matching req.Overload and
// returns how many overloads are now hooked by this request.
//
// When the owner type or member does not exist a single HookFailed event
// is emitted and the returned error wraps ErrHookNotFound. A filter that
// matches no overload installs nothing and is not an error.
func (r *Registrar) InstallHook(req Request) (int, error) {
	owner, member, err := ParseMethod(req.Method)
	if err != nil {
		return 0, err
	}
	method := owner + "." + member
	filter := req.FilterString()

	overloads, err := r.types.ResolveMember(owner, member)
	if err != nil {
		if errors.Is(err, typereg.ErrTypeNotFound) || errors.Is(err, typereg.ErrMemberNotFound) {
			r.failures.Add(1)
			r.emit(&Event{
				Type:   EventHookFailed,
				Callee: [2]string{method, filter},
			})
			r.logger.Warn("hook target not found",
				zap.String("method", method),
				zap.String("overload", filter),
				zap.Error(err),
			)
			return 0, fmt.Errorf("%s: %w", method, ErrHookNotFound)
		}
		return 0, fmt.Errorf("resolve %s: %w", method, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, ov := range overloads {
		if req.Overload != nil && ov.Signature() != filter {
			continue
		}
		if err := r.wrapLocked(ov, req.CaptureArgs); err != nil {
			return n, err
		}
		n++
	}

	if n == 0 {
		r.logger.Warn("no overload matched filter",
			zap.String("method", method),
			zap.String("overload", filter),
			zap.Int("overloads", len(overloads)),
		)
		return 0, nil
	}

	r.logger.Info("hook installed",
		zap.String("method", method),
		zap.String("overload", filter),
		zap.Int("overloads", n),
		zap.Bool("capture_args", req.CaptureArgs),
	)
	return n, nil
}

// Chained is implemented by decorators that forward to another callable.
// The registrar walks Next to find its own wrapper below other layers.
type Chained interface {
	Next() typereg.Callable
}

// wrapLocked installs a wrapper on ov unless one of ours is already in its
// call chain, in which case only its options are updated. Registries that
// implement typereg.Updater get the read and the replacement as one step.
func (r *Registrar) wrapLocked(ov typereg.Overload, captureArgs bool) error {
	var (
		existing *Wrapper
		created  *Wrapper
	)
	install := func(current typereg.Callable) (typereg.Callable, error) {
		if existing = r.findOwn(ov, current); existing != nil {
			return nil, nil
		}
		created = newWrapper(r, ov, current, captureArgs)
		return created, nil
	}

	if u, ok := r.types.(typereg.Updater); ok {
		if err := u.UpdateImplementation(ov, install); err != nil {
			return fmt.Errorf("replace %s: %w", ov, err)
		}
	} else {
		current, err := r.types.Implementation(ov)
		if err != nil {
			return fmt.Errorf("implementation of %s: %w", ov, err)
		}
		if _, err := install(current); err != nil {
			return err
		}
		if created != nil {
			if err := r.types.ReplaceImplementation(ov, created); err != nil {
				return fmt.Errorf("replace %s: %w", ov, err)
			}
		}
	}

	if existing != nil {
		existing.captureArgs.Store(captureArgs)
		r.hooks[ov.String()] = existing
		r.logger.Debug("hook already installed, options updated",
			zap.String("overload", ov.String()),
			zap.Bool("capture_args", captureArgs),
		)
		return nil
	}
	r.hooks[ov.String()] = created
	r.installed.Add(1)
	return nil
}

// findOwn returns this registrar's wrapper in the chain starting at c. The
// walk passes through any Chained decorator. When it reaches a callable it
// cannot see through, the wrapper recorded for ov is assumed to still sit
// below it.
func (r *Registrar) findOwn(ov typereg.Overload, c typereg.Callable) *Wrapper {
	for c != nil {
		if w, ok := c.(*Wrapper); ok && w.reg == r {
			return w
		}
		ch, ok := c.(Chained)
		if !ok {
			break
		}
		c = ch.Next()
	}
	return r.hooks[ov.String()]
}

// emit hands ev to the reporter. Failures are counted and logged; they
// never reach the intercepted call.
func (r *Registrar) emit(ev *Event) {
	defer func() {
		if p := recover(); p != nil {
			r.emitErrors.Add(1)
			r.logger.Debug("reporter panicked", zap.Any("panic", p))
		}
	}()

	if err := r.reporter.Report(ev); err != nil {
		r.emitErrors.Add(1)
		r.logger.Debug("event dropped",
			zap.String("type", string(ev.Type)),
			zap.String("method", ev.Method()),
			zap.Error(err),
		)
		return
	}
	r.emitted.Add(1)
}

// Hooks lists installed hooks sorted by method then signature.
func (r *Registrar) Hooks() []HookInfo {
	r.mu.Lock()
	out := make([]HookInfo, 0, len(r.hooks))
	for _, w := range r.hooks {
		out = append(out, HookInfo{
			Method:      w.method,
			Signature:   w.signature,
			CaptureArgs: w.captureArgs.Load(),
			Installed:   w.installed,
			Calls:       w.calls.Load(),
		})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Method != out[j].Method {
			return out[i].Method < out[j].Method
		}
		return out[i].Signature < out[j].Signature
	})
	return out
}

// Enable turns event capture on. Wrappers start building and emitting
// events on their next call.
func (r *Registrar) Enable() {
	r.dormant.Store(false)
	r.logger.Info("hook capture enabled")
}

// Disable makes every wrapper a pass-through without removing it.
func (r *Registrar) Disable() {
	r.dormant.Store(true)
	r.logger.Info("hook capture disabled (dormant)")
}

// Enabled reports whether wrappers currently emit events.
func (r *Registrar) Enabled() bool {
	return !r.dormant.Load()
}

// Counters returns a snapshot of activity counters.
func (r *Registrar) Counters() Counters {
	return Counters{
		HooksInstalled: r.installed.Load(),
		HookFailures:   r.failures.Load(),
		EventsEmitted:  r.emitted.Load(),
		EmitErrors:     r.emitErrors.Load(),
	}
}
