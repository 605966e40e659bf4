// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/mbeema/ollyhook/pkg/control"
	"github.com/mbeema/ollyhook/pkg/hook"
	"github.com/mbeema/ollyhook/pkg/report"
	"github.com/mbeema/ollyhook/pkg/typereg"
	"go.uber.org/zap"
)

const task = "com.google.progress.WifiCheckTask"

func newTestAgent(t *testing.T) (string, *hook.Registrar) {
	t.Helper()
	types := typereg.NewMemory()
	types.DefineFunc(task, "check", []string{"int"}, func(_ any, args []any) (any, error) { return args[0], nil })
	types.DefineFunc(task, "check", []string{"int", "java.lang.String"}, func(_ any, args []any) (any, error) { return args[1], nil })

	reg := hook.NewRegistrar(types, hook.ReporterFunc(func(*hook.Event) error { return nil }), zap.NewNop())
	r := mux.NewRouter()
	control.NewAPI(reg, zap.NewNop()).Mount(r)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","version":"test","session_id":"s-1","uptime":"1s"}`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL, reg
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHookCommand(t *testing.T) {
	addr, reg := newTestAgent(t)

	out, err := run(t, addr, "hook", task+".check", "--overload", "int, java.lang.String", "--print-args")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if !strings.Contains(out, "hooked 1 overload(s)") {
		t.Errorf("output = %q", out)
	}

	hooks := reg.Hooks()
	if len(hooks) != 1 || !hooks[0].CaptureArgs {
		t.Errorf("hooks = %+v", hooks)
	}
}

func TestHookCommandNotFound(t *testing.T) {
	addr, _ := newTestAgent(t)

	_, err := run(t, addr, "hook", task+".missing")
	if !errors.Is(err, errHookNotFound) {
		t.Errorf("err = %v, want errHookNotFound", err)
	}
}

func TestHookCommandDescriptor(t *testing.T) {
	addr, reg := newTestAgent(t)

	out, err := run(t, addr, "hook", task+".check", "--descriptor", "(ILjava/lang/String;)Z")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if !strings.Contains(out, "hooked 1 overload(s)") {
		t.Errorf("output = %q", out)
	}
	hooks := reg.Hooks()
	if len(hooks) != 1 || hooks[0].Signature != "int,java.lang.String" {
		t.Errorf("hooks = %+v", hooks)
	}
}

func TestHookCommandSmaliReference(t *testing.T) {
	addr, reg := newTestAgent(t)

	out, err := run(t, addr, "hook", "Lcom/google/progress/WifiCheckTask;->check(I)I", "--print-args")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if !strings.Contains(out, "hooked 1 overload(s) of "+task+".check") {
		t.Errorf("output = %q", out)
	}
	hooks := reg.Hooks()
	if len(hooks) != 1 || hooks[0].Signature != "int" || !hooks[0].CaptureArgs {
		t.Errorf("hooks = %+v", hooks)
	}

	if _, err := run(t, addr, "hook", "Lcom/google/progress/WifiCheckTask;->check(I)I", "--overload", "int"); err == nil {
		t.Error("expected error combining a smali reference with --overload")
	}
	if _, err := run(t, addr, "hook", task+".check", "--descriptor", "(Q)V"); !errors.Is(err, hook.ErrMalformedRequest) {
		t.Errorf("bad descriptor err = %v", err)
	}
}

func TestHookCommandNoMatch(t *testing.T) {
	addr, _ := newTestAgent(t)

	out, err := run(t, addr, "hook", task+".check", "--overload", "long")
	if err != nil {
		t.Fatalf("hook: %v", err)
	}
	if !strings.Contains(out, "no overload") {
		t.Errorf("output = %q", out)
	}
}

func TestHooksAndStatusCommands(t *testing.T) {
	addr, reg := newTestAgent(t)
	if _, err := reg.HookMethod(task+".check", nil, false); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, addr, "hooks")
	if err != nil {
		t.Fatalf("hooks: %v", err)
	}
	if strings.Count(out, task+".check") != 2 {
		t.Errorf("hooks output = %q", out)
	}

	out, err = run(t, addr, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, want := range []string{"Session:  s-1", "Tracing:  ACTIVE", "Hooks:    2"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q: %s", want, out)
		}
	}
}

func TestTracingCommands(t *testing.T) {
	addr, reg := newTestAgent(t)

	if _, err := run(t, addr, "tracing", "disable"); err != nil {
		t.Fatal(err)
	}
	if reg.Enabled() {
		t.Error("registrar should be dormant")
	}
	out, _ := run(t, addr, "tracing", "status")
	if strings.TrimSpace(out) != "DORMANT" {
		t.Errorf("status = %q", out)
	}

	if _, err := run(t, addr, "tracing", "enable"); err != nil {
		t.Fatal(err)
	}
	if !reg.Enabled() {
		t.Error("registrar should be enabled")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestListenPrintsEvents(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctl")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "ev.sock")

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- listen(ctx, sock, nil, report.NewStream(out, "text"), zap.NewNop()) }()

	sender := report.NewSocket(sock, zap.NewNop())
	defer sender.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener socket never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := sender.Report(&hook.Event{Type: hook.EventCapture, Callee: [2]string{task + ".check", "int"}, ParamValues: []string{"1"}}); err != nil {
		t.Fatalf("Report: %v", err)
	}
	for !strings.Contains(out.String(), "[CAPTURE] "+task+".check(int)") {
		if time.Now().After(deadline) {
			t.Fatalf("no event printed, output %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("listen: %v", err)
	}
}

func TestListenOnlyMethod(t *testing.T) {
	dir, err := os.MkdirTemp("", "ctl")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "ev.sock")

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	only := &methodFilter{method: task + ".check", overload: hook.OverloadFilter("int")}
	go func() { done <- listen(ctx, sock, only, report.NewStream(out, "text"), zap.NewNop()) }()

	sender := report.NewSocket(sock, zap.NewNop())
	defer sender.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := os.Stat(sock); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("listener socket never bound")
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, ev := range []*hook.Event{
		{Type: hook.EventCapture, Callee: [2]string{task + ".other", "int"}},
		{Type: hook.EventCapture, Callee: [2]string{task + ".check", "int,java.lang.String"}},
		{Type: hook.EventCapture, Callee: [2]string{task + ".check", "int"}},
	} {
		if err := sender.Report(ev); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}
	for !strings.Contains(out.String(), task+".check(int)") {
		if time.Now().After(deadline) {
			t.Fatalf("no event printed, output %q", out.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	if err := <-done; err != nil {
		t.Errorf("listen: %v", err)
	}
	if got := out.String(); strings.Contains(got, ".other") || strings.Contains(got, "java.lang.String") {
		t.Errorf("unrelated events printed: %q", got)
	}
}
