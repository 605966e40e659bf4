// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestListenerDispatch(t *testing.T) {
	var captured, failed *Event

	l := &Listener{
		callbacks: Callbacks{
			OnCapture:    func(ev *Event) { captured = ev },
			OnHookFailed: func(ev *Event) { failed = ev },
		},
	}

	l.dispatch(&Event{Type: EventCapture, Callee: [2]string{"a.B.c", "int"}})
	l.dispatch(&Event{Type: EventHookFailed, Callee: [2]string{"a.B.x", ""}})

	if captured == nil || captured.Method() != "a.B.c" {
		t.Errorf("OnCapture got %+v", captured)
	}
	if failed == nil || failed.Method() != "a.B.x" {
		t.Errorf("OnHookFailed got %+v", failed)
	}
}

func TestListenerDispatchNilCallbacks(t *testing.T) {
	l := &Listener{}
	// Should not panic
	l.dispatch(&Event{Type: EventCapture})
	l.dispatch(&Event{Type: EventHookFailed})
}

func TestListenerReceivesDatagrams(t *testing.T) {
	dir, err := os.MkdirTemp("", "hook")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "events.sock")

	got := make(chan *Event, 4)
	l := NewListener(sock, Callbacks{
		OnCapture:    func(ev *Event) { got <- ev },
		OnHookFailed: func(ev *Event) { got <- ev },
	}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	conn, err := net.DialUnix("unixgram", nil, &net.UnixAddr{Name: sock, Net: "unixgram"})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.Write([]byte("garbage"))
	b, _ := EncodeEvent(&Event{Type: EventCapture, Callee: [2]string{"a.B.c", "int"}, ParamValues: []string{"7"}})
	if _, err := conn.Write(b); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-got:
		if ev.Method() != "a.B.c" || len(ev.ParamValues) != 1 || ev.ParamValues[0] != "7" {
			t.Errorf("received %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestListenerHandleByCallee(t *testing.T) {
	var all, oneOverload, byType []*Event

	l := &Listener{callbacks: Callbacks{OnCapture: func(ev *Event) { byType = append(byType, ev) }}}
	l.Handle("a.B.run", nil, func(ev *Event) { all = append(all, ev) })
	l.Handle(" a.B.run ", OverloadFilter("int, java.lang.String"), func(ev *Event) { oneOverload = append(oneOverload, ev) })

	l.dispatch(&Event{Type: EventCapture, Callee: [2]string{"a.B.run", "int"}})
	l.dispatch(&Event{Type: EventCapture, Callee: [2]string{"a.B.run", "int,java.lang.String"}})
	l.dispatch(&Event{Type: EventCapture, Callee: [2]string{"a.B.stop", "int"}})
	l.dispatch(&Event{Type: EventHookFailed, Callee: [2]string{"a.B.run", "int,java.lang.String"}})

	if len(all) != 3 {
		t.Errorf("method handler got %d events, want 3", len(all))
	}
	if len(oneOverload) != 2 || oneOverload[1].Type != EventHookFailed {
		t.Errorf("overload handler got %+v", oneOverload)
	}
	if len(byType) != 3 {
		t.Errorf("OnCapture got %d events, want 3", len(byType))
	}
}

func TestListenerStopTwice(t *testing.T) {
	dir, err := os.MkdirTemp("", "hook")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	l := NewListener(filepath.Join(dir, "events.sock"), Callbacks{}, zap.NewNop())
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Stop()
	// Should not panic
	l.Stop()
}

func TestListenerExitsOnContextCancel(t *testing.T) {
	dir, err := os.MkdirTemp("", "hook")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	l := NewListener(filepath.Join(dir, "events.sock"), Callbacks{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer l.Stop()

	cancel()
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readers still blocked after context cancel")
	}
}
