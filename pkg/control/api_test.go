// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/mbeema/ollyhook/pkg/hook"
	"github.com/mbeema/ollyhook/pkg/typereg"
	"go.uber.org/zap"
)

const owner = "com.google.progress.WifiCheckTask"

type sink struct {
	mu     sync.Mutex
	events []*hook.Event
}

func (s *sink) Report(ev *hook.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestAPI(t *testing.T) (*mux.Router, *hook.Registrar, *typereg.Memory, *sink) {
	t.Helper()
	types := typereg.NewMemory()
	types.DefineFunc(owner, "check", []string{"int"}, func(_ any, args []any) (any, error) {
		return args[0], nil
	})
	types.DefineFunc(owner, "check", []string{"int", "java.lang.String"}, func(_ any, args []any) (any, error) {
		return args[1], nil
	})

	s := &sink{}
	reg := hook.NewRegistrar(types, s, zap.NewNop())
	r := mux.NewRouter()
	NewAPI(reg, zap.NewNop()).Mount(r)
	return r, reg, types, s
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInstallHook(t *testing.T) {
	r, _, types, s := newTestAPI(t)

	w := do(r, "POST", "/v1/hooks", `{"method":"`+owner+`.check","overload":null,"printArgs":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var resp HookResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Installed != 2 || resp.Error != "" {
		t.Fatalf("resp = %+v, want 2 installed", resp)
	}

	ov := typereg.Overload{Owner: owner, Name: "check", Params: []string{"int"}}
	if _, err := types.Invoke(ov, nil, []any{7}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if s.count() != 1 {
		t.Errorf("events = %d, want 1", s.count())
	}
}

func TestInstallHookWithOverloadFilter(t *testing.T) {
	r, _, _, _ := newTestAPI(t)

	w := do(r, "POST", "/v1/hooks", `{"method":"`+owner+`.check","overload":"int, java.lang.String"}`)
	var resp HookResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if w.Code != http.StatusOK || resp.Installed != 1 {
		t.Fatalf("status = %d resp = %+v", w.Code, resp)
	}
}

func TestInstallHookNotFound(t *testing.T) {
	r, _, _, s := newTestAPI(t)

	w := do(r, "POST", "/v1/hooks", `{"method":"`+owner+`.missing"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HookResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Installed != 0 || resp.Error != "hook not found" {
		t.Errorf("resp = %+v", resp)
	}
	if s.count() != 1 {
		t.Errorf("HookFailed events = %d, want 1", s.count())
	}
}

func TestInstallHookBadRequests(t *testing.T) {
	r, _, _, _ := newTestAPI(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"method":`},
		{"no separator", `{"method":"check"}`},
		{"empty method", `{"method":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, "POST", "/v1/hooks", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestListHooks(t *testing.T) {
	r, reg, _, _ := newTestAPI(t)

	w := do(r, "GET", "/v1/hooks", "")
	if w.Code != http.StatusOK || strings.TrimSpace(w.Body.String()) != "[]" {
		t.Fatalf("empty list: status %d body %q", w.Code, w.Body.String())
	}

	if _, err := reg.HookMethod(owner+".check", hook.OverloadFilter("int"), false); err != nil {
		t.Fatal(err)
	}

	w = do(r, "GET", "/v1/hooks/"+owner+".check", "")
	var hooks []hook.HookInfo
	if err := json.Unmarshal(w.Body.Bytes(), &hooks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hooks) != 1 || hooks[0].Signature != "int" {
		t.Errorf("hooks = %+v", hooks)
	}

	w = do(r, "GET", "/v1/hooks/other.Type.m", "")
	json.Unmarshal(w.Body.Bytes(), &hooks)
	if len(hooks) != 0 {
		t.Errorf("filtered hooks = %+v, want none", hooks)
	}
}

func TestTracingSwitch(t *testing.T) {
	r, reg, _, _ := newTestAPI(t)

	w := do(r, "POST", "/v1/tracing/disable", "")
	if w.Code != http.StatusOK || reg.Enabled() {
		t.Fatalf("disable: status %d enabled %v", w.Code, reg.Enabled())
	}

	var st TracingStatus
	json.Unmarshal(do(r, "GET", "/v1/tracing", "").Body.Bytes(), &st)
	if st.Enabled {
		t.Error("status should report disabled")
	}

	do(r, "POST", "/v1/tracing/enable", "")
	if !reg.Enabled() {
		t.Error("registrar should be enabled")
	}
}

func TestClientRoundTrip(t *testing.T) {
	r, _, _, _ := newTestAPI(t)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Health{Status: "healthy", SessionID: "abc"})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	resp, err := c.HookMethod(ctx, owner+".check", nil, true)
	if err != nil || resp.Installed != 2 {
		t.Fatalf("HookMethod = %+v, %v", resp, err)
	}

	resp, err = c.HookMethod(ctx, owner+".nope", nil, false)
	if err != nil || resp.Error == "" {
		t.Fatalf("not-found HookMethod = %+v, %v", resp, err)
	}

	if _, err := c.HookMethod(ctx, "nodot", nil, false); err == nil {
		t.Error("malformed request should return an error")
	}

	hooks, err := c.Hooks(ctx, "")
	if err != nil || len(hooks) != 2 {
		t.Fatalf("Hooks = %d, %v", len(hooks), err)
	}

	st, err := c.SetTracing(ctx, false)
	if err != nil || st.Enabled {
		t.Fatalf("SetTracing = %+v, %v", st, err)
	}
	st, err = c.Tracing(ctx)
	if err != nil || st.Enabled {
		t.Fatalf("Tracing = %+v, %v", st, err)
	}

	h, err := c.Health(ctx)
	if err != nil || h.SessionID != "abc" {
		t.Fatalf("Health = %+v, %v", h, err)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	if got := NewClient("127.0.0.1:8787/").baseURL; got != "http://127.0.0.1:8787" {
		t.Errorf("baseURL = %q", got)
	}
	if got := NewClient("https://agent:1").baseURL; got != "https://agent:1" {
		t.Errorf("baseURL = %q", got)
	}
}
