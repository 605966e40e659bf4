// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package control exposes the registrar's hookMethod entry point and the
// tracing switch over HTTP, plus a client for the ollyhookctl CLI.
package control

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mbeema/ollyhook/pkg/hook"
	"go.uber.org/zap"
)

// maxBodyBytes bounds a hook request body.
const maxBodyBytes = 64 << 10

// Hooker is the registrar surface the API drives.
type Hooker interface {
	HookMethod(methodName string, overloadFilter *string, printArgs bool) (int, error)
	Hooks() []hook.HookInfo
	Enable()
	Disable()
	Enabled() bool
}

// HookRequest is the POST /v1/hooks body.
type HookRequest struct {
	Method    string  `json:"method"`
	Overload  *string `json:"overload"`
	PrintArgs bool    `json:"printArgs"`
}

// HookResponse reports how many overloads were hooked.
type HookResponse struct {
	Installed int    `json:"installed"`
	Error     string `json:"error,omitempty"`
}

// TracingStatus is the dormant switch state.
type TracingStatus struct {
	Enabled bool `json:"enabled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves control endpoints.
type API struct {
	hooker Hooker
	logger *zap.Logger
}

// NewAPI creates a control API over hooker.
func NewAPI(hooker Hooker, logger *zap.Logger) *API {
	return &API{hooker: hooker, logger: logger}
}

// Mount registers the control routes on r.
func (a *API) Mount(r *mux.Router) {
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/hooks", a.installHook).Methods(http.MethodPost)
	v1.HandleFunc("/hooks", a.listHooks).Methods(http.MethodGet)
	v1.HandleFunc("/hooks/{method}", a.listHooks).Methods(http.MethodGet)
	v1.HandleFunc("/tracing", a.tracingStatus).Methods(http.MethodGet)
	v1.HandleFunc("/tracing/enable", a.enableTracing).Methods(http.MethodPost)
	v1.HandleFunc("/tracing/disable", a.disableTracing).Methods(http.MethodPost)
}

func (a *API) installHook(w http.ResponseWriter, r *http.Request) {
	var req HookRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	n, err := a.hooker.HookMethod(req.Method, req.Overload, req.PrintArgs)
	switch {
	case err == nil:
		a.logger.Info("hook installed",
			zap.String("method", req.Method),
			zap.Int("overloads", n),
			zap.Bool("print_args", req.PrintArgs),
		)
		writeJSON(w, http.StatusOK, HookResponse{Installed: n})
	case errors.Is(err, hook.ErrHookNotFound):
		// Already reported to the observer as a HookFailed event.
		writeJSON(w, http.StatusOK, HookResponse{Error: hook.ErrHookNotFound.Error()})
	case errors.Is(err, hook.ErrMalformedRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		a.logger.Error("hook install failed", zap.String("method", req.Method), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

func (a *API) listHooks(w http.ResponseWriter, r *http.Request) {
	hooks := a.hooker.Hooks()
	if method := mux.Vars(r)["method"]; method != "" {
		filtered := hooks[:0:0]
		for _, h := range hooks {
			if h.Method == method {
				filtered = append(filtered, h)
			}
		}
		hooks = filtered
	}
	if hooks == nil {
		hooks = []hook.HookInfo{}
	}
	writeJSON(w, http.StatusOK, hooks)
}

func (a *API) tracingStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, TracingStatus{Enabled: a.hooker.Enabled()})
}

func (a *API) enableTracing(w http.ResponseWriter, _ *http.Request) {
	a.hooker.Enable()
	a.logger.Info("tracing enabled")
	writeJSON(w, http.StatusOK, TracingStatus{Enabled: true})
}

func (a *API) disableTracing(w http.ResponseWriter, _ *http.Request) {
	a.hooker.Disable()
	a.logger.Info("tracing disabled, hooks dormant")
	writeJSON(w, http.StatusOK, TracingStatus{Enabled: false})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
