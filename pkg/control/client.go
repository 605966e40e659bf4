// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbeema/ollyhook/pkg/hook"
)

// Client talks to a running agent's control API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the agent at addr ("host:port" or a URL).
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// HookMethod asks the agent to hook methodName. A target that does not
// exist yields a response with Installed 0 and Error set, not an error.
func (c *Client) HookMethod(ctx context.Context, methodName string, overloadFilter *string, printArgs bool) (HookResponse, error) {
	var resp HookResponse
	err := c.do(ctx, http.MethodPost, "/v1/hooks", HookRequest{
		Method:    methodName,
		Overload:  overloadFilter,
		PrintArgs: printArgs,
	}, &resp)
	return resp, err
}

// Hooks lists installed hooks, optionally only those of method.
func (c *Client) Hooks(ctx context.Context, method string) ([]hook.HookInfo, error) {
	path := "/v1/hooks"
	if method != "" {
		path += "/" + url.PathEscape(method)
	}
	var hooks []hook.HookInfo
	err := c.do(ctx, http.MethodGet, path, nil, &hooks)
	return hooks, err
}

// SetTracing enables or disables event emission.
func (c *Client) SetTracing(ctx context.Context, enabled bool) (TracingStatus, error) {
	path := "/v1/tracing/disable"
	if enabled {
		path = "/v1/tracing/enable"
	}
	var st TracingStatus
	err := c.do(ctx, http.MethodPost, path, nil, &st)
	return st, err
}

// Tracing returns the current tracing state.
func (c *Client) Tracing(ctx context.Context) (TracingStatus, error) {
	var st TracingStatus
	err := c.do(ctx, http.MethodGet, "/v1/tracing", nil, &st)
	return st, err
}

// Health is the agent's /health payload.
type Health struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	SessionID string `json:"session_id"`
	Uptime    string `json:"uptime"`
}

// Health fetches the agent's health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h)
	return h, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var er errorResponse
		if json.NewDecoder(resp.Body).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, er.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
