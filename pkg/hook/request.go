// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHookNotFound means the owner type or member does not exist.
	ErrHookNotFound = errors.New("hook not found")
	// ErrMalformedRequest means the method name has no owner/member separator.
	ErrMalformedRequest = errors.New("malformed hook request")
)

// Request asks the registrar to hook a method.
type Request struct {
	// Method is the fully-qualified name, e.g. "com.example.Task.run".
	Method string `json:"method" yaml:"method"`
	// Overload restricts hooking to one parameter-type signature such as
	// "int,java.lang.String". Nil hooks every overload.
	Overload *string `json:"overload,omitempty" yaml:"overload,omitempty"`
	// CaptureArgs records stringified argument values in each event.
	CaptureArgs bool `json:"printArgs" yaml:"capture_args"`
}

// OverloadFilter returns a filter pointer for use in Request.Overload.
func OverloadFilter(sig string) *string {
	return &sig
}

// FilterString returns the overload filter, or "" when every overload matches.
func (r Request) FilterString() string {
	if r.Overload == nil {
		return ""
	}
	return normalizeSignature(*r.Overload)
}

// ParseMethod splits a qualified method name at its last '.' into owner
// type and member name.
func ParseMethod(method string) (owner, member string, err error) {
	method = strings.TrimSpace(method)
	i := strings.LastIndexByte(method, '.')
	if i <= 0 || i == len(method)-1 {
		return "", "", fmt.Errorf("%q: %w", method, ErrMalformedRequest)
	}
	return method[:i], method[i+1:], nil
}

// normalizeSignature drops whitespace around the ',' separators so that
// "int, java.lang.String" matches "int,java.lang.String".
func normalizeSignature(sig string) string {
	if !strings.ContainsAny(sig, " \t") {
		return sig
	}
	parts := strings.Split(sig, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return strings.Join(parts, ",")
}
