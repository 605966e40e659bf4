// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// EventType is the value of the "type" field on the wire.
type EventType string

const (
	EventCapture    EventType = "captureInvocation"
	EventHookFailed EventType = "HookFailed"
)

// NoneValue stands in for nil arguments in ParamValues.
const NoneValue = "(none)"

// MaxEventSize is the largest encoded event accepted by the socket
// transport and the listener.
const MaxEventSize = 64 * 1024

// Event is one message on the reporting channel.
//
// Callee is [method, signature]. For captures the signature is that of the
// intercepted overload; for HookFailed it is the requested filter, or ""
// when none was given.
type Event struct {
	Type        EventType `json:"type"`
	Callee      [2]string `json:"callee"`
	ParamValues []string  `json:"paramValues,omitempty"`
}

// Method returns the qualified method name.
func (e *Event) Method() string { return e.Callee[0] }

// Signature returns the overload signature or requested filter.
func (e *Event) Signature() string { return e.Callee[1] }

// EncodeEvent serializes an event as a single JSON object.
func EncodeEvent(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if len(b) > MaxEventSize {
		return nil, fmt.Errorf("encode event: %d bytes exceeds max %d", len(b), MaxEventSize)
	}
	return b, nil
}

// DecodeEvent parses one JSON event and checks its type.
func DecodeEvent(buf []byte) (*Event, error) {
	if len(buf) > MaxEventSize {
		return nil, fmt.Errorf("event too large: %d > %d", len(buf), MaxEventSize)
	}
	var e Event
	if err := json.Unmarshal(buf, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	switch e.Type {
	case EventCapture, EventHookFailed:
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}

// FormatArg stringifies one argument. Nil values, including typed nil
// pointers, maps, slices, channels and funcs, become NoneValue. A String or
// Error method that panics yields a "%!v(PANIC=...)" placeholder, the way
// fmt reports it, and never unwinds the caller.
func FormatArg(v any) (s string) {
	if isNil(v) {
		return NoneValue
	}
	defer func() {
		if p := recover(); p != nil {
			s = fmt.Sprintf("%%!v(PANIC=%T: %v)", v, p)
		}
	}()
	switch x := v.(type) {
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	case error:
		return x.Error()
	}
	return fmt.Sprint(v)
}

// FormatArgs stringifies every argument in order.
func FormatArgs(args []any) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = FormatArg(a)
	}
	return out
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}
