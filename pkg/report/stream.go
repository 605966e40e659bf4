// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package report implements the transports that carry hook events from
// intercepted calls to the external observer.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mbeema/ollyhook/pkg/hook"
)

// Stream writes events to an io.Writer, one per line. In "json" format
// each line is the wire JSON object; "text" is a human-readable summary for
// debugging.
type Stream struct {
	format string
	mu     sync.Mutex
	w      io.Writer
}

// NewStream creates a stream reporter. An empty format means "json".
func NewStream(w io.Writer, format string) *Stream {
	if format == "" {
		format = "json"
	}
	return &Stream{format: format, w: w}
}

// Report implements hook.Reporter.
func (s *Stream) Report(ev *hook.Event) error {
	var line []byte
	if s.format == "text" {
		line = []byte(formatText(ev))
	} else {
		b, err := hook.EncodeEvent(ev)
		if err != nil {
			return err
		}
		line = append(b, '\n')
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.w.Write(line)
	return err
}

func formatText(ev *hook.Event) string {
	switch ev.Type {
	case hook.EventHookFailed:
		return fmt.Sprintf("[HOOK-FAILED] %s(%s)\n", ev.Method(), ev.Signature())
	default:
		if ev.ParamValues == nil {
			return fmt.Sprintf("[CAPTURE] %s(%s)\n", ev.Method(), ev.Signature())
		}
		return fmt.Sprintf("[CAPTURE] %s(%s) args=[%s]\n",
			ev.Method(), ev.Signature(), strings.Join(ev.ParamValues, ", "))
	}
}

// Multi fans an event out to several reporters. Every reporter is tried;
// their errors are joined.
type Multi []hook.Reporter

// Report implements hook.Reporter.
func (m Multi) Report(ev *hook.Event) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
