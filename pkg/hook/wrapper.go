// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"sync/atomic"
	"time"

	"github.com/mbeema/ollyhook/pkg/typereg"
)

// Wrapper is the replacement implementation installed on a hooked
// overload. It owns an explicit reference to the next callable in the
// chain (normally the original implementation) and forwards every call to
// it unchanged.
type Wrapper struct {
	reg       *Registrar
	overload  typereg.Overload
	method    string
	signature string
	next      typereg.Callable
	installed time.Time

	captureArgs atomic.Bool
	calls       atomic.Int64
}

func newWrapper(reg *Registrar, ov typereg.Overload, next typereg.Callable, captureArgs bool) *Wrapper {
	w := &Wrapper{
		reg:       reg,
		overload:  ov,
		method:    ov.QualifiedName(),
		signature: ov.Signature(),
		next:      next,
		installed: time.Now(),
	}
	w.captureArgs.Store(captureArgs)
	return w
}

// Call implements typereg.Callable.
func (w *Wrapper) Call(receiver any, args []any) (any, error) {
	if w.reg.dormant.Load() {
		return w.next.Call(receiver, args)
	}

	ev := &Event{
		Type:   EventCapture,
		Callee: [2]string{w.method, w.signature},
	}
	// Stringified before the call; the implementation may mutate args.
	if w.captureArgs.Load() && len(w.overload.Params) > 0 {
		ev.ParamValues = FormatArgs(args)
	}

	ret, err := w.next.Call(receiver, args)

	w.calls.Add(1)
	w.reg.emit(ev)
	return ret, err
}

// Next returns the callable this wrapper forwards to.
func (w *Wrapper) Next() typereg.Callable {
	return w.next
}

// Overload returns the overload this wrapper is installed on.
func (w *Wrapper) Overload() typereg.Overload {
	return w.overload
}

// Calls returns how many invocations passed through this wrapper.
func (w *Wrapper) Calls() int64 {
	return w.calls.Load()
}
