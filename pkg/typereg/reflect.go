// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package typereg

import (
	"fmt"
	"reflect"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// Reflect is a TypeRegistry over ordinary Go types. Each exported method
// of a registered type becomes a member with a single overload whose
// parameter names come from reflect.Type.String (e.g. "int", "string",
// "[]uint8").
type Reflect struct {
	*Memory
}

// NewReflect creates an empty reflection-backed registry.
func NewReflect() *Reflect {
	return &Reflect{Memory: NewMemory()}
}

// RegisterType exposes the exported methods of sample's type under owner.
// Pass a pointer to register pointer-receiver methods.
func (r *Reflect) RegisterType(owner string, sample any) (int, error) {
	t := reflect.TypeOf(sample)
	if t == nil {
		return 0, fmt.Errorf("register %s: nil sample", owner)
	}
	if t.NumMethod() == 0 {
		return 0, fmt.Errorf("register %s: %s has no exported methods", owner, t)
	}

	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		params := make([]string, 0, m.Type.NumIn()-1)
		for j := 1; j < m.Type.NumIn(); j++ {
			params = append(params, m.Type.In(j).String())
		}
		r.Define(owner, m.Name, params, reflectCallable(t, m))
	}
	return t.NumMethod(), nil
}

func reflectCallable(recvType reflect.Type, m reflect.Method) Callable {
	fn := m.Func
	ft := m.Type
	return CallableFunc(func(receiver any, args []any) (any, error) {
		rv := reflect.ValueOf(receiver)
		if !rv.IsValid() || !rv.Type().AssignableTo(recvType) {
			return nil, fmt.Errorf("%s: receiver %T is not %s", m.Name, receiver, recvType)
		}
		if len(args) != ft.NumIn()-1 {
			return nil, fmt.Errorf("%s: got %d, want %d: %w", m.Name, len(args), ft.NumIn()-1, ErrArity)
		}

		in := make([]reflect.Value, 0, ft.NumIn())
		in = append(in, rv)
		for i, a := range args {
			v, err := argValue(a, ft.In(i+1))
			if err != nil {
				return nil, fmt.Errorf("%s: argument %d: %w", m.Name, i, err)
			}
			in = append(in, v)
		}

		var out []reflect.Value
		if ft.IsVariadic() {
			out = fn.CallSlice(in)
		} else {
			out = fn.Call(in)
		}
		return splitResults(out, ft)
	})
}

// argValue converts a to the parameter type want. Besides plain
// assignment it only converts between types of the same kind (named
// types) and within one numeric family when the value fits; anything
// else, such as int to string or float to int, is an error.
func argValue(a any, want reflect.Type) (reflect.Value, error) {
	if a == nil {
		return reflect.Zero(want), nil
	}
	v := reflect.ValueOf(a)
	if v.Type().AssignableTo(want) {
		return v, nil
	}
	if !v.Type().ConvertibleTo(want) {
		return reflect.Value{}, fmt.Errorf("%T is not assignable to %s", a, want)
	}

	switch from, to := v.Kind(), want.Kind(); {
	case isSigned(from) && isSigned(to):
		if reflect.Zero(want).OverflowInt(v.Int()) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", a, want)
		}
	case isUnsigned(from) && isUnsigned(to):
		if reflect.Zero(want).OverflowUint(v.Uint()) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", a, want)
		}
	case isFloat(from) && isFloat(to):
		if reflect.Zero(want).OverflowFloat(v.Float()) {
			return reflect.Value{}, fmt.Errorf("%v overflows %s", a, want)
		}
	case from == to:
	default:
		return reflect.Value{}, fmt.Errorf("%T is not assignable to %s", a, want)
	}
	return v.Convert(want), nil
}

func isSigned(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Int64
}

func isUnsigned(k reflect.Kind) bool {
	return k >= reflect.Uint && k <= reflect.Uintptr
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// splitResults folds a trailing error output into the error return and
// collapses the remaining outputs into a single value.
func splitResults(out []reflect.Value, ft reflect.Type) (any, error) {
	var err error
	if n := ft.NumOut(); n > 0 && ft.Out(n-1) == errorType {
		if e := out[n-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
		out = out[:n-1]
	}

	switch len(out) {
	case 0:
		return nil, err
	case 1:
		return out[0].Interface(), err
	default:
		vals := make([]any, len(out))
		for i, v := range out {
			vals[i] = v.Interface()
		}
		return vals, err
	}
}
