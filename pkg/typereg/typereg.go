// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package typereg models the host runtime's introspection facility as a
// capability interface: look up a member by owner type and name, read and
// replace the implementation of one overload, and invoke it.
package typereg

import (
	"errors"
	"strings"
)

var (
	// ErrTypeNotFound means the owner type is not known to the registry.
	ErrTypeNotFound = errors.New("type not found")
	// ErrMemberNotFound means the owner type has no member with that name.
	ErrMemberNotFound = errors.New("member not found")
	// ErrOverloadNotFound means no overload of the member has that signature.
	ErrOverloadNotFound = errors.New("overload not found")
	// ErrArity means Invoke was given the wrong number of arguments.
	ErrArity = errors.New("wrong number of arguments")
)

// Callable is one implementation of an overload. The receiver is nil for
// static members.
type Callable interface {
	Call(receiver any, args []any) (any, error)
}

// CallableFunc adapts a plain function to Callable.
type CallableFunc func(receiver any, args []any) (any, error)

// Call implements Callable.
func (f CallableFunc) Call(receiver any, args []any) (any, error) {
	return f(receiver, args)
}

// Overload describes one concrete parameter-type signature of a member.
type Overload struct {
	Owner  string
	Name   string
	Params []string
}

// Signature joins the parameter type names with ",".
func (o Overload) Signature() string {
	return strings.Join(o.Params, ",")
}

// QualifiedName returns "Owner.Name".
func (o Overload) QualifiedName() string {
	return o.Owner + "." + o.Name
}

func (o Overload) String() string {
	return o.QualifiedName() + "(" + o.Signature() + ")"
}

// TypeRegistry is implemented by an adapter over the host runtime.
// All methods must be safe for concurrent use, and ReplaceImplementation
// must not disturb calls that already started against the previous
// implementation.
type TypeRegistry interface {
	// ResolveMember returns every overload of owner.name in declaration order.
	ResolveMember(owner, name string) ([]Overload, error)

	// Implementation returns the callable currently installed for ov.
	Implementation(ov Overload) (Callable, error)

	// ReplaceImplementation installs impl as the implementation of ov.
	ReplaceImplementation(ov Overload, impl Callable) error

	// Invoke calls the current implementation of ov.
	Invoke(ov Overload, receiver any, args []any) (any, error)
}

// Updater is implemented by registries that can read and replace an
// implementation as one step. fn receives the current implementation and
// returns its replacement, or nil to leave it in place; no other write to
// the same overload happens in between.
type Updater interface {
	UpdateImplementation(ov Overload, fn func(current Callable) (Callable, error)) error
}
