// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package typereg

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// slot holds the live implementation of one overload. Reads are lock-free;
// writes are serialized by mu.
type slot struct {
	overload Overload
	mu       sync.Mutex
	impl     atomic.Pointer[implBox]
}

func (s *slot) store(c Callable) {
	s.mu.Lock()
	s.impl.Store(&implBox{c: c})
	s.mu.Unlock()
}

// implBox lets atomic.Pointer carry an interface value.
type implBox struct {
	c Callable
}

type member struct {
	slots []*slot
}

// Memory is an in-memory TypeRegistry. Types and members are declared up
// front with Define; implementations can then be swapped at any time.
type Memory struct {
	mu    sync.RWMutex
	types map[string]map[string]*member
}

// NewMemory creates an empty registry.
func NewMemory() *Memory {
	return &Memory{types: make(map[string]map[string]*member)}
}

// Define declares an overload of owner.name with the given parameter types.
// Defining the same signature twice replaces its implementation.
func (m *Memory) Define(owner, name string, params []string, impl Callable) {
	m.mu.Lock()
	defer m.mu.Unlock()

	members, ok := m.types[owner]
	if !ok {
		members = make(map[string]*member)
		m.types[owner] = members
	}
	mb, ok := members[name]
	if !ok {
		mb = &member{}
		members[name] = mb
	}

	ov := Overload{Owner: owner, Name: name, Params: append([]string(nil), params...)}
	sig := ov.Signature()
	for _, s := range mb.slots {
		if s.overload.Signature() == sig {
			s.store(impl)
			return
		}
	}

	s := &slot{overload: ov}
	s.impl.Store(&implBox{c: impl})
	mb.slots = append(mb.slots, s)
}

// DefineFunc is Define for a plain function.
func (m *Memory) DefineFunc(owner, name string, params []string, fn func(receiver any, args []any) (any, error)) {
	m.Define(owner, name, params, CallableFunc(fn))
}

// ResolveMember implements TypeRegistry.
func (m *Memory) ResolveMember(owner, name string) ([]Overload, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.types[owner]
	if !ok {
		return nil, fmt.Errorf("%s: %w", owner, ErrTypeNotFound)
	}
	mb, ok := members[name]
	if !ok {
		return nil, fmt.Errorf("%s.%s: %w", owner, name, ErrMemberNotFound)
	}

	out := make([]Overload, 0, len(mb.slots))
	for _, s := range mb.slots {
		ov := s.overload
		ov.Params = append([]string(nil), ov.Params...)
		out = append(out, ov)
	}
	return out, nil
}

func (m *Memory) lookup(ov Overload) (*slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, ok := m.types[ov.Owner]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ov.Owner, ErrTypeNotFound)
	}
	mb, ok := members[ov.Name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", ov.QualifiedName(), ErrMemberNotFound)
	}
	sig := ov.Signature()
	for _, s := range mb.slots {
		if s.overload.Signature() == sig {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", ov, ErrOverloadNotFound)
}

// Implementation implements TypeRegistry.
func (m *Memory) Implementation(ov Overload) (Callable, error) {
	s, err := m.lookup(ov)
	if err != nil {
		return nil, err
	}
	return s.impl.Load().c, nil
}

// ReplaceImplementation implements TypeRegistry.
func (m *Memory) ReplaceImplementation(ov Overload, impl Callable) error {
	if impl == nil {
		return fmt.Errorf("replace %s: nil implementation", ov)
	}
	s, err := m.lookup(ov)
	if err != nil {
		return err
	}
	s.store(impl)
	return nil
}

// UpdateImplementation implements Updater.
func (m *Memory) UpdateImplementation(ov Overload, fn func(current Callable) (Callable, error)) error {
	s, err := m.lookup(ov)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.impl.Load().c)
	if err != nil {
		return err
	}
	if next != nil {
		s.impl.Store(&implBox{c: next})
	}
	return nil
}

// Invoke implements TypeRegistry.
func (m *Memory) Invoke(ov Overload, receiver any, args []any) (any, error) {
	s, err := m.lookup(ov)
	if err != nil {
		return nil, err
	}
	if len(args) != len(s.overload.Params) {
		return nil, fmt.Errorf("%s: got %d, want %d: %w", ov, len(args), len(s.overload.Params), ErrArity)
	}
	return s.impl.Load().c.Call(receiver, args)
}
