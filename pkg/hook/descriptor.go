// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package hook

import (
	"fmt"
	"strings"
)

// primitiveNames maps JVM primitive type codes to their source names.
var primitiveNames = map[byte]string{
	'Z': "boolean",
	'B': "byte",
	'C': "char",
	'S': "short",
	'I': "int",
	'J': "long",
	'F': "float",
	'D': "double",
}

// MethodRef identifies a method the way static analysis output does: a
// class descriptor, a member name and a JVM method descriptor.
type MethodRef struct {
	Class      string // e.g. "Lcom/google/progress/WifiCheckTask;"
	Name       string
	Descriptor string // e.g. "(Ljava/lang/String;)Z"
}

// ParseMethodRef parses the smali form "Lpkg/Cls;->name(params)ret".
func ParseMethodRef(s string) (MethodRef, error) {
	s = strings.TrimSpace(s)
	cls, rest, ok := strings.Cut(s, "->")
	if !ok {
		return MethodRef{}, fmt.Errorf("%q: missing \"->\": %w", s, ErrMalformedRequest)
	}
	i := strings.IndexByte(rest, '(')
	if i <= 0 {
		return MethodRef{}, fmt.Errorf("%q: missing descriptor: %w", s, ErrMalformedRequest)
	}
	return MethodRef{Class: cls, Name: rest[:i], Descriptor: rest[i:]}, nil
}

// QualifiedName returns "pkg.Cls.name".
func (m MethodRef) QualifiedName() (string, error) {
	cls, err := ClassName(m.Class)
	if err != nil {
		return "", err
	}
	return cls + "." + m.Name, nil
}

// Request builds a hook request restricted to the overload the descriptor
// names.
func (m MethodRef) Request(captureArgs bool) (Request, error) {
	method, err := m.QualifiedName()
	if err != nil {
		return Request{}, err
	}
	filter, err := DescriptorFilter(m.Descriptor)
	if err != nil {
		return Request{}, err
	}
	return Request{Method: method, Overload: &filter, CaptureArgs: captureArgs}, nil
}

// ClassName converts "Lcom/example/Task;" to "com.example.Task". Names
// already in dotted form are returned unchanged.
func ClassName(desc string) (string, error) {
	if !strings.HasPrefix(desc, "L") || !strings.HasSuffix(desc, ";") {
		if strings.ContainsAny(desc, "/;[") || desc == "" {
			return "", fmt.Errorf("class descriptor %q: %w", desc, ErrMalformedRequest)
		}
		return desc, nil
	}
	return strings.ReplaceAll(desc[1:len(desc)-1], "/", "."), nil
}

// DescriptorFilter converts the parameter list of a JVM method descriptor
// into an overload filter: "(Ljava/lang/String;I)Z" becomes
// "java.lang.String,int". Array parameters keep their JVM spelling with
// dots, e.g. "[I" or "[Ljava.lang.String;".
func DescriptorFilter(desc string) (string, error) {
	desc = strings.TrimSpace(desc)
	if !strings.HasPrefix(desc, "(") {
		return "", fmt.Errorf("descriptor %q: %w", desc, ErrMalformedRequest)
	}
	end := strings.IndexByte(desc, ')')
	if end < 0 {
		return "", fmt.Errorf("descriptor %q: unterminated parameter list: %w", desc, ErrMalformedRequest)
	}

	var params []string
	p := desc[1:end]
	for len(p) > 0 {
		name, n, err := paramType(p)
		if err != nil {
			return "", fmt.Errorf("descriptor %q: %w", desc, err)
		}
		params = append(params, name)
		p = p[n:]
	}
	return strings.Join(params, ","), nil
}

// paramType decodes the first type in p and returns its name and length.
func paramType(p string) (string, int, error) {
	dims := 0
	for dims < len(p) && p[dims] == '[' {
		dims++
	}
	if dims == len(p) {
		return "", 0, fmt.Errorf("truncated type %q: %w", p, ErrMalformedRequest)
	}

	c := p[dims]
	switch {
	case c == 'L':
		semi := strings.IndexByte(p[dims:], ';')
		if semi < 0 {
			return "", 0, fmt.Errorf("unterminated class type %q: %w", p, ErrMalformedRequest)
		}
		n := dims + semi + 1
		if dims > 0 {
			return strings.ReplaceAll(p[:n], "/", "."), n, nil
		}
		return strings.ReplaceAll(p[1:n-1], "/", "."), n, nil
	case primitiveNames[c] != "":
		if dims > 0 {
			return p[:dims+1], dims + 1, nil
		}
		return primitiveNames[c], 1, nil
	default:
		return "", 0, fmt.Errorf("unknown type code %q: %w", c, ErrMalformedRequest)
	}
}
