// Copyright 2024-2026 Madhukar Beema. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

// Package redact scrubs sensitive substrings from captured argument values
// before events leave the process.
package redact

import (
	"fmt"
	"regexp"

	"github.com/mbeema/ollyhook/pkg/config"
	"github.com/mbeema/ollyhook/pkg/hook"
)

// Rule defines a single redaction pattern.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// Redactor applies a set of redaction rules to argument values.
type Redactor struct {
	rules []Rule
}

// New creates a Redactor with the built-in rules followed by extraRules.
func New(extraRules []Rule) *Redactor {
	rules := builtinRules()
	rules = append(rules, extraRules...)
	return &Redactor{rules: rules}
}

// FromConfig compiles the configured rules. It returns nil when redaction
// is disabled.
func FromConfig(cfg *config.RedactionConfig) (*Redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	extra := make([]Rule, 0, len(cfg.Rules))
	for _, r := range cfg.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redaction rule %s: %w", r.Name, err)
		}
		repl := r.Replacement
		if repl == "" {
			repl = "[REDACTED]"
		}
		extra = append(extra, Rule{Name: r.Name, Pattern: re, Replacement: repl})
	}
	return New(extra), nil
}

// Redact applies all rules to the input string and returns the redacted result.
func (r *Redactor) Redact(input string) string {
	result := input
	for _, rule := range r.rules {
		result = rule.Pattern.ReplaceAllString(result, rule.Replacement)
	}
	return result
}

// RedactEvent returns ev with its argument values redacted. ev is never
// modified; an unchanged event is returned as is.
func (r *Redactor) RedactEvent(ev *hook.Event) *hook.Event {
	if len(ev.ParamValues) == 0 {
		return ev
	}

	var values []string
	for i, v := range ev.ParamValues {
		if v == hook.NoneValue {
			continue
		}
		red := r.Redact(v)
		if red == v {
			continue
		}
		if values == nil {
			values = append([]string(nil), ev.ParamValues...)
		}
		values[i] = red
	}
	if values == nil {
		return ev
	}

	out := *ev
	out.ParamValues = values
	return &out
}

// Reporter returns a reporter that redacts events before handing them to next.
func (r *Redactor) Reporter(next hook.Reporter) hook.Reporter {
	return hook.ReporterFunc(func(ev *hook.Event) error {
		return next.Report(r.RedactEvent(ev))
	})
}

func builtinRules() []Rule {
	return []Rule{
		{
			Name:        "credit_card",
			Pattern:     regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
			Replacement: "[REDACTED_CC]",
		},
		{
			Name:        "ssn",
			Pattern:     regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
			Replacement: "[REDACTED_SSN]",
		},
		{
			Name:        "authorization_header",
			Pattern:     regexp.MustCompile(`(?i)(authorization\s*[:=]\s*)\S+(\s+\S+)?`),
			Replacement: "${1}[REDACTED]",
		},
		{
			Name:        "password_param",
			Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd|secret|token|api_key|apikey)\s*[=:]\s*['"]?[^\s&,;'"]+`),
			Replacement: "${1}=[REDACTED]",
		},
		{
			Name:        "bearer_token",
			Pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]+=*`),
			Replacement: "Bearer [REDACTED]",
		},
	}
}
