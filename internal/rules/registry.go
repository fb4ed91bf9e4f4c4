package rules

import (
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Registry is a read-only lookup table of rules keyed by id.
//
// Thread-safety: a Registry is immutable after NewRegistry returns and is
// safe for concurrent use.
type Registry struct {
	rules  map[string]Rule
	logger *slog.Logger
}

// NewRegistry builds a registry from the given rules. A later rule with the
// same id overwrites an earlier one.
func NewRegistry(rs ...Rule) *Registry {
	r := &Registry{
		rules:  make(map[string]Rule, len(rs)),
		logger: slog.Default(),
	}
	for _, rule := range rs {
		r.rules[rule.ID] = rule
	}
	return r
}

// WithLogger returns a copy of the registry that logs through logger.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	if logger == nil {
		return r
	}
	return &Registry{rules: r.rules, logger: logger}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry of built-in rules.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry(builtin()...)
	})
	return defaultRegistry
}

// Lookup returns the rule registered under id.
func (r *Registry) Lookup(id string) (Rule, bool) {
	rule, ok := r.rules[id]
	return rule, ok
}

// IDs returns every registered rule id in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.rules))
	for id := range r.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate runs the rule named ruleID against input.
//
// Input is NFC-normalised first so that composed and decomposed forms of the
// same glyph count the same. An unknown rule id returns false.
func (r *Registry) Validate(ruleID, input string, params Params) bool {
	rule, ok := r.rules[ruleID]
	if !ok || rule.Validate == nil {
		r.logger.Warn("rule not found", "rule_id", ruleID)
		return false
	}
	if params == nil {
		params = Params{}
	}
	return rule.Validate(norm.NFC.String(input), params)
}
