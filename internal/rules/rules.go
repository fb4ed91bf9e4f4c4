package rules

import (
	"encoding/json"
	"maps"
	"math"
	"strconv"
)

// Predicate decides whether input satisfies a rule under the given params.
// Predicates must be pure: no I/O, no shared state, same answer every call.
type Predicate func(input string, p Params) bool

// Rule is a named predicate.
type Rule struct {
	ID       string
	Validate Predicate

	// DisplayHint is shown to players as a clue. Never executed.
	DisplayHint string
}

// Params holds rule parameters keyed by name.
//
// Params travel through JSON (local storage and the remote document), so
// numeric values may arrive as int, int64, float64 or json.Number. Use the
// typed accessors instead of asserting types directly.
type Params map[string]any

// Int returns the integer value for key, or def when the key is missing,
// zero, or not numeric.
func (p Params) Int(key string, def int) int {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	var n int
	switch val := v.(type) {
	case int:
		n = val
	case int64:
		n = int(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return def
		}
		n = int(val)
	case json.Number:
		i, err := val.Int64()
		if err != nil {
			f, ferr := val.Float64()
			if ferr != nil {
				return def
			}
			i = int64(f)
		}
		n = int(i)
	case string:
		i, err := strconv.Atoi(val)
		if err != nil {
			return def
		}
		n = i
	default:
		return def
	}
	if n == 0 {
		return def
	}
	return n
}

// String returns the string value for key, or def when missing or empty.
func (p Params) String(key string, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return def
	}
	return s
}

// Merge returns a new Params with overrides applied on top of p.
// Neither input is modified.
func (p Params) Merge(overrides Params) Params {
	out := make(Params, len(p)+len(overrides))
	maps.Copy(out, p)
	maps.Copy(out, overrides)
	return out
}

// Clone returns a shallow copy. Nil stays nil.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	return maps.Clone(p)
}
