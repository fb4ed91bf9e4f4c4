// Package catalog holds the static task definitions, grouped by tier.
//
// Definitions are authored in an embedded CUE document whose #Definition
// schema is checked when the catalog is compiled. The catalog is read-only
// once loaded.
package catalog

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/porta/internal/rules"
)

//go:embed catalog.cue
var embedded []byte

// Tier groups definitions by difficulty.
type Tier string

const (
	Basic        Tier = "basic"
	Intermediate Tier = "intermediate"
	Advanced     Tier = "advanced"
)

// Tiers lists every tier in catalog order.
var Tiers = []Tier{Basic, Intermediate, Advanced}

// Definition is a task template. DescriptionTemplate may contain {name}
// placeholders filled from params when a task is instantiated.
type Definition struct {
	ID                  string
	RuleID              string
	DescriptionTemplate string
	DefaultParams       rules.Params
}

// Catalog is an immutable set of definitions.
type Catalog struct {
	tiers map[Tier][]Definition
}

// LoadError reports a problem in the catalog source with its position.
type LoadError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the embedded catalog checked against the default rule
// registry. It panics if the embedded source is invalid, which the package
// tests rule out.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Load(embedded, "catalog.cue", rules.Default())
		if err != nil {
			panic(fmt.Sprintf("catalog: embedded catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// Load compiles a CUE catalog source. Every definition must reference a
// rule known to reg, and ids must be unique across tiers.
func Load(src []byte, filename string, reg *rules.Registry) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	c := &Catalog{tiers: make(map[Tier][]Definition, len(Tiers))}
	seen := make(map[string]bool)

	for _, tier := range Tiers {
		tierVal := v.LookupPath(cue.ParsePath("tiers." + string(tier)))
		if !tierVal.Exists() {
			return nil, &LoadError{Field: "tiers." + string(tier), Message: "tier is required", Pos: v.Pos()}
		}
		iter, err := tierVal.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			def, err := parseDefinition(iter.Value())
			if err != nil {
				return nil, err
			}
			if seen[def.ID] {
				return nil, &LoadError{Field: "id", Message: fmt.Sprintf("duplicate definition %q", def.ID), Pos: iter.Value().Pos()}
			}
			if reg != nil {
				if _, ok := reg.Lookup(def.RuleID); !ok {
					return nil, &LoadError{Field: "ruleId", Message: fmt.Sprintf("unknown rule %q in %s", def.RuleID, def.ID), Pos: iter.Value().Pos()}
				}
			}
			seen[def.ID] = true
			c.tiers[tier] = append(c.tiers[tier], def)
		}
	}
	return c, nil
}

func parseDefinition(v cue.Value) (Definition, error) {
	var def Definition
	var err error

	if def.ID, err = v.LookupPath(cue.ParsePath("id")).String(); err != nil {
		return def, formatCUEError(err)
	}
	if def.RuleID, err = v.LookupPath(cue.ParsePath("ruleId")).String(); err != nil {
		return def, formatCUEError(err)
	}
	if def.DescriptionTemplate, err = v.LookupPath(cue.ParsePath("descriptionTemplate")).String(); err != nil {
		return def, formatCUEError(err)
	}

	paramsVal := v.LookupPath(cue.ParsePath("params"))
	if !paramsVal.Exists() {
		return def, nil
	}
	iter, err := paramsVal.Fields()
	if err != nil {
		return def, formatCUEError(err)
	}
	def.DefaultParams = rules.Params{}
	for iter.Next() {
		pv := iter.Value()
		switch pv.Kind() {
		case cue.IntKind:
			n, err := pv.Int64()
			if err != nil {
				return def, formatCUEError(err)
			}
			def.DefaultParams[iter.Label()] = int(n)
		case cue.StringKind:
			s, _ := pv.String()
			def.DefaultParams[iter.Label()] = s
		default:
			return def, &LoadError{
				Field:   fmt.Sprintf("%s.params.%s", def.ID, iter.Label()),
				Message: fmt.Sprintf("unsupported param kind: %v", pv.Kind()),
				Pos:     pv.Pos(),
			}
		}
	}
	return def, nil
}

func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// DefinitionsForTier returns a copy of the tier's definitions in catalog order.
func (c *Catalog) DefinitionsForTier(tier Tier) []Definition {
	return cloneDefs(c.tiers[tier])
}

// AllDefinitions returns every definition, tiers in catalog order.
func (c *Catalog) AllDefinitions() []Definition {
	var out []Definition
	for _, tier := range Tiers {
		out = append(out, cloneDefs(c.tiers[tier])...)
	}
	return out
}

// Find returns the definition with the given id.
func (c *Catalog) Find(id string) (Definition, bool) {
	for _, tier := range Tiers {
		for _, d := range c.tiers[tier] {
			if d.ID == id {
				return cloneDef(d), true
			}
		}
	}
	return Definition{}, false
}

// FindByRule returns the first definition in tier that uses ruleID.
func (c *Catalog) FindByRule(tier Tier, ruleID string) (Definition, bool) {
	for _, d := range c.tiers[tier] {
		if d.RuleID == ruleID {
			return cloneDef(d), true
		}
	}
	return Definition{}, false
}

func cloneDefs(in []Definition) []Definition {
	out := make([]Definition, len(in))
	for i, d := range in {
		out[i] = cloneDef(d)
	}
	return out
}

func cloneDef(d Definition) Definition {
	d.DefaultParams = d.DefaultParams.Clone()
	return d
}
