// Package generator turns a difficulty and seed into an ordered task list.
//
// With a seed the output is reproducible: the seed string
// "{genVersion}:{difficulty}:{seed}" is hashed to 32 bits and drives a
// Mulberry32 stream. Every random decision reads from that one stream in a
// fixed order:
//
//	easy:   sum draw, then shuffle
//	medium: substring draw, intermediate pick, then shuffle
//	hard:   sum draw, then shuffle
//
// Changing this order changes every seeded contract ever persisted; bump the
// generation version instead.
package generator

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/roach88/porta/internal/catalog"
	"github.com/roach88/porta/internal/rules"
)

// CurrentGenVersion is stamped on newly created contracts.
const CurrentGenVersion = 1

// Difficulty selects the contract composition.
type Difficulty string

const (
	Easy   Difficulty = "easy"
	Medium Difficulty = "medium"
	Hard   Difficulty = "hard"
)

// ErrUnknownDifficulty is returned for a difficulty outside easy/medium/hard.
var ErrUnknownDifficulty = errors.New("unknown difficulty")

// ParseDifficulty validates s.
func ParseDifficulty(s string) (Difficulty, error) {
	switch d := Difficulty(s); d {
	case Easy, Medium, Hard:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, s)
}

// Selection is one generated task before instantiation.
type Selection struct {
	Definition catalog.Definition
	Params     rules.Params
}

// Generator composes contracts from a catalog and a tuning.
type Generator struct {
	catalog *catalog.Catalog
	tuning  Tuning
}

// New returns a generator over cat.
func New(cat *catalog.Catalog, tuning Tuning) *Generator {
	return &Generator{catalog: cat, tuning: tuning}
}

// Default uses the embedded catalog and tuning.
func Default() *Generator {
	return New(catalog.Default(), DefaultTuning())
}

// ForSeed generates the reproducible task list for (difficulty, seed, genVersion).
func (g *Generator) ForSeed(difficulty Difficulty, seed string, genVersion int) ([]Selection, error) {
	key := fmt.Sprintf("%d:%s:%s", genVersion, difficulty, seed)
	return g.compose(difficulty, NewMulberry32(hashSeed(key)))
}

// ForDifficulty generates a task list from a non-reproducible source.
// Contracts built this way cannot be regenerated from a snapshot.
func (g *Generator) ForDifficulty(difficulty Difficulty) ([]Selection, error) {
	return g.compose(difficulty, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// want names a rule to resolve within a tier and its parameter overrides.
type want struct {
	rule   string
	params rules.Params
}

func (g *Generator) compose(difficulty Difficulty, src Source) ([]Selection, error) {
	var out []Selection
	var err error

	switch difficulty {
	case Easy:
		t := g.tuning.Easy
		sum := t.DigitSum.draw(src)
		out, err = g.fromTier(catalog.Basic,
			want{rules.MinLength, rules.Params{"minLength": t.MinLength}},
			want{rules.UppercaseGlyphs, rules.Params{"count": t.Uppercase}},
			want{rules.SpecialGlyphs, rules.Params{"count": t.Special}},
			want{rules.DigitGlyphsSum, rules.Params{"sum": sum}},
		)
	case Medium:
		t := g.tuning.Medium
		substring := t.Substring.Low
		if src.Float64() > 0.5 {
			substring = t.Substring.High
		}
		out, err = g.fromTier(catalog.Basic,
			want{rules.MinLength, rules.Params{"minLength": t.MinLength}},
			want{rules.UppercaseGlyphs, rules.Params{"count": t.Uppercase}},
			want{rules.SpecialGlyphs, rules.Params{"count": t.Special}},
		)
		if err != nil {
			return nil, err
		}
		tier := g.catalog.DefinitionsForTier(catalog.Intermediate)
		if len(tier) == 0 {
			return nil, errors.New("generator: intermediate tier is empty")
		}
		out = append(out, selection(pick(src, tier), rules.Params{"substring": substring}))
	case Hard:
		t := g.tuning.Hard
		sum := t.RomanSum.draw(src)
		var basic, advanced []Selection
		if basic, err = g.fromTier(catalog.Basic,
			want{rules.MinLength, rules.Params{"minLength": t.MinLength}},
			want{rules.UppercaseGlyphs, rules.Params{"count": t.Uppercase}},
		); err != nil {
			return nil, err
		}
		advanced, err = g.fromTier(catalog.Advanced,
			want{rules.EvenUppercaseOddDigits, nil},
			want{rules.RomanNumeralSum, rules.Params{"sum": sum}},
		)
		out = append(basic, advanced...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDifficulty, string(difficulty))
	}
	if err != nil {
		return nil, err
	}

	shuffle(src, out)
	return out, nil
}

func (g *Generator) fromTier(tier catalog.Tier, wants ...want) ([]Selection, error) {
	out := make([]Selection, 0, len(wants))
	for _, w := range wants {
		def, ok := g.catalog.FindByRule(tier, w.rule)
		if !ok {
			return nil, fmt.Errorf("generator: no %s definition for rule %s", tier, w.rule)
		}
		out = append(out, selection(def, w.params))
	}
	return out, nil
}

func selection(def catalog.Definition, overrides rules.Params) Selection {
	return Selection{
		Definition: def,
		Params:     def.DefaultParams.Merge(overrides),
	}
}

func pick[T any](src Source, items []T) T {
	return items[int(src.Float64()*float64(len(items)))%len(items)]
}

// shuffle is Fisher–Yates from the last index down.
func shuffle[T any](src Source, items []T) {
	for i := len(items) - 1; i > 0; i-- {
		j := int(src.Float64() * float64(i+1))
		items[i], items[j] = items[j], items[i]
	}
}
