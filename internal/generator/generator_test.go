package generator

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(sel []Selection) []byte {
	var b strings.Builder
	for _, s := range sel {
		b.WriteString(s.Definition.ID)
		b.WriteString(" ")
		b.WriteString(s.Definition.RuleID)
		keys := make([]string, 0, len(s.Params))
		for k := range s.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, s.Params[k])
		}
		b.WriteString("\n")
	}
	return []byte(b.String())
}

func TestForSeed_Golden(t *testing.T) {
	g := Default()
	gold := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)

	for _, d := range []Difficulty{Easy, Medium, Hard} {
		t.Run(string(d), func(t *testing.T) {
			sel, err := g.ForSeed(d, "abc123", 1)
			require.NoError(t, err)
			gold.Assert(t, string(d)+"_abc123", render(sel))
		})
	}
}

func TestForSeed_Deterministic(t *testing.T) {
	for _, d := range []Difficulty{Easy, Medium, Hard} {
		for _, seed := range []string{"abc123", "", "ünïcødé-🔑", "0198f2a4-7c1e-7000-8000-000000000000"} {
			a, err := Default().ForSeed(d, seed, 1)
			require.NoError(t, err)
			b, err := Default().ForSeed(d, seed, 1)
			require.NoError(t, err)
			assert.Equal(t, render(a), render(b), "%s/%q", d, seed)
		}
	}
}

func TestForSeed_Composition(t *testing.T) {
	g := Default()
	for i := 0; i < 200; i++ {
		seed := fmt.Sprintf("seed-%d", i)

		easy, err := g.ForSeed(Easy, seed, 1)
		require.NoError(t, err)
		require.Len(t, easy, 4)
		for _, s := range easy {
			assert.Equal(t, byte('b'), s.Definition.ID[0])
			if s.Definition.ID == "b4" {
				sum := s.Params.Int("sum", 0)
				assert.GreaterOrEqual(t, sum, 10)
				assert.LessOrEqual(t, sum, 25)
			}
		}

		medium, err := g.ForSeed(Medium, seed, 1)
		require.NoError(t, err)
		require.Len(t, medium, 4)
		intermediate := 0
		for _, s := range medium {
			if s.Definition.ID[0] == 'i' {
				intermediate++
				assert.Contains(t, []string{"XY", "AB"}, s.Params.String("substring", ""))
			}
		}
		assert.Equal(t, 1, intermediate)

		hard, err := g.ForSeed(Hard, seed, 1)
		require.NoError(t, err)
		require.Len(t, hard, 4)
		for _, s := range hard {
			if s.Definition.ID == "a3" {
				sum := s.Params.Int("sum", 0)
				assert.GreaterOrEqual(t, sum, 10)
				assert.LessOrEqual(t, sum, 59)
			}
		}
	}
}

func TestForSeed_GenVersionChangesStream(t *testing.T) {
	assert.NotEqual(t, hashSeed("1:medium:abc123"), hashSeed("2:medium:abc123"))

	_, err := Default().ForSeed(Medium, "abc123", 2)
	assert.NoError(t, err)
}

func TestForSeed_UnknownDifficulty(t *testing.T) {
	_, err := Default().ForSeed("nightmare", "abc", 1)
	assert.ErrorIs(t, err, ErrUnknownDifficulty)

	_, err = Default().ForDifficulty("nightmare")
	assert.ErrorIs(t, err, ErrUnknownDifficulty)
}

func TestForDifficulty_Composition(t *testing.T) {
	sel, err := Default().ForDifficulty(Hard)
	require.NoError(t, err)
	require.Len(t, sel, 4)

	ids := make([]string, len(sel))
	for i, s := range sel {
		ids[i] = s.Definition.ID
	}
	assert.ElementsMatch(t, []string{"b1", "b2", "a2", "a3"}, ids)
}

func TestHashSeed(t *testing.T) {
	assert.Equal(t, uint32(1365732839), hashSeed("1:medium:abc123"))
	assert.Equal(t, uint32(5381), hashSeed(""))
}

func TestMulberry32_KnownStream(t *testing.T) {
	m := NewMulberry32(1365732839)
	want := []float64{
		0.5782866145018488,
		0.6955250741448253,
		0.8476604868192226,
		0.1892994111403823,
		0.28966993489302695,
	}
	for i, w := range want {
		assert.InDelta(t, w, m.Float64(), 1e-15, "draw %d", i)
	}
}

func TestParseDifficulty(t *testing.T) {
	d, err := ParseDifficulty("hard")
	require.NoError(t, err)
	assert.Equal(t, Hard, d)

	_, err = ParseDifficulty("Hard")
	assert.ErrorIs(t, err, ErrUnknownDifficulty)
}

func TestLoadTuning(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "tuning.yaml")
	require.NoError(t, os.WriteFile(path, embeddedTuning, 0o644))
	tuning, err := LoadTuning(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), tuning)
	assert.Equal(t, Range{Min: 10, Span: 50}, tuning.Hard.RomanSum)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("easy:\n  minLenght: 3\n"), 0o644))
	_, err = LoadTuning(bad)
	assert.Error(t, err)

	_, err = LoadTuning(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestTuning_ShiftsRanges(t *testing.T) {
	tuning := DefaultTuning()
	tuning.Easy.DigitSum = Range{Min: 40, Span: 1}
	g := New(Default().catalog, tuning)

	sel, err := g.ForSeed(Easy, "abc123", 1)
	require.NoError(t, err)
	for _, s := range sel {
		if s.Definition.ID == "b4" {
			assert.Equal(t, 40, s.Params.Int("sum", 0))
		}
	}
}
