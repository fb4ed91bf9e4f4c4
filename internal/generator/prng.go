package generator

import "unicode/utf16"

// Source yields floats in [0, 1).
type Source interface {
	Float64() float64
}

// hashSeed is djb2 over the UTF-16 code units of s, wrapped to 32 bits.
// Hashing code units rather than bytes keeps seeds stable for contracts
// persisted by older clients.
func hashSeed(s string) uint32 {
	h := uint32(5381)
	for _, u := range utf16.Encode([]rune(s)) {
		h = h*33 + uint32(u)
	}
	return h
}

// Mulberry32 is a small deterministic PRNG with 32 bits of state.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 returns a generator seeded with seed.
func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{state: seed}
}

// Float64 advances the stream and returns the next value in [0, 1).
func (m *Mulberry32) Float64() float64 {
	m.state += 0x6d2b79f5
	t := m.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return float64(t^(t>>14)) / 4294967296
}
