package stats

// Mulberry32 is a 32-bit seeded generator. Its output sequence is part of the
// report format: Monte-Carlo runs with the same seed reproduce exactly.
type Mulberry32 struct {
	state uint32
}

// NewMulberry32 seeds a generator; the seed is truncated to 32 bits
func NewMulberry32(seed int64) *Mulberry32 {
	return &Mulberry32{state: uint32(seed)}
}

// Float64 returns the next value in [0, 1)
func (m *Mulberry32) Float64() float64 {
	m.state += 0x6D2B79F5
	x := m.state
	x = (x ^ (x >> 15)) * (x | 1)
	x ^= x + (x^(x>>7))*(x|61)
	return float64(x^(x>>14)) / 4294967296.0
}

// Intn returns floor(Float64()*n) clamped into [0, n)
func (m *Mulberry32) Intn(n int) int {
	if n <= 0 {
		return 0
	}
	idx := int(m.Float64() * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return idx
}
