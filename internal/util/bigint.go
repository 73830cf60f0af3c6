package util

import "math/big"

// ParseWei parses a base-10 integer string, returning (nil, false) on any
// malformed input instead of panicking — every call site in this engine
// treats amounts as untrusted wire data.
func ParseWei(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}

// MulFrac computes floor(v * num / den) for non-negative v, num, den>0,
// without floating point on wei-denominated amounts. It returns 0 for a nil
// v or a zero den.
func MulFrac(v *big.Int, num, den int64) *big.Int {
	if v == nil || den == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(v, big.NewInt(num))
	return out.Div(out, big.NewInt(den))
}

// Min returns the smaller of two big.Ints.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Max returns the larger of two big.Ints.
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
