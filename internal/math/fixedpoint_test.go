package math_test

import (
	"math/big"
	"testing"

	fpmath "mintd/internal/math"
)

func TestMulDiv_MulBeforeDiv(t *testing.T) {
	// 3 * 10^18 * 0.5 * 10^18 / 10^18 must not lose precision to an
	// early division.
	a := new(big.Int).Mul(big.NewInt(3), fpmath.Wad)
	half := new(big.Int).Quo(fpmath.Wad, big.NewInt(2))

	got := fpmath.WadMul(a, half)
	want := new(big.Int).Mul(big.NewInt(15), new(big.Int).Quo(fpmath.Wad, big.NewInt(10)))
	if got.Cmp(want) != 0 {
		t.Errorf("WadMul: got %s, want %s", got, want)
	}
}

func TestMulDiv_WideIntermediate(t *testing.T) {
	// Both operands exceed 64 bits; the product exceeds 128 bits.
	a := new(big.Int).Mul(fpmath.Wad, fpmath.Wad) // 10^36
	got := fpmath.MulDiv(a, fpmath.Wad, fpmath.Wad)
	if got.Cmp(a) != 0 {
		t.Errorf("MulDiv identity: got %s, want %s", got, a)
	}
}

func TestWadDiv_RoundTrip(t *testing.T) {
	amount := big.NewInt(123_456_789)
	price := new(big.Int).Mul(big.NewInt(2), fpmath.Wad) // 2.0

	tokens := fpmath.WadDiv(amount, price)
	back := fpmath.WadMul(tokens, price)
	// 123456789 / 2 truncates; 2x the truncated value is 123456788.
	if back.Cmp(big.NewInt(123_456_788)) != 0 {
		t.Errorf("round trip: got %s", back)
	}
}

func TestSignHelpers(t *testing.T) {
	if fpmath.IsPositive(nil) {
		t.Error("nil should not be positive")
	}
	if fpmath.IsPositive(big.NewInt(0)) {
		t.Error("zero should not be positive")
	}
	if !fpmath.IsPositive(big.NewInt(1)) {
		t.Error("one should be positive")
	}
	if !fpmath.IsNonNegative(big.NewInt(0)) {
		t.Error("zero should be non-negative")
	}
	if fpmath.IsNonNegative(big.NewInt(-1)) {
		t.Error("-1 should be negative")
	}
}

func TestClone_Defensive(t *testing.T) {
	orig := big.NewInt(42)
	c := fpmath.Clone(orig)
	c.SetInt64(7)
	if orig.Int64() != 42 {
		t.Error("Clone must not alias the original")
	}
	if fpmath.Clone(nil).Sign() != 0 {
		t.Error("Clone(nil) should be zero")
	}
}
