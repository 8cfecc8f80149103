package math

import (
	"math/big"
	"sync"
)

// WadDecimals is the fixed-point precision for prices and spreads.
// A spread of Wad (10^18) means 100%.
const WadDecimals = 18

// Wad is 10^18, the scale every price and fractional spread carries.
// Treat as read-only.
var Wad = new(big.Int).Exp(big.NewInt(10), big.NewInt(WadDecimals), nil)

// Intermediate products of two wad-scaled values need up to ~2x the
// operand width, so all mul-before-div arithmetic runs on big.Int.
// A pool keeps the hot settlement path from allocating per call.
var intPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt() *big.Int {
	return intPool.Get().(*big.Int)
}

func putInt(v *big.Int) {
	v.SetInt64(0)
	intPool.Put(v)
}

// MulDiv computes a*b/den with the multiplication performed first at
// full big.Int width, truncating toward zero. den must be non-zero.
func MulDiv(a, b, den *big.Int) *big.Int {
	tmp := getInt()
	tmp.Mul(a, b)
	out := new(big.Int).Quo(tmp, den)
	putInt(tmp)
	return out
}

// WadMul computes a*b/Wad: applies a wad-scaled fraction b to a.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, Wad)
}

// WadDiv computes a*Wad/b.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, Wad, b)
}

// IsPositive reports whether v is non-nil and strictly positive.
func IsPositive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}

// IsNonNegative reports whether v is non-nil and >= 0.
func IsNonNegative(v *big.Int) bool {
	return v != nil && v.Sign() >= 0
}

// Clone returns a defensive copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
