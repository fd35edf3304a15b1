package math

import (
	"math/big"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// WeightBase is the full scale of a normalized beneficiary weight. A
// normalized weight set sums to at most WeightBase.
const WeightBase uint64 = 0xFFFFFFFF

// RateScale is the fixed-point scale of the lending protocol exchange rate
// (underlying per share, times 1e18).
var RateScale = sdkmath.NewUint(1_000_000_000_000_000_000)

// Scratch big.Ints for intermediate products
var bigPool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getBig() *big.Int {
	return bigPool.Get().(*big.Int)
}

func putBig(v *big.Int) {
	v.SetInt64(0) // Clear before returning to pool
	bigPool.Put(v)
}

type RoundingMode int

const (
	RoundDown RoundingMode = iota // Truncate toward zero (default for all ledger math)
	RoundUp
	RoundHalfEven
)

// MulDiv computes a * b / denominator on 512-bit intermediates. The result
// must fit in 256 bits. Panics on a zero denominator.
func MulDiv(a, b, denominator sdkmath.Uint, mode RoundingMode) sdkmath.Uint {
	if denominator.IsZero() {
		panic("math: MulDiv by zero")
	}

	product := getBig()
	quotient := getBig()
	remainder := getBig()
	defer putBig(product)
	defer putBig(quotient)
	defer putBig(remainder)

	product.Mul(a.BigInt(), b.BigInt())
	denom := denominator.BigInt()
	quotient.QuoRem(product, denom, remainder)

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			quotient.Add(quotient, big.NewInt(1))
		}
	case RoundHalfEven:
		twice := new(big.Int).Lsh(remainder, 1)
		cmp := twice.Cmp(denom)
		if cmp > 0 || (cmp == 0 && quotient.Bit(0) == 1) {
			quotient.Add(quotient, big.NewInt(1))
		}
	}

	return sdkmath.NewUintFromBigInt(new(big.Int).Set(quotient))
}

// Proportion returns floor(amount * weight / WeightBase).
func Proportion(amount sdkmath.Uint, weight uint32) sdkmath.Uint {
	return MulDiv(amount, sdkmath.NewUint(uint64(weight)), sdkmath.NewUint(WeightBase), RoundDown)
}

// NormalizeWeights rescales raw weights so they sum to at most WeightBase.
// Each entry is floor(w * WeightBase / sum). The rounding shortfall is not
// redistributed. Callers must reject empty input and zero weights first.
func NormalizeWeights(weights []uint32) []uint32 {
	var sum uint64
	for _, w := range weights {
		sum += uint64(w)
	}

	normalized := make([]uint32, len(weights))
	if sum == 0 {
		return normalized
	}
	for i, w := range weights {
		// w * WeightBase fits in 64 bits: both factors are < 2^32
		normalized[i] = uint32(uint64(w) * WeightBase / sum)
	}
	return normalized
}

// SharesForUnderlying converts an underlying amount into protocol shares at
// the given exchange rate, rounding down.
func SharesForUnderlying(amount, rate sdkmath.Uint) sdkmath.Uint {
	if rate.IsZero() {
		return sdkmath.ZeroUint()
	}
	return MulDiv(amount, RateScale, rate, RoundDown)
}

// UnderlyingForShares converts protocol shares into underlying at the given
// exchange rate, rounding down.
func UnderlyingForShares(shares, rate sdkmath.Uint) sdkmath.Uint {
	return MulDiv(shares, rate, RateScale, RoundDown)
}

// SaturatingSub returns a - b clamped at zero.
func SaturatingSub(a, b sdkmath.Uint) sdkmath.Uint {
	if b.GTE(a) {
		return sdkmath.ZeroUint()
	}
	return a.Sub(b)
}

// Min returns the smaller of a and b.
func Min(a, b sdkmath.Uint) sdkmath.Uint {
	if a.LT(b) {
		return a
	}
	return b
}

// MaxUint256 is 2^256 - 1, the "infinite" allowance.
var MaxUint256 = sdkmath.NewUintFromBigInt(
	new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1)),
)
