// internal/fixedpoint/fixedpoint.go
// Package fixedpoint содержит целочисленную арифметику с фиксированной точкой
// для трёх шкал: RAY (ставки, 27 знаков), WAD (health factor, коэффициенты,
// суммы в USD, 18 знаков) и нативные decimals актива.
//
// Все операции усекают результат (никогда не округляют вверх), чтобы не
// завышать стоимость позиций.
package fixedpoint

import (
	"math/big"
)

const (
	RayDecimals = 27
	WadDecimals = 18
)

var (
	// RAY = 1e27
	RAY = pow10(RayDecimals)
	// WAD = 1e18
	WAD = pow10(WadDecimals)

	// WadRayRatio = 1e9
	WadRayRatio = pow10(RayDecimals - WadDecimals)

	// BasisPoints = 10 000
	BasisPoints = big.NewInt(10_000)

	// HealthyHealthFactor is reported when an account carries no debt.
	// Same value the pool contract returns (type(uint256).max).
	HealthyHealthFactor = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

	// MaxUint256 is the on-chain "everything" amount.
	MaxUint256 = new(big.Int).Set(HealthyHealthFactor)
)

func pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n uint8) *big.Int {
	return pow10(int(n))
}

// Zero returns a fresh zero value.
func Zero() *big.Int { return new(big.Int) }

// Clone copies x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsZero reports whether x is nil or zero.
func IsZero(x *big.Int) bool {
	return x == nil || x.Sign() == 0
}

// MulDiv computes a*b/denominator with truncation. A zero denominator yields zero.
func MulDiv(a, b, denominator *big.Int) *big.Int {
	if a == nil || b == nil || IsZero(denominator) {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, denominator)
}

// WadMul returns a*b/WAD.
func WadMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, WAD)
}

// WadDiv returns a*WAD/b.
func WadDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, WAD, b)
}

// RayMul returns a*b/RAY.
func RayMul(a, b *big.Int) *big.Int {
	return MulDiv(a, b, RAY)
}

// RayDiv returns a*RAY/b.
func RayDiv(a, b *big.Int) *big.Int {
	return MulDiv(a, RAY, b)
}

// ToWad converts a native amount with the given decimals into WAD precision.
func ToWad(amount *big.Int, decimals uint8) *big.Int {
	return rescale(amount, int(decimals), WadDecimals)
}

// FromWad converts a WAD value back into native units with the given decimals.
func FromWad(wad *big.Int, decimals uint8) *big.Int {
	return rescale(wad, WadDecimals, int(decimals))
}

// Rescale moves a value between two decimal scales, truncating when precision is lost.
func Rescale(x *big.Int, from, to uint8) *big.Int {
	return rescale(x, int(from), int(to))
}

func rescale(x *big.Int, from, to int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	switch {
	case from == to:
		return new(big.Int).Set(x)
	case from < to:
		return new(big.Int).Mul(x, pow10(to-from))
	default:
		return new(big.Int).Quo(x, pow10(from-to))
	}
}

// RayToWad truncates a RAY value to WAD.
func RayToWad(x *big.Int) *big.Int {
	return rescale(x, RayDecimals, WadDecimals)
}

// WadToRay widens a WAD value to RAY.
func WadToRay(x *big.Int) *big.Int {
	return rescale(x, WadDecimals, RayDecimals)
}

// BpsToWad converts basis points (10000 = 100%) into WAD.
func BpsToWad(bps *big.Int) *big.Int {
	return MulDiv(bps, WAD, BasisPoints)
}

// ApplyBps returns x*(10000+bps)/10000.
func ApplyBps(x *big.Int, bps int64) *big.Int {
	factor := new(big.Int).Add(BasisPoints, big.NewInt(bps))
	return MulDiv(x, factor, BasisPoints)
}

// PerBlockToAnnualRay annualises a per-block WAD rate into a RAY APR.
// Simple interest, no compounding: both protocol shapes compare on APR.
func PerBlockToAnnualRay(perBlockWad *big.Int, blocksPerYear uint64) *big.Int {
	if perBlockWad == nil {
		return new(big.Int)
	}
	annual := new(big.Int).Mul(perBlockWad, new(big.Int).SetUint64(blocksPerYear))
	return WadToRay(annual)
}

// IsHealthySentinel reports whether hf is the zero-debt sentinel.
func IsHealthySentinel(hf *big.Int) bool {
	return hf != nil && hf.Cmp(HealthyHealthFactor) == 0
}

// Min returns the smaller of a and b (copy).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// Max returns the larger of a and b (copy).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return Clone(a)
	}
	return Clone(b)
}

// SubFloor returns max(0, a-b).
func SubFloor(a, b *big.Int) *big.Int {
	out := new(big.Int).Sub(Clone(a), Clone(b))
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}

// Clamp bounds x to [lo, hi].
func Clamp(x, lo, hi *big.Int) *big.Int {
	if x.Cmp(lo) < 0 {
		return Clone(lo)
	}
	if x.Cmp(hi) > 0 {
		return Clone(hi)
	}
	return Clone(x)
}
