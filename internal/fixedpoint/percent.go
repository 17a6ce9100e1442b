// internal/fixedpoint/percent.go
package fixedpoint

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// percentShift: ray * 100 / 1e27 == ray * 1e-25
const percentShift = RayDecimals - 2

// RayToPercent converts a RAY rate to a percentage (0.05 RAY -> 5).
// Exact: decimal keeps the full integer mantissa. Display only, never use the
// result for financial comparisons.
func RayToPercent(rate *big.Int) decimal.Decimal {
	if rate == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(rate, -percentShift)
}

// PercentToRay converts a percentage back to RAY, truncating sub-unit digits.
// Round trip with RayToPercent differs by at most one RAY unit.
func PercentToRay(p decimal.Decimal) *big.Int {
	return p.Shift(percentShift).BigInt()
}

// WadToDecimal renders a WAD value as a plain decimal (1.5e18 -> 1.5).
func WadToDecimal(x *big.Int) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -WadDecimals)
}

// NativeToDecimal renders a native amount with decimals as a human value.
func NativeToDecimal(x *big.Int, decimals uint8) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x, -int32(decimals))
}

// FormatPercent formats a RAY rate as "5.25%".
func FormatPercent(rate *big.Int, places int32) string {
	return RayToPercent(rate).StringFixed(places) + "%"
}

// FormatHealthFactor prints a WAD health factor, "∞" for the zero-debt sentinel.
func FormatHealthFactor(hf *big.Int) string {
	if IsHealthySentinel(hf) {
		return "∞"
	}
	return WadToDecimal(hf).StringFixed(4)
}

// ParseWad parses a human decimal ("0.75") into WAD, truncating beyond 18 digits.
func ParseWad(s string) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse wad %q: %w", s, err)
	}
	return d.Shift(WadDecimals).BigInt(), nil
}

// MustWad is ParseWad for constants.
func MustWad(s string) *big.Int {
	v, err := ParseWad(s)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseNative parses a human amount into native units with the given decimals.
func ParseNative(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.Shift(int32(decimals)).BigInt(), nil
}

// ParseInt parses a base-10 integer string.
func ParseInt(s string) (*big.Int, bool) {
	return new(big.Int).SetString(s, 10)
}
