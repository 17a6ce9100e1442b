package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScales(t *testing.T) {
	assert.Equal(t, "1000000000000000000000000000", RAY.String())
	assert.Equal(t, "1000000000000000000", WAD.String())
	assert.Equal(t, "1000000000", WadRayRatio.String())
	assert.Equal(t, 256, HealthyHealthFactor.BitLen())
}

func TestMulDivTruncates(t *testing.T) {
	// 10 * 1 / 3 = 3.33 -> 3
	assert.Equal(t, int64(3), MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(3)).Int64())
	assert.Equal(t, int64(0), MulDiv(big.NewInt(10), big.NewInt(1), big.NewInt(0)).Int64())

	twoThirds := WadDiv(big.NewInt(2), big.NewInt(3))
	assert.Equal(t, "666666666666666666", twoThirds.String())
}

func TestToWadFromWad(t *testing.T) {
	usdc := big.NewInt(1_234_567) // 1.234567 USDC
	wad := ToWad(usdc, 6)
	assert.Equal(t, "1234567000000000000", wad.String())
	assert.Equal(t, usdc.String(), FromWad(wad, 6).String())

	// lossy direction truncates
	assert.Equal(t, "1", FromWad(big.NewInt(1_999_999_999_999), 6).String())
	assert.Equal(t, "0", FromWad(big.NewInt(999_999_999_999), 6).String())
}

func TestBpsToWad(t *testing.T) {
	assert.Equal(t, MustWad("0.825").String(), BpsToWad(big.NewInt(8250)).String())
}

func TestApplyBps(t *testing.T) {
	assert.Equal(t, "1000100", ApplyBps(big.NewInt(1_000_000), 1).String())
}

func TestPerBlockToAnnualRay(t *testing.T) {
	// 1e-9 per block (WAD 1e9) over 2_102_400 blocks ~ 0.2102% APR
	perBlock := big.NewInt(1_000_000_000)
	got := PerBlockToAnnualRay(perBlock, 2_102_400)
	assert.Equal(t, "0.21024", RayToPercent(got).String())
}

func TestRayToPercent(t *testing.T) {
	fivePct := new(big.Int).Div(RAY, big.NewInt(20))
	assert.True(t, RayToPercent(fivePct).Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "5.00%", FormatPercent(fivePct, 2))
}

func TestPercentRoundTrip(t *testing.T) {
	thousandPct := new(big.Int).Mul(RAY, big.NewInt(10))
	step := new(big.Int).Div(thousandPct, big.NewInt(97))
	one := big.NewInt(1)

	for rate := big.NewInt(0); rate.Cmp(thousandPct) <= 0; rate = new(big.Int).Add(rate, step) {
		back := PercentToRay(RayToPercent(rate))
		diff := new(big.Int).Sub(rate, back)
		require.True(t, diff.CmpAbs(one) <= 0, "rate %s came back as %s", rate, back)
	}

	odd, _ := ParseInt("123456789012345678901234567")
	assert.Equal(t, odd.String(), PercentToRay(RayToPercent(odd)).String())
}

func TestParseWad(t *testing.T) {
	v, err := ParseWad("1.5")
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	_, err = ParseWad("abc")
	assert.Error(t, err)

	amount, err := ParseNative("12.3456789", 6)
	require.NoError(t, err)
	assert.Equal(t, "12345678", amount.String())
}

func TestFormatHealthFactor(t *testing.T) {
	assert.Equal(t, "∞", FormatHealthFactor(HealthyHealthFactor))
	assert.Equal(t, "1.2500", FormatHealthFactor(MustWad("1.25")))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, int64(0), SubFloor(big.NewInt(1), big.NewInt(5)).Int64())
	assert.Equal(t, int64(4), SubFloor(big.NewInt(5), big.NewInt(1)).Int64())
	assert.Equal(t, int64(3), Clamp(big.NewInt(7), big.NewInt(0), big.NewInt(3)).Int64())
	assert.Equal(t, int64(1), Min(big.NewInt(1), big.NewInt(2)).Int64())
	assert.Equal(t, int64(2), Max(big.NewInt(1), big.NewInt(2)).Int64())
	assert.True(t, IsZero(nil))
}
