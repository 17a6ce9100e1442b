package risk

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

func wad(s string) *big.Int { return fixedpoint.MustWad(s) }

func TestCalculateLiquidationRisk(t *testing.T) {
	one := big.NewInt(1)
	tests := []struct {
		hf   *big.Int
		want lending.RiskLevel
	}{
		{wad("0.95"), lending.RiskCritical},
		{wad("1.05"), lending.RiskHigh},
		{wad("1.2"), lending.RiskMedium},
		{wad("1.5"), lending.RiskLow},
		{big.NewInt(0), lending.RiskCritical},
		{new(big.Int).Sub(wad("1"), one), lending.RiskCritical},
		{wad("1"), lending.RiskHigh},
		{new(big.Int).Sub(wad("1.1"), one), lending.RiskHigh},
		{wad("1.1"), lending.RiskMedium},
		{new(big.Int).Sub(wad("1.3"), one), lending.RiskMedium},
		{wad("1.3"), lending.RiskLow},
		{fixedpoint.HealthyHealthFactor, lending.RiskLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CalculateLiquidationRisk(tt.hf), fixedpoint.WadToDecimal(tt.hf).String())
	}
}

func TestUtilizationTier(t *testing.T) {
	assert.Equal(t, lending.RiskLow, UtilizationTier(wad("0.7")))
	assert.Equal(t, lending.RiskMedium, UtilizationTier(wad("0.71")))
	assert.Equal(t, lending.RiskMedium, UtilizationTier(wad("0.9")))
	assert.Equal(t, lending.RiskHigh, UtilizationTier(wad("0.95")))
	assert.Equal(t, lending.RiskLow, UtilizationTier(nil))
}

func TestOptimalBorrowScenario(t *testing.T) {
	amount := CalculateOptimalBorrowAmount(wad("1000"), wad("0.75"), big.NewInt(0), wad("1.5"))
	assert.Equal(t, wad("500"), amount)

	implied := fixedpoint.WadDiv(fixedpoint.WadMul(wad("1000"), wad("0.75")), amount)
	assert.Equal(t, wad("1.5"), implied)
}

func TestOptimalBorrowEdgeCases(t *testing.T) {
	assert.Equal(t, 0, CalculateOptimalBorrowAmount(wad("1000"), wad("0.75"), big.NewInt(0), big.NewInt(0)).Sign())
	assert.Equal(t, 0, CalculateOptimalBorrowAmount(wad("1000"), wad("0.75"), big.NewInt(0), wad("-1")).Sign())
	// already above the safe level
	assert.Equal(t, 0, CalculateOptimalBorrowAmount(wad("1000"), wad("0.75"), wad("600"), wad("1.5")).Sign())
	assert.Equal(t, wad("100"), CalculateOptimalBorrowAmount(wad("1000"), wad("0.75"), wad("400"), wad("1.5")))
}

func randWad(r *rand.Rand, maxWhole int64) *big.Int {
	whole := new(big.Int).Mul(big.NewInt(r.Int63n(maxWhole)), fixedpoint.WAD)
	return whole.Add(whole, big.NewInt(r.Int63n(1_000_000_000_000_000_000)))
}

func TestOptimalBorrowKeepsTargetHealth(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		collateral := randWad(r, 10_000_000)
		factor := new(big.Int).Rand(r, fixedpoint.WAD)
		current := randWad(r, 1_000_000)
		target := new(big.Int).Add(fixedpoint.WAD, randWad(r, 5))

		amount := CalculateOptimalBorrowAmount(collateral, factor, current, target)
		require.True(t, amount.Sign() >= 0)

		// (current + amount) * target <= collateral * factor
		lhs := fixedpoint.WadMul(new(big.Int).Add(current, amount), target)
		rhs := fixedpoint.WadMul(collateral, factor)
		if amount.Sign() > 0 {
			assert.True(t, lhs.Cmp(rhs) <= 0, "iteration %d: %s > %s", i, lhs, rhs)
		}
	}
}

func TestHealthFactorMonotonic(t *testing.T) {
	collateral, factor := wad("5000"), wad("0.8")

	prev := HealthFactor(collateral, factor, big.NewInt(0))
	assert.True(t, fixedpoint.IsHealthySentinel(prev))
	for _, d := range []string{"1", "10", "999.99", "1000", "4000", "1000000"} {
		hf := HealthFactor(collateral, factor, wad(d))
		assert.True(t, hf.Cmp(prev) <= 0, "debt %s", d)
		prev = hf
	}

	debt := wad("1000")
	prev = big.NewInt(0)
	for _, c := range []string{"0", "1", "1250", "1250.000000000000000001", "99999"} {
		hf := HealthFactor(wad(c), factor, debt)
		assert.True(t, hf.Cmp(prev) >= 0, "collateral %s", c)
		prev = hf
	}
}

func TestPortfolioHealthFactor(t *testing.T) {
	assert.True(t, fixedpoint.IsHealthySentinel(PortfolioHealthFactor(big.NewInt(0), big.NewInt(0))))
	assert.True(t, fixedpoint.IsHealthySentinel(PortfolioHealthFactor(wad("123"), nil)))
	assert.Equal(t, wad("2"), PortfolioHealthFactor(wad("2000"), wad("1000")))
}

func TestDiversificationScore(t *testing.T) {
	assert.Equal(t, 0, DiversificationScore(nil).Sign())
	assert.Equal(t, 0, DiversificationScore([]*big.Int{wad("100")}).Sign())
	assert.Equal(t, wad("0.5"), DiversificationScore([]*big.Int{wad("100"), wad("100")}))
	assert.Equal(t, wad("0.75"), DiversificationScore([]*big.Int{wad("1"), wad("1"), wad("1"), wad("1")}))

	skewed := DiversificationScore([]*big.Int{wad("900"), wad("100")})
	assert.Equal(t, wad("0.18"), skewed)
}

func TestPositionHealthScore(t *testing.T) {
	// hf 4 caps at 1; util 0 -> 1; div 1 -> perfect score
	assert.Equal(t, wad("1"), CalculatePositionHealthScore(wad("4"), big.NewInt(0), wad("1")))
	// hf 1 -> 0.5*0.5, util 0.5 -> 0.3*0.5, div 0 -> 0
	assert.Equal(t, wad("0.4"), CalculatePositionHealthScore(wad("1"), wad("0.5"), big.NewInt(0)))
	// out of range inputs are clamped
	assert.Equal(t, 0, CalculatePositionHealthScore(big.NewInt(0), wad("1.5"), wad("-1")).Sign())
	assert.Equal(t, wad("1"), CalculatePositionHealthScore(fixedpoint.HealthyHealthFactor, big.NewInt(0), wad("7")))
}

func TestWeights(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	w := DefaultWeights()
	w.Diversification = wad("0.3")
	assert.Error(t, w.Validate())

	w = Weights{HealthFactor: wad("1.2"), Utilization: wad("-0.2"), Diversification: wad("0")}
	assert.Error(t, w.Validate())

	custom := Weights{HealthFactor: wad("1"), Utilization: wad("0"), Diversification: wad("0")}
	require.NoError(t, custom.Validate())
	assert.Equal(t, wad("0.6"), custom.Score(wad("1.2"), wad("1"), wad("0")))
}
