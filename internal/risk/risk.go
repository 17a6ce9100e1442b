// internal/risk/risk.go
// Package risk содержит чистые функции оценки риска ликвидации.
// Все значения в WAD, если не сказано иное.
package risk

import (
	"fmt"
	"math/big"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

var (
	thresholdCritical = fixedpoint.WAD
	thresholdHigh     = fixedpoint.MustWad("1.1")
	thresholdMedium   = fixedpoint.MustWad("1.3")

	utilizationHigh   = fixedpoint.MustWad("0.9")
	utilizationMedium = fixedpoint.MustWad("0.7")

	two = big.NewInt(2)
)

// CalculateLiquidationRisk — ступенчатая функция без гистерезиса:
// < 1.0 critical, < 1.1 high, < 1.3 medium, иначе low.
func CalculateLiquidationRisk(healthFactor *big.Int) lending.RiskLevel {
	hf := fixedpoint.Clone(healthFactor)
	switch {
	case hf.Cmp(thresholdCritical) < 0:
		return lending.RiskCritical
	case hf.Cmp(thresholdHigh) < 0:
		return lending.RiskHigh
	case hf.Cmp(thresholdMedium) < 0:
		return lending.RiskMedium
	default:
		return lending.RiskLow
	}
}

// UtilizationTier maps the highest observed market utilisation to a tier:
// > 0.9 high, > 0.7 medium, otherwise low.
func UtilizationTier(maxUtilization *big.Int) lending.RiskLevel {
	u := fixedpoint.Clone(maxUtilization)
	switch {
	case u.Cmp(utilizationHigh) > 0:
		return lending.RiskHigh
	case u.Cmp(utilizationMedium) > 0:
		return lending.RiskMedium
	default:
		return lending.RiskLow
	}
}

// CalculateOptimalBorrowAmount returns how much more value can be borrowed
// while keeping the health factor at or above targetHealthFactor:
// max(0, collateral·factor/target − currentBorrow). Truncates at each step.
// A non-positive target is invalid and yields zero.
func CalculateOptimalBorrowAmount(collateralValue, collateralFactor, currentBorrowValue, targetHealthFactor *big.Int) *big.Int {
	if targetHealthFactor == nil || targetHealthFactor.Sign() <= 0 {
		return new(big.Int)
	}
	maxBorrow := fixedpoint.WadMul(fixedpoint.Clone(collateralValue), fixedpoint.Clone(collateralFactor))
	safeMax := fixedpoint.WadDiv(maxBorrow, targetHealthFactor)
	return fixedpoint.SubFloor(safeMax, currentBorrowValue)
}

// HealthFactor = collateral·liquidationFactor / debt, sentinel when debt is zero.
func HealthFactor(collateralValue, liquidationFactor, debtValue *big.Int) *big.Int {
	weighted := fixedpoint.WadMul(fixedpoint.Clone(collateralValue), fixedpoint.Clone(liquidationFactor))
	return lending.AccountHealthFactor(weighted, debtValue)
}

// PortfolioHealthFactor = Σcollateral / Σdebt, sentinel when debt is zero.
func PortfolioHealthFactor(totalCollateral, totalDebt *big.Int) *big.Int {
	return lending.AccountHealthFactor(totalCollateral, totalDebt)
}

// DiversificationScore = 1 − Σ share², индекс Херфиндаля по стоимости позиций.
// One position scores 0, n equal positions score 1 − 1/n.
func DiversificationScore(values []*big.Int) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		if v != nil && v.Sign() > 0 {
			total.Add(total, v)
		}
	}
	if total.Sign() == 0 {
		return new(big.Int)
	}
	hhi := new(big.Int)
	for _, v := range values {
		if v == nil || v.Sign() <= 0 {
			continue
		}
		share := fixedpoint.WadDiv(v, total)
		hhi.Add(hhi, fixedpoint.WadMul(share, share))
	}
	return fixedpoint.SubFloor(fixedpoint.WAD, hhi)
}

// Weights — веса составного показателя здоровья позиции.
type Weights struct {
	HealthFactor    *big.Int
	Utilization     *big.Int
	Diversification *big.Int
}

// DefaultWeights returns 0.5 / 0.3 / 0.2.
func DefaultWeights() Weights {
	return Weights{
		HealthFactor:    fixedpoint.MustWad("0.5"),
		Utilization:     fixedpoint.MustWad("0.3"),
		Diversification: fixedpoint.MustWad("0.2"),
	}
}

// Validate checks every weight is non-negative and they sum to exactly 1.
func (w Weights) Validate() error {
	sum := new(big.Int)
	for name, v := range map[string]*big.Int{
		"health_factor":   w.HealthFactor,
		"utilization":     w.Utilization,
		"diversification": w.Diversification,
	} {
		if v == nil || v.Sign() < 0 {
			return fmt.Errorf("weight %s must be non-negative", name)
		}
		sum.Add(sum, v)
	}
	if sum.Cmp(fixedpoint.WAD) != 0 {
		return fmt.Errorf("weights must sum to 1, got %s", fixedpoint.WadToDecimal(sum))
	}
	return nil
}

// Score computes the composite health score in [0, 1]:
// hf component min(hf/2, 1), utilisation component 1 − utilisation and the
// diversification score as given, each clamped to [0, 1].
func (w Weights) Score(healthFactor, utilizationRate, diversificationScore *big.Int) *big.Int {
	zero, one := new(big.Int), fixedpoint.WAD

	hfComponent := fixedpoint.Min(new(big.Int).Quo(fixedpoint.Clone(healthFactor), two), one)
	utilComponent := fixedpoint.Clamp(new(big.Int).Sub(one, fixedpoint.Clone(utilizationRate)), zero, one)
	divComponent := fixedpoint.Clamp(fixedpoint.Clone(diversificationScore), zero, one)

	score := fixedpoint.WadMul(hfComponent, fixedpoint.Clone(w.HealthFactor))
	score.Add(score, fixedpoint.WadMul(utilComponent, fixedpoint.Clone(w.Utilization)))
	score.Add(score, fixedpoint.WadMul(divComponent, fixedpoint.Clone(w.Diversification)))
	return fixedpoint.Clamp(score, zero, one)
}

// CalculatePositionHealthScore uses DefaultWeights.
func CalculatePositionHealthScore(healthFactor, utilizationRate, diversificationScore *big.Int) *big.Int {
	return DefaultWeights().Score(healthFactor, utilizationRate, diversificationScore)
}
