// internal/lending/health.go
package lending

import (
	"math/big"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
)

var wad = fixedpoint.WAD

// AccountHealthFactor returns weightedCollateral/debt in WAD, or the healthy
// sentinel when there is no debt.
func AccountHealthFactor(weightedCollateral, debt *big.Int) *big.Int {
	if fixedpoint.IsZero(debt) {
		return fixedpoint.Clone(fixedpoint.HealthyHealthFactor)
	}
	return fixedpoint.WadDiv(fixedpoint.Clone(weightedCollateral), debt)
}

// CheckBorrowHealth fails when borrowing borrowValue on top of debt would
// leave the account at or below break-even. All values are USD WAD;
// weightedCollateral is already multiplied by the liquidation factor.
func CheckBorrowHealth(protocol ProtocolID, weightedCollateral, debt, borrowValue *big.Int) error {
	if fixedpoint.IsZero(weightedCollateral) {
		return Errorf(protocol, KindInsufficientCollateral, "account has no collateral")
	}
	newDebt := new(big.Int).Add(fixedpoint.Clone(debt), fixedpoint.Clone(borrowValue))
	hf := AccountHealthFactor(weightedCollateral, newDebt)
	if hf.Cmp(wad) <= 0 {
		return Errorf(protocol, KindHealthFactorTooLow,
			"health factor after borrow would be %s", fixedpoint.FormatHealthFactor(hf))
	}
	return nil
}

// ValueUSD converts a native amount to USD WAD with a WAD price per whole token.
func ValueUSD(amount *big.Int, decimals uint8, priceWad *big.Int) *big.Int {
	return fixedpoint.WadMul(fixedpoint.ToWad(amount, decimals), fixedpoint.Clone(priceWad))
}
