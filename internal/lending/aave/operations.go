// internal/lending/aave/operations.go
package aave

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

func (a *Adapter) prepare(op lending.Operation, params lending.OperationParams) (lending.AssetDescriptor, common.Address, error) {
	if err := a.ValidateAmount(op, params.Amount); err != nil {
		return lending.AssetDescriptor{}, common.Address{}, err
	}
	if err := a.RequireSigner(params); err != nil {
		return lending.AssetDescriptor{}, common.Address{}, err
	}
	asset, err := a.Asset(params.Asset)
	if err != nil {
		return lending.AssetDescriptor{}, common.Address{}, err
	}
	return asset, params.Signer.Address(), nil
}

// Supply вносит актив в пул.
func (a *Adapter) Supply(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationSupply, params)
	if err != nil {
		return nil, err
	}
	amount := params.Amount.Int()

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if reserve.Frozen || reserve.Paused {
		return nil, lending.Errorf(a.Protocol(), lending.KindMarketFrozen, "reserve %s is frozen or paused", asset.Symbol)
	}
	if lending.CapExceeded(reserve.TotalSupplied, amount, reserve.SupplyCap) {
		return nil, lending.Errorf(a.Protocol(), lending.KindSupplyCapExceeded,
			"supplying %s %s would exceed the supply cap %s", amount, asset.Symbol, reserve.SupplyCap)
	}
	if err := a.CheckAllowance(ctx, asset, user, a.pool, amount); err != nil {
		return nil, err
	}

	receipt, err := a.Submit(ctx, a.pool, sigSupply, params.Signer, asset.Address, amount, user, a.opts.ReferralCode)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationSupply, params, asset, amount, receipt, reserve.SupplyRate), nil
}

// Withdraw выводит актив. "max" передаётся пулу как type(uint256).max.
func (a *Adapter) Withdraw(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationWithdraw, params)
	if err != nil {
		return nil, err
	}

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if reserve.Paused {
		return nil, lending.Errorf(a.Protocol(), lending.KindMarketFrozen, "reserve %s is paused", asset.Symbol)
	}
	position, err := a.GetUserReserveData(ctx, user, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if position.Supplied.Sign() == 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount, "no %s supplied", asset.Symbol)
	}

	amount, submitAmount := position.Supplied, fixedpoint.MaxUint256
	if !params.Amount.IsMax() {
		amount = params.Amount.Int()
		submitAmount = amount
		if amount.Cmp(position.Supplied) > 0 {
			return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount,
				"withdraw %s exceeds supplied balance %s", amount, position.Supplied)
		}
	}
	if amount.Cmp(reserve.AvailableLiquidity) > 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientLiquidity,
			"reserve %s has %s available, %s requested", asset.Symbol, reserve.AvailableLiquidity, amount)
	}

	receipt, err := a.Submit(ctx, a.pool, sigWithdraw, params.Signer, asset.Address, submitAmount, user)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationWithdraw, params, asset, amount, receipt, reserve.SupplyRate), nil
}

// Borrow занимает актив под имеющийся залог.
func (a *Adapter) Borrow(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationBorrow, params)
	if err != nil {
		return nil, err
	}
	amount := params.Amount.Int()

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	switch {
	case reserve.Frozen || reserve.Paused:
		return nil, lending.Errorf(a.Protocol(), lending.KindMarketFrozen, "reserve %s is frozen or paused", asset.Symbol)
	case !reserve.BorrowingEnabled:
		return nil, lending.Errorf(a.Protocol(), lending.KindBorrowingDisabled, "borrowing %s is disabled", asset.Symbol)
	case lending.CapExceeded(reserve.TotalBorrowed, amount, reserve.BorrowCap):
		return nil, lending.Errorf(a.Protocol(), lending.KindBorrowCapExceeded,
			"borrowing %s %s would exceed the borrow cap %s", amount, asset.Symbol, reserve.BorrowCap)
	case amount.Cmp(reserve.AvailableLiquidity) > 0:
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientLiquidity,
			"reserve %s has %s available, %s requested", asset.Symbol, reserve.AvailableLiquidity, amount)
	case reserve.PriceUSD.Sign() == 0:
		return nil, lending.Errorf(a.Protocol(), lending.KindPriceOracleError, "oracle returned zero price for %s", asset.Symbol)
	}

	account, err := a.GetUserAccountData(ctx, user)
	if err != nil {
		return nil, err
	}
	borrowValue := lending.ValueUSD(amount, asset.Decimals, reserve.PriceUSD)
	weighted := fixedpoint.WadMul(account.TotalCollateral, account.LiquidationThreshold)
	if err := lending.CheckBorrowHealth(a.Protocol(), weighted, account.TotalDebt, borrowValue); err != nil {
		return nil, err
	}
	if borrowValue.Cmp(account.AvailableToBorrow) > 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientCollateral,
			"borrow value %s exceeds available borrows %s",
			fixedpoint.WadToDecimal(borrowValue).StringFixed(2), fixedpoint.WadToDecimal(account.AvailableToBorrow).StringFixed(2))
	}

	mode := params.Mode()
	rate := reserve.BorrowRate
	if mode == lending.RateModeStable {
		rate = reserve.StableBorrowRate
	}

	a.Logger.Debug("Borrow preconditions passed",
		zap.String("asset", asset.Symbol),
		zap.String("amount", amount.String()),
		zap.String("borrow_value_usd", fixedpoint.WadToDecimal(borrowValue).String()))

	receipt, err := a.Submit(ctx, a.pool, sigBorrow, params.Signer,
		asset.Address, amount, big.NewInt(int64(mode)), a.opts.ReferralCode, user)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationBorrow, params, asset, amount, receipt, rate), nil
}

// Repay гасит долг. "max" разрешается в текущий долг плюс буфер.
func (a *Adapter) Repay(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationRepay, params)
	if err != nil {
		return nil, err
	}
	mode := params.Mode()

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	if reserve.Paused {
		return nil, lending.Errorf(a.Protocol(), lending.KindMarketFrozen, "reserve %s is paused", asset.Symbol)
	}

	readDebt := func(ctx context.Context) (*big.Int, error) {
		pos, err := a.GetUserReserveData(ctx, user, asset.Symbol)
		if err != nil {
			return nil, err
		}
		if mode == lending.RateModeStable {
			return pos.StableDebt, nil
		}
		return pos.VariableDebt, nil
	}

	var amount *big.Int
	if params.Amount.IsMax() {
		if amount, err = a.ResolveMaxRepay(ctx, readDebt); err != nil {
			return nil, err
		}
	} else {
		amount = params.Amount.Int()
		debt, err := readDebt(ctx)
		if err != nil {
			return nil, err
		}
		if debt.Sign() == 0 {
			return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount, "no %s debt to repay", asset.Symbol)
		}
	}
	if err := a.CheckAllowance(ctx, asset, user, a.pool, amount); err != nil {
		return nil, err
	}

	rate := reserve.BorrowRate
	if mode == lending.RateModeStable {
		rate = reserve.StableBorrowRate
	}
	receipt, err := a.Submit(ctx, a.pool, sigRepay, params.Signer,
		asset.Address, amount, big.NewInt(int64(mode)), user)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationRepay, params, asset, amount, receipt, rate), nil
}
