// internal/lending/compound/operations.go
package compound

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
	if params.Mode() == lending.RateModeStable && (op == lending.OperationBorrow || op == lending.OperationRepay) {
		return lending.AssetDescriptor{}, common.Address{}, lending.Errorf(a.Protocol(), lending.KindBorrowingDisabled,
			"stable rate debt is not available on %s", a.Protocol())
	}
	asset, err := a.Asset(params.Asset)
	if err != nil {
		return lending.AssetDescriptor{}, common.Address{}, err
	}
	return asset, params.Signer.Address(), nil
}

// simulate вызывает проверку comptroller через eth_call. Comptroller
// возвращает код ошибки вместо revert, поэтому ненулевой код означает отказ.
// Отказ по конфигурации рынка сбрасывает его кэш.
func (a *Adapter) simulate(ctx context.Context, signature string, cToken common.Address, args ...interface{}) error {
	code, err := a.ReadUint(ctx, a.comptroller, signature, append([]interface{}{cToken}, args...)...)
	if err == nil && code.Sign() != 0 {
		a.Logger.Debug("Comptroller rejected operation",
			zap.String("method", signature),
			zap.String("code", code.String()))
		err = a.comptrollerErrors.FromCode(code.String(), "comptroller rejected "+signature)
	}
	switch lending.KindOf(err) {
	case lending.KindMarketFrozen, lending.KindBorrowingDisabled, lending.KindAssetNotSupported:
		a.markets.invalidate(cToken)
	}
	return err
}

// Supply минтит cToken под внесённый актив.
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
	if reserve.Paused {
		return nil, lending.Errorf(a.Protocol(), lending.KindMarketFrozen, "minting %s is paused", asset.Symbol)
	}
	if lending.CapExceeded(reserve.TotalSupplied, amount, reserve.SupplyCap) {
		return nil, lending.Errorf(a.Protocol(), lending.KindSupplyCapExceeded,
			"supplying %s %s would exceed the supply cap %s", amount, asset.Symbol, reserve.SupplyCap)
	}
	if err := a.CheckAllowance(ctx, asset, user, asset.ReceiptToken, amount); err != nil {
		return nil, err
	}
	if err := a.simulate(ctx, sigMintAllowed, asset.ReceiptToken, user, amount); err != nil {
		return nil, err
	}

	receipt, err := a.Submit(ctx, asset.ReceiptToken, sigMint, params.Signer, amount)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationSupply, params, asset, amount, receipt, reserve.SupplyRate), nil
}

// Withdraw погашает cToken. "max" сжигает весь баланс cToken через redeem.
func (a *Adapter) Withdraw(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationWithdraw, params)
	if err != nil {
		return nil, err
	}

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	snap, err := a.accountSnapshot(ctx, asset, user)
	if err != nil {
		return nil, err
	}
	supplied := snap.underlying()
	if snap.cTokens.Sign() == 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount, "no %s supplied", asset.Symbol)
	}

	var (
		amount       *big.Int
		redeemTokens *big.Int
		signature    string
		submitArg    *big.Int
	)
	if params.Amount.IsMax() {
		amount, redeemTokens = supplied, snap.cTokens
		signature, submitArg = sigRedeem, snap.cTokens
	} else {
		amount = params.Amount.Int()
		if amount.Cmp(supplied) > 0 {
			return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount,
				"withdraw %s exceeds supplied balance %s", amount, supplied)
		}
		redeemTokens = fixedpoint.WadDiv(amount, snap.exchangeRate)
		signature, submitArg = sigRedeemUnderlying, amount
	}
	if amount.Cmp(reserve.AvailableLiquidity) > 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientLiquidity,
			"market %s has %s cash, %s requested", asset.Symbol, reserve.AvailableLiquidity, amount)
	}
	if err := a.simulate(ctx, sigRedeemAllowed, asset.ReceiptToken, user, redeemTokens); err != nil {
		return nil, err
	}

	receipt, err := a.Submit(ctx, asset.ReceiptToken, signature, params.Signer, submitArg)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationWithdraw, params, asset, amount, receipt, reserve.SupplyRate), nil
}

// Borrow занимает актив; health factor после займа проверяется заранее.
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
	case !reserve.BorrowingEnabled:
		return nil, lending.Errorf(a.Protocol(), lending.KindBorrowingDisabled, "borrowing %s is paused", asset.Symbol)
	case lending.CapExceeded(reserve.TotalBorrowed, amount, reserve.BorrowCap):
		return nil, lending.Errorf(a.Protocol(), lending.KindBorrowCapExceeded,
			"borrowing %s %s would exceed the borrow cap %s", amount, asset.Symbol, reserve.BorrowCap)
	case amount.Cmp(reserve.AvailableLiquidity) > 0:
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientLiquidity,
			"market %s has %s cash, %s requested", asset.Symbol, reserve.AvailableLiquidity, amount)
	}

	st, err := a.account(ctx, user)
	if err != nil {
		return nil, err
	}
	borrowValue := lending.ValueUSD(amount, asset.Decimals, reserve.PriceUSD)
	if err := lending.CheckBorrowHealth(a.Protocol(), st.weighted, st.debt, borrowValue); err != nil {
		return nil, err
	}
	if new(big.Int).Add(st.debt, borrowValue).Cmp(st.borrowPower) > 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindInsufficientCollateral,
			"borrow value %s exceeds remaining borrowing power %s",
			fixedpoint.WadToDecimal(borrowValue).StringFixed(2),
			fixedpoint.WadToDecimal(fixedpoint.SubFloor(st.borrowPower, st.debt)).StringFixed(2))
	}
	// Для невключённого рынка comptroller.borrowAllowed требует msg.sender == cToken
	// (cToken сам включает рынок при займе), eth_call без отправителя
	// откатывается. Здесь хватает локальных проверок выше.
	if st.entered[asset.ReceiptToken] {
		if err := a.simulate(ctx, sigBorrowAllowed, asset.ReceiptToken, user, amount); err != nil {
			return nil, err
		}
	}

	receipt, err := a.Submit(ctx, asset.ReceiptToken, sigBorrow, params.Signer, amount)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationBorrow, params, asset, amount, receipt, reserve.BorrowRate), nil
}

// Repay гасит долг. Для "max" cToken получает type(uint256).max (полное
// погашение по правилам рынка), а allowance проверяется на долг с буфером.
func (a *Adapter) Repay(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	asset, user, err := a.prepare(lending.OperationRepay, params)
	if err != nil {
		return nil, err
	}

	reserve, err := a.GetReserveData(ctx, asset.Symbol)
	if err != nil {
		return nil, err
	}
	readDebt := func(ctx context.Context) (*big.Int, error) {
		snap, err := a.accountSnapshot(ctx, asset, user)
		if err != nil {
			return nil, err
		}
		return snap.borrow, nil
	}

	var amount, submitArg *big.Int
	if params.Amount.IsMax() {
		if amount, err = a.ResolveMaxRepay(ctx, readDebt); err != nil {
			return nil, err
		}
		submitArg = fixedpoint.MaxUint256
	} else {
		amount = params.Amount.Int()
		debt, err := readDebt(ctx)
		if err != nil {
			return nil, err
		}
		if debt.Sign() == 0 {
			return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount, "no %s debt to repay", asset.Symbol)
		}
		if amount.Cmp(debt) > 0 {
			return nil, lending.Errorf(a.Protocol(), lending.KindInvalidAmount,
				"repay %s exceeds debt %s, use %q", amount, debt, lending.MaxAmountLiteral)
		}
		submitArg = amount
	}
	if err := a.CheckAllowance(ctx, asset, user, asset.ReceiptToken, amount); err != nil {
		return nil, err
	}
	if err := a.simulate(ctx, sigRepayAllowed, asset.ReceiptToken, user, user, amount); err != nil {
		return nil, err
	}

	receipt, err := a.Submit(ctx, asset.ReceiptToken, sigRepayBorrow, params.Signer, submitArg)
	if err != nil {
		return nil, err
	}
	return a.NewTransaction(lending.OperationRepay, params, asset, amount, receipt, reserve.BorrowRate), nil
}
