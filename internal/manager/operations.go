// internal/manager/operations.go
package manager

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
	logutil "github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

// Supply вносит актив в протокол; auto выбирает протокол с лучшей ставкой.
func (m *Manager) Supply(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	return m.execute(ctx, lending.OperationSupply, params)
}

// Withdraw выводит актив; auto ищет протокол, в котором есть депозит.
func (m *Manager) Withdraw(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	return m.execute(ctx, lending.OperationWithdraw, params)
}

// Borrow занимает актив; auto выбирает протокол с минимальной ставкой.
func (m *Manager) Borrow(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	return m.execute(ctx, lending.OperationBorrow, params)
}

// Repay погашает долг; auto ищет протокол, в котором есть долг.
func (m *Manager) Repay(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error) {
	return m.execute(ctx, lending.OperationRepay, params)
}

func (m *Manager) execute(ctx context.Context, op lending.Operation, params lending.OperationParams) (*lending.Transaction, error) {
	if lending.NormalizeSymbol(params.Asset) == "" {
		return nil, lending.NewError(lending.KindAssetNotSupported, "asset is required")
	}
	if params.Amount.IsMax() {
		if op != lending.OperationWithdraw && op != lending.OperationRepay {
			return nil, lending.NewError(lending.KindInvalidAmount, "max is only valid for withdraw and repay")
		}
	} else if !params.Amount.IsPositive() {
		return nil, lending.NewError(lending.KindInvalidAmount, "amount must be positive")
	}

	// позиция ищется по адресу пользователя; по умолчанию это подписант
	if params.User == (common.Address{}) && params.Signer != nil {
		params.User = params.Signer.Address()
	}

	adapter, err := m.route(ctx, op, params)
	if err != nil {
		return nil, err
	}
	params.Protocol = adapter.Protocol()

	logger := m.logger.With(
		zap.String("operation", string(op)),
		zap.String("protocol", string(params.Protocol)),
		zap.String("asset", params.Asset),
		zap.String("amount", params.Amount.String()),
		zap.String("user", params.User.Hex()))
	logger.Info("Executing lending operation")

	tx, err := call(ctx, m, params.Protocol, string(op), m.opts.WriteTimeout,
		func(ctx context.Context) (*lending.Transaction, error) {
			switch op {
			case lending.OperationSupply:
				return adapter.Supply(ctx, params)
			case lending.OperationWithdraw:
				return adapter.Withdraw(ctx, params)
			case lending.OperationBorrow:
				return adapter.Borrow(ctx, params)
			default:
				return adapter.Repay(ctx, params)
			}
		})
	if m.metrics != nil {
		m.metrics.RecordTransaction(string(params.Protocol), string(op), err)
	}
	if err != nil {
		logger.Warn("Lending operation failed", zap.Error(err))
		return nil, err
	}

	logger = logger.With(logutil.TransactionFields(tx)...)
	logger.Info("Lending operation confirmed")

	if m.journal != nil {
		// подтверждённая транзакция уже в сети, ошибку журнала только логируем
		if jerr := m.journal.Record(ctx, *tx); jerr != nil {
			logger.Error("Failed to journal transaction", zap.Error(jerr))
		}
	}
	return tx, nil
}

// route выбирает адаптер для операции.
func (m *Manager) route(ctx context.Context, op lending.Operation, params lending.OperationParams) (lending.Adapter, error) {
	if params.Protocol != "" && params.Protocol != lending.ProtocolAuto {
		adapter, err := m.requireAdapter(params.Protocol)
		if err != nil {
			return nil, err
		}
		if _, ok := supports(adapter, params.Asset); !ok {
			return nil, lending.Errorf(params.Protocol, lending.KindAssetNotSupported,
				"asset %s is not supported", params.Asset)
		}
		return adapter, nil
	}

	switch op {
	case lending.OperationSupply, lending.OperationBorrow:
		cmp, err := m.GetCurrentRates(ctx, params.Asset)
		if err != nil {
			return nil, err
		}
		id := cmp.BestSupplyProtocol
		if op == lending.OperationBorrow {
			id = cmp.BestBorrowProtocol
		}
		m.logger.Debug("Auto-selected protocol",
			zap.String("operation", string(op)),
			zap.String("asset", params.Asset),
			zap.String("protocol", string(id)))
		return m.requireAdapter(id)
	default:
		side := lending.SideSupply
		if op == lending.OperationRepay {
			side = lending.SideBorrow
		}
		return m.locate(ctx, params.User, params.Asset, side)
	}
}

// locate находит протокол, где у пользователя есть позиция: сначала по
// журналу, затем опросом всех протоколов (берётся наибольший баланс).
func (m *Manager) locate(ctx context.Context, user common.Address, asset string, side lending.PositionSide) (lending.Adapter, error) {
	if m.journal != nil {
		id, err := m.journal.LastProtocol(ctx, user, asset, side)
		if err != nil {
			m.logger.Warn("Journal lookup failed", zap.String("asset", asset), zap.Error(err))
		} else if adapter, ok := m.adapters[id]; ok {
			if _, supported := supports(adapter, asset); supported {
				balance, err := m.balance(ctx, adapter, user, asset, side)
				if err == nil && balance.Sign() > 0 {
					return adapter, nil
				}
			}
		}
	}

	adapters := m.adaptersFor(asset)
	if len(adapters) == 0 {
		return nil, lending.NewError(lending.KindAssetNotSupported, "no protocol supports "+asset)
	}

	balances := make([]*big.Int, len(adapters))
	errs := make([]error, len(adapters))
	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			balances[i], errs[i] = m.balance(ctx, a, user, asset, side)
			return nil
		})
	}
	_ = g.Wait()

	var (
		best    lending.Adapter
		bestBal *big.Int
		failed  = make(map[lending.ProtocolID]error)
	)
	for i, a := range adapters {
		if errs[i] != nil {
			failed[a.Protocol()] = errs[i]
			m.partialFailure("locate", a.Protocol(), errs[i])
			continue
		}
		if balances[i].Sign() > 0 && (bestBal == nil || balances[i].Cmp(bestBal) > 0) {
			best, bestBal = a, balances[i]
		}
	}
	if best != nil {
		return best, nil
	}
	if len(failed) == len(adapters) {
		return nil, lending.AllAdaptersFailed(lending.NormalizeSymbol(asset), failed)
	}

	noPosition := lending.NewError(lending.KindInvalidAmount, "no "+string(side)+" position in "+asset)
	if len(failed) > 0 {
		// позиция может быть в протоколе, который не ответил
		noPosition.Err = lending.AllAdaptersFailed(lending.NormalizeSymbol(asset), failed)
	}
	return nil, noPosition
}

func (m *Manager) balance(ctx context.Context, a lending.Adapter, user common.Address, asset string, side lending.PositionSide) (*big.Int, error) {
	r, err := call(ctx, m, a.Protocol(), "GetUserReserveData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.UserReserveSnapshot, error) {
			return a.GetUserReserveData(ctx, user, asset)
		})
	if err != nil {
		return nil, err
	}
	if side == lending.SideBorrow {
		return r.TotalDebt(), nil
	}
	if r.Supplied == nil {
		return new(big.Int), nil
	}
	return r.Supplied, nil
}
