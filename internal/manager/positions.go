// internal/manager/positions.go
package manager

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/risk"
)

// GetUserPositions собирает позиции пользователя по всем протоколам и активам.
// A protocol whose account or reserve read failed is listed in Failures and
// the report is marked incomplete.
func (m *Manager) GetUserPositions(ctx context.Context, user common.Address) (*PositionsReport, error) {
	perProtocol := make([][]lending.Position, len(m.order))
	errs := make([]error, len(m.order))

	var g errgroup.Group
	for i, id := range m.order {
		adapter := m.adapters[id]
		g.Go(func() error {
			perProtocol[i], errs[i] = m.protocolPositions(ctx, adapter, user)
			return nil
		})
	}
	_ = g.Wait()

	report := &PositionsReport{
		User:      user,
		Positions: []lending.Position{},
		Failures:  make(map[lending.ProtocolID]error),
	}
	for i, id := range m.order {
		if errs[i] != nil {
			report.Failures[id] = errs[i]
			m.partialFailure("GetUserPositions", id, errs[i])
		}
		report.Positions = append(report.Positions, perProtocol[i]...)
	}
	if len(report.Failures) == len(m.order) {
		return nil, lending.AllAdaptersFailed("positions of "+user.Hex(), report.Failures)
	}
	report.Complete = len(report.Failures) == 0
	return report, nil
}

// protocolPositions returns what could be read together with the first
// failure, so a single bad market does not hide the rest.
func (m *Manager) protocolPositions(ctx context.Context, a lending.Adapter, user common.Address) ([]lending.Position, error) {
	id := a.Protocol()
	account, err := call(ctx, m, id, "GetUserAccountData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.UserAccountSnapshot, error) {
			return a.GetUserAccountData(ctx, user)
		})
	if err != nil {
		return nil, err
	}
	level := risk.CalculateLiquidationRisk(account.HealthFactor)

	assets := a.GetSupportedAssets()
	perAsset := make([][]lending.Position, len(assets))

	var (
		mu       sync.Mutex
		firstErr error
		g        errgroup.Group
	)
	g.SetLimit(4)
	for i, d := range assets {
		g.Go(func() error {
			positions, err := m.assetPositions(ctx, a, user, d, account.HealthFactor, level)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return nil
			}
			perAsset[i] = positions
			return nil
		})
	}
	_ = g.Wait()

	var out []lending.Position
	for _, p := range perAsset {
		out = append(out, p...)
	}
	return out, firstErr
}

func (m *Manager) assetPositions(ctx context.Context, a lending.Adapter, user common.Address, d lending.AssetDescriptor, hf *big.Int, level lending.RiskLevel) ([]lending.Position, error) {
	id := a.Protocol()
	r, err := call(ctx, m, id, "GetUserReserveData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.UserReserveSnapshot, error) {
			return a.GetUserReserveData(ctx, user, d.Symbol)
		})
	if err != nil {
		return nil, err
	}
	supplied, debt := fixedpoint.Clone(r.Supplied), r.TotalDebt()
	if supplied.Sign() == 0 && debt.Sign() == 0 {
		return nil, nil
	}

	// ставка и цена необязательны: без них позиция всё равно возвращается
	reserve, rerr := call(ctx, m, id, "GetReserveData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.ReserveSnapshot, error) {
			return a.GetReserveData(ctx, d.Symbol)
		})
	if rerr != nil {
		m.logger.Debug("Reserve data unavailable for position",
			zap.String("protocol", string(id)),
			zap.String("asset", d.Symbol),
			zap.Error(rerr))
	}

	position := func(side lending.PositionSide, amount *big.Int) lending.Position {
		p := lending.Position{
			Protocol:     id,
			Asset:        d.Symbol,
			Side:         side,
			Amount:       amount,
			Collateral:   side == lending.SideSupply && r.UsageAsCollateral,
			HealthFactor: fixedpoint.Clone(hf),
			Risk:         level,
		}
		if reserve != nil {
			p.ValueUSD = lending.ValueUSD(amount, d.Decimals, reserve.PriceUSD)
			switch {
			case side == lending.SideSupply:
				p.Rate = fixedpoint.Clone(reserve.SupplyRate)
			case fixedpoint.IsZero(r.VariableDebt) && reserve.StableBorrowRate != nil:
				p.Rate = fixedpoint.Clone(reserve.StableBorrowRate)
			default:
				p.Rate = fixedpoint.Clone(reserve.BorrowRate)
			}
		}
		return p
	}

	var out []lending.Position
	if supplied.Sign() > 0 {
		out = append(out, position(lending.SideSupply, supplied))
	}
	if debt.Sign() > 0 {
		out = append(out, position(lending.SideBorrow, debt))
	}
	return out, nil
}

// GetAccountHealth агрегирует здоровье аккаунта по всем протоколам.
func (m *Manager) GetAccountHealth(ctx context.Context, user common.Address) (*AccountHealth, error) {
	accounts := make([]*lending.UserAccountSnapshot, len(m.order))
	errs := make([]error, len(m.order))

	var g errgroup.Group
	for i, id := range m.order {
		adapter := m.adapters[id]
		g.Go(func() error {
			accounts[i], errs[i] = call(ctx, m, id, "GetUserAccountData", m.opts.CallTimeout,
				func(ctx context.Context) (*lending.UserAccountSnapshot, error) {
					return adapter.GetUserAccountData(ctx, user)
				})
			return nil
		})
	}
	_ = g.Wait()

	health := &AccountHealth{
		User:     user,
		Failures: make(map[lending.ProtocolID]error),
	}
	collateral, debt, weighted := new(big.Int), new(big.Int), new(big.Int)
	var (
		worst  *big.Int
		values []*big.Int
	)
	for i, id := range m.order {
		if errs[i] != nil {
			health.Failures[id] = errs[i]
			m.partialFailure("GetAccountHealth", id, errs[i])
			continue
		}
		a := accounts[i]
		c, d := fixedpoint.Clone(a.TotalCollateral), fixedpoint.Clone(a.TotalDebt)
		hf := fixedpoint.Clone(a.HealthFactor)
		if a.HealthFactor == nil {
			hf = lending.AccountHealthFactor(fixedpoint.WadMul(c, fixedpoint.Clone(a.LiquidationThreshold)), d)
		}

		collateral.Add(collateral, c)
		debt.Add(debt, d)
		weighted.Add(weighted, fixedpoint.WadMul(c, fixedpoint.Clone(a.LiquidationThreshold)))
		values = append(values, c)
		if worst == nil || hf.Cmp(worst) < 0 {
			worst = hf
		}

		health.Protocols = append(health.Protocols, ProtocolHealth{
			Protocol:             id,
			TotalCollateral:      c,
			TotalDebt:            d,
			HealthFactor:         hf,
			LiquidationThreshold: fixedpoint.Clone(a.LiquidationThreshold),
			Risk:                 risk.CalculateLiquidationRisk(hf),
		})
	}
	if len(health.Failures) == len(m.order) {
		return nil, lending.AllAdaptersFailed("health of "+user.Hex(), health.Failures)
	}

	health.TotalCollateral = collateral
	health.TotalDebt = debt
	health.HealthFactor = risk.PortfolioHealthFactor(collateral, debt)
	health.RiskAdjustedHealthFactor = lending.AccountHealthFactor(weighted, debt)
	health.Risk = risk.CalculateLiquidationRisk(worst)
	health.Diversification = risk.DiversificationScore(values)
	health.HealthScore = m.opts.Weights.Score(health.RiskAdjustedHealthFactor, utilization(collateral, debt), health.Diversification)
	health.Complete = len(health.Failures) == 0
	return health, nil
}

// utilization is debt over collateral; 100% when there is debt but no collateral.
func utilization(collateral, debt *big.Int) *big.Int {
	if debt.Sign() == 0 {
		return new(big.Int)
	}
	if collateral.Sign() == 0 {
		return fixedpoint.Clone(fixedpoint.WAD)
	}
	return fixedpoint.WadDiv(debt, collateral)
}

// OptimalBorrow считает, сколько ещё можно занять в протоколе, не опуская
// health factor ниже targetHF. With an asset the value is also converted to
// native units at the reserve price; auto picks the cheapest protocol for it.
func (m *Manager) OptimalBorrow(ctx context.Context, user common.Address, protocol lending.ProtocolID, asset string, targetHF *big.Int) (*BorrowCapacity, error) {
	if targetHF == nil || targetHF.Sign() <= 0 {
		return nil, lending.NewError(lending.KindInvalidAmount, "target health factor must be positive")
	}
	if protocol == "" || protocol == lending.ProtocolAuto {
		if asset == "" {
			return nil, lending.NewError(lending.KindProtocolRejection, "protocol is required without an asset")
		}
		cmp, err := m.GetCurrentRates(ctx, asset)
		if err != nil {
			return nil, err
		}
		protocol = cmp.BestBorrowProtocol
	}
	adapter, err := m.requireAdapter(protocol)
	if err != nil {
		return nil, err
	}

	account, err := call(ctx, m, protocol, "GetUserAccountData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.UserAccountSnapshot, error) {
			return adapter.GetUserAccountData(ctx, user)
		})
	if err != nil {
		return nil, err
	}

	value := risk.CalculateOptimalBorrowAmount(account.TotalCollateral, account.LiquidationThreshold, account.TotalDebt, targetHF)
	if account.AvailableToBorrow != nil {
		value = fixedpoint.Min(value, account.AvailableToBorrow)
	}
	out := &BorrowCapacity{
		Protocol:            protocol,
		TargetHealthFactor:  fixedpoint.Clone(targetHF),
		CurrentHealthFactor: fixedpoint.Clone(account.HealthFactor),
		Value:               value,
	}
	if asset == "" {
		return out, nil
	}

	d, ok := supports(adapter, asset)
	if !ok {
		return nil, lending.Errorf(protocol, lending.KindAssetNotSupported, "asset %s is not supported", asset)
	}
	reserve, err := call(ctx, m, protocol, "GetReserveData", m.opts.CallTimeout,
		func(ctx context.Context) (*lending.ReserveSnapshot, error) {
			return adapter.GetReserveData(ctx, d.Symbol)
		})
	if err != nil {
		return nil, err
	}
	if fixedpoint.IsZero(reserve.PriceUSD) {
		return nil, lending.Errorf(protocol, lending.KindPriceOracleError, "no price for %s", d.Symbol)
	}
	out.Asset = d.Symbol
	out.Amount = fixedpoint.MulDiv(value, fixedpoint.Pow10(d.Decimals), reserve.PriceUSD)
	return out, nil
}
