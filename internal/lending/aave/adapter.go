// internal/lending/aave/adapter.go
// Package aave реализует адаптер для протоколов модели «rebasing receipt»
// (пул в стиле Aave V3): балансы уже выражены в базовом активе, health factor
// возвращает сам контракт пула.
package aave

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// Роли контрактов в ProtocolConfig.Contracts.
const (
	ContractPool         = "pool"
	ContractDataProvider = "data_provider"
	ContractOracle       = "oracle"
)

const (
	sigUserAccountData = "getUserAccountData(address)(uint256,uint256,uint256,uint256,uint256,uint256)"
	sigReserveData     = "getReserveData(address)(uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint40)"
	sigReserveConfig   = "getReserveConfigurationData(address)(uint256,uint256,uint256,uint256,uint256,bool,bool,bool,bool,bool)"
	sigReserveCaps     = "getReserveCaps(address)(uint256,uint256)"
	sigPaused          = "getPaused(address)(bool)"
	sigUserReserveData = "getUserReserveData(address,address)(uint256,uint256,uint256,uint256,uint256,uint256,uint256,uint40,bool)"
	sigAssetPrice      = "getAssetPrice(address)(uint256)"
	sigSupply          = "supply(address,uint256,address,uint16)"
	sigWithdraw        = "withdraw(address,uint256,address)(uint256)"
	sigBorrow          = "borrow(address,uint256,uint256,uint16,address)"
	sigRepay           = "repay(address,uint256,uint256,address)(uint256)"
)

const defaultBaseDecimals = 8

// Options настраивает адаптер.
type Options struct {
	// BaseCurrencyDecimals: точность базовой валюты оракула и пула (USD = 8).
	BaseCurrencyDecimals uint8
	ReferralCode         uint16
	RepayBufferBps       int64
}

// Adapter реализует lending.Adapter для пула в стиле Aave V3.
type Adapter struct {
	lending.BaseAdapter

	pool         common.Address
	dataProvider common.Address
	oracle       common.Address
	opts         Options
}

var _ lending.Adapter = (*Adapter)(nil)

// New создает адаптер. Contracts must contain pool, data_provider and oracle.
func New(client blockchain.Client, cfg lending.ProtocolConfig, assets *lending.AssetRegistry, opts Options, logger *zap.Logger) (*Adapter, error) {
	if cfg.ID == "" {
		cfg.ID = lending.ProtocolAaveV3
	}
	a := &Adapter{
		BaseAdapter: lending.NewBaseAdapter(client, cfg, assets, lending.AaveCodes, logger),
		opts:        opts,
	}
	if a.opts.BaseCurrencyDecimals == 0 {
		a.opts.BaseCurrencyDecimals = defaultBaseDecimals
	}
	if opts.RepayBufferBps > 0 {
		a.RepayBufferBps = opts.RepayBufferBps
	}

	var err error
	if a.pool, err = a.Contract(ContractPool); err != nil {
		return nil, err
	}
	if a.dataProvider, err = a.Contract(ContractDataProvider); err != nil {
		return nil, err
	}
	if a.oracle, err = a.Contract(ContractOracle); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) toWad(base *big.Int) *big.Int {
	return fixedpoint.Rescale(base, a.opts.BaseCurrencyDecimals, fixedpoint.WadDecimals)
}

// GetUserAccountData читает агрегаты аккаунта из пула.
func (a *Adapter) GetUserAccountData(ctx context.Context, user common.Address) (*lending.UserAccountSnapshot, error) {
	out, err := a.Read(ctx, a.pool, sigUserAccountData, user)
	if err != nil {
		return nil, err
	}
	v, err := lending.Outputs(out, 0, 1, 2, 3, 4, 5)
	if err != nil {
		return nil, a.Malformed(sigUserAccountData, err)
	}

	snap := &lending.UserAccountSnapshot{
		Protocol:             a.Protocol(),
		User:                 user,
		TotalCollateral:      a.toWad(v[0]),
		TotalDebt:            a.toWad(v[1]),
		AvailableToBorrow:    a.toWad(v[2]),
		LiquidationThreshold: fixedpoint.BpsToWad(v[3]),
		LoanToValue:          fixedpoint.BpsToWad(v[4]),
		HealthFactor:         v[5],
	}
	if snap.TotalDebt.Sign() == 0 {
		snap.HealthFactor = fixedpoint.Clone(fixedpoint.HealthyHealthFactor)
	}
	return snap, nil
}

// GetHealthFactor возвращает health factor, рассчитанный пулом.
func (a *Adapter) GetHealthFactor(ctx context.Context, user common.Address) (*lending.HealthFactorReport, error) {
	acc, err := a.GetUserAccountData(ctx, user)
	if err != nil {
		return nil, err
	}
	return lending.NewHealthFactorReport(acc.HealthFactor, acc.TotalCollateral, acc.TotalDebt, acc.LiquidationThreshold), nil
}

// GetUserReserveData читает позицию пользователя по активу.
func (a *Adapter) GetUserReserveData(ctx context.Context, user common.Address, symbol string) (*lending.UserReserveSnapshot, error) {
	asset, err := a.Asset(symbol)
	if err != nil {
		return nil, err
	}
	out, err := a.Read(ctx, a.dataProvider, sigUserReserveData, asset.Address, user)
	if err != nil {
		return nil, err
	}
	v, err := lending.Outputs(out, 0, 1, 2)
	if err != nil {
		return nil, a.Malformed(sigUserReserveData, err)
	}
	collateral, err := lending.OutBool(out, 8)
	if err != nil {
		return nil, a.Malformed(sigUserReserveData, err)
	}
	return &lending.UserReserveSnapshot{
		Protocol:          a.Protocol(),
		User:              user,
		Asset:             asset.Symbol,
		Supplied:          v[0],
		StableDebt:        v[1],
		VariableDebt:      v[2],
		UsageAsCollateral: collateral,
	}, nil
}

// GetReserveData собирает снимок резерва из data provider и оракула.
// Reads run concurrently; any failure fails the snapshot.
func (a *Adapter) GetReserveData(ctx context.Context, symbol string) (*lending.ReserveSnapshot, error) {
	asset, err := a.Asset(symbol)
	if err != nil {
		return nil, err
	}

	var (
		data, conf, caps []interface{}
		paused           bool
		price            *big.Int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		data, err = a.Read(gctx, a.dataProvider, sigReserveData, asset.Address)
		return err
	})
	g.Go(func() (err error) {
		conf, err = a.Read(gctx, a.dataProvider, sigReserveConfig, asset.Address)
		return err
	})
	g.Go(func() (err error) {
		caps, err = a.Read(gctx, a.dataProvider, sigReserveCaps, asset.Address)
		return err
	})
	g.Go(func() (err error) {
		paused, err = a.ReadBool(gctx, a.dataProvider, sigPaused, asset.Address)
		return err
	})
	g.Go(func() error {
		p, err := a.ReadUint(gctx, a.oracle, sigAssetPrice, asset.Address)
		if err != nil {
			if lending.IsKind(err, lending.KindNetworkError) {
				return err
			}
			return lending.Errorf(a.Protocol(), lending.KindPriceOracleError, "price of %s: %v", asset.Symbol, err)
		}
		price = p
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d, err := lending.Outputs(data, 2, 3, 4, 5, 6, 7, 11)
	if err != nil {
		return nil, a.Malformed(sigReserveData, err)
	}
	totalSupplied, stableDebt, variableDebt := d[0], d[1], d[2]
	liquidityRate, variableRate, stableRate, lastUpdate := d[3], d[4], d[5], d[6]

	c, err := lending.Outputs(conf, 1, 2)
	if err != nil {
		return nil, a.Malformed(sigReserveConfig, err)
	}
	flags := make([]bool, 5)
	for i := range flags {
		if flags[i], err = lending.OutBool(conf, 5+i); err != nil {
			return nil, a.Malformed(sigReserveConfig, err)
		}
	}
	borrowingEnabled, active, frozen := flags[1], flags[3], flags[4]

	capv, err := lending.Outputs(caps, 0, 1)
	if err != nil {
		return nil, a.Malformed(sigReserveCaps, err)
	}
	unit := fixedpoint.Pow10(asset.Decimals)

	totalBorrowed := new(big.Int).Add(stableDebt, variableDebt)
	snap := &lending.ReserveSnapshot{
		Protocol:             a.Protocol(),
		Asset:                asset.Symbol,
		SupplyRate:           liquidityRate,
		BorrowRate:           variableRate,
		StableBorrowRate:     stableRate,
		UtilizationRate:      fixedpoint.WadDiv(totalBorrowed, totalSupplied),
		TotalSupplied:        totalSupplied,
		TotalBorrowed:        totalBorrowed,
		AvailableLiquidity:   fixedpoint.SubFloor(totalSupplied, totalBorrowed),
		BorrowCap:            new(big.Int).Mul(capv[0], unit),
		SupplyCap:            new(big.Int).Mul(capv[1], unit),
		CollateralFactor:     fixedpoint.BpsToWad(c[0]),
		LiquidationThreshold: fixedpoint.BpsToWad(c[1]),
		PriceUSD:             a.toWad(price),
		Frozen:               frozen || !active,
		Paused:               paused,
		BorrowingEnabled:     borrowingEnabled,
		LastUpdate:           time.Unix(lastUpdate.Int64(), 0).UTC(),
	}
	return snap, nil
}
