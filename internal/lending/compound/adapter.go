// internal/lending/compound/adapter.go
// Package compound реализует адаптер для протоколов модели «exchange rate»
// (comptroller + cToken в стиле Compound V2). Балансы хранятся в cToken и
// переводятся в базовый актив через курс обмена; health factor адаптер
// считает сам, обходя все рынки пользователя.
package compound

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
	ContractComptroller = "comptroller"
	ContractOracle      = "oracle"
)

const (
	sigAssetsIn         = "getAssetsIn(address)(address[])"
	sigMarkets          = "markets(address)(bool,uint256,bool)"
	sigBorrowCaps       = "borrowCaps(address)(uint256)"
	sigSupplyCaps       = "supplyCaps(address)(uint256)"
	sigMintPaused       = "mintGuardianPaused(address)(bool)"
	sigBorrowPaused     = "borrowGuardianPaused(address)(bool)"
	sigUnderlyingPrice  = "getUnderlyingPrice(address)(uint256)"
	sigAccountSnapshot  = "getAccountSnapshot(address)(uint256,uint256,uint256,uint256)"
	sigExchangeRate     = "exchangeRateStored()(uint256)"
	sigSupplyRate       = "supplyRatePerBlock()(uint256)"
	sigBorrowRate       = "borrowRatePerBlock()(uint256)"
	sigCash             = "getCash()(uint256)"
	sigTotalBorrows     = "totalBorrows()(uint256)"
	sigTotalReserves    = "totalReserves()(uint256)"
	sigTotalSupply      = "totalSupply()(uint256)"
	sigMintAllowed      = "mintAllowed(address,address,uint256)(uint256)"
	sigRedeemAllowed    = "redeemAllowed(address,address,uint256)(uint256)"
	sigBorrowAllowed    = "borrowAllowed(address,address,uint256)(uint256)"
	sigRepayAllowed     = "repayBorrowAllowed(address,address,address,uint256)(uint256)"
	sigMint             = "mint(uint256)(uint256)"
	sigRedeem           = "redeem(uint256)(uint256)"
	sigRedeemUnderlying = "redeemUnderlying(uint256)(uint256)"
	sigBorrow           = "borrow(uint256)(uint256)"
	sigRepayBorrow      = "repayBorrow(uint256)(uint256)"
)

const (
	// 12-секундные блоки
	DefaultBlocksPerYear uint64 = 2_628_000

	// DefaultMarketCacheTTL для конфигурации рынков.
	DefaultMarketCacheTTL = 30 * time.Second

	maxParallelMarkets = 4
)

// Options настраивает адаптер.
type Options struct {
	BlocksPerYear  uint64
	MarketCacheTTL time.Duration // 0 disables the cache
	RepayBufferBps int64
}

// Adapter реализует lending.Adapter для comptroller/cToken рынков.
type Adapter struct {
	lending.BaseAdapter

	comptroller       common.Address
	oracle            common.Address
	comptrollerErrors *lending.ErrorMapper
	markets           *marketCache
	opts              Options
}

var _ lending.Adapter = (*Adapter)(nil)

// New создает адаптер. Каждый актив обязан иметь ReceiptToken (cToken).
func New(client blockchain.Client, cfg lending.ProtocolConfig, assets *lending.AssetRegistry, opts Options, logger *zap.Logger) (*Adapter, error) {
	if cfg.ID == "" {
		cfg.ID = lending.ProtocolCompound
	}
	if opts.BlocksPerYear == 0 {
		opts.BlocksPerYear = DefaultBlocksPerYear
	}

	a := &Adapter{
		BaseAdapter:       lending.NewBaseAdapter(client, cfg, assets, lending.CompoundTokenCodes, logger),
		comptrollerErrors: lending.NewErrorMapper(cfg.ID, lending.CompoundComptrollerCodes),
		opts:              opts,
	}
	if opts.RepayBufferBps > 0 {
		a.RepayBufferBps = opts.RepayBufferBps
	}
	a.markets = newMarketCache(opts.MarketCacheTTL, func() time.Time { return a.Now() })

	var err error
	if a.comptroller, err = a.Contract(ContractComptroller); err != nil {
		return nil, err
	}
	if a.oracle, err = a.Contract(ContractOracle); err != nil {
		return nil, err
	}
	for _, asset := range assets.All() {
		if (asset.ReceiptToken == common.Address{}) {
			return nil, lending.Errorf(cfg.ID, lending.KindContractError, "asset %s has no cToken configured", asset.Symbol)
		}
	}
	return a, nil
}

// price returns the oracle price as WAD per whole token. The oracle reports
// prices scaled by 1e(36-decimals).
func (a *Adapter) price(ctx context.Context, asset lending.AssetDescriptor) (*big.Int, error) {
	raw, err := a.ReadUint(ctx, a.oracle, sigUnderlyingPrice, asset.ReceiptToken)
	if err != nil {
		if lending.IsKind(err, lending.KindNetworkError) {
			return nil, err
		}
		return nil, lending.Errorf(a.Protocol(), lending.KindPriceOracleError, "price of %s: %v", asset.Symbol, err)
	}
	if raw.Sign() == 0 {
		return nil, lending.Errorf(a.Protocol(), lending.KindPriceOracleError, "oracle has no price for %s", asset.Symbol)
	}
	return fixedpoint.MulDiv(raw, fixedpoint.Pow10(asset.Decimals), fixedpoint.WAD), nil
}

// liquidationFactor is the configured override or the market collateral factor.
func liquidationFactor(asset lending.AssetDescriptor, cfg marketConfig) *big.Int {
	if asset.LiquidationFactor != nil {
		return asset.LiquidationFactor
	}
	return cfg.collateralFactor
}

type accountSnapshot struct {
	cTokens      *big.Int
	borrow       *big.Int
	exchangeRate *big.Int
}

func (s accountSnapshot) underlying() *big.Int {
	return fixedpoint.WadMul(s.cTokens, s.exchangeRate)
}

func (a *Adapter) accountSnapshot(ctx context.Context, asset lending.AssetDescriptor, user common.Address) (accountSnapshot, error) {
	out, err := a.Read(ctx, asset.ReceiptToken, sigAccountSnapshot, user)
	if err != nil {
		return accountSnapshot{}, err
	}
	v, err := lending.Outputs(out, 0, 1, 2, 3)
	if err != nil {
		return accountSnapshot{}, a.Malformed(sigAccountSnapshot, err)
	}
	if v[0].Sign() != 0 {
		return accountSnapshot{}, a.Errors.FromCode(v[0].String(), "getAccountSnapshot of "+asset.Symbol+" failed")
	}
	return accountSnapshot{cTokens: v[1], borrow: v[2], exchangeRate: v[3]}, nil
}

func (a *Adapter) enteredMarkets(ctx context.Context, user common.Address) (map[common.Address]bool, error) {
	out, err := a.Read(ctx, a.comptroller, sigAssetsIn, user)
	if err != nil {
		return nil, err
	}
	list, err := lending.OutAddresses(out, 0)
	if err != nil {
		return nil, a.Malformed(sigAssetsIn, err)
	}
	entered := make(map[common.Address]bool, len(list))
	for _, addr := range list {
		asset, ok := a.Assets.ByAddress(addr)
		if !ok {
			// рынок вне реестра не участвует в расчётах
			a.Logger.Debug("Ignoring unlisted entered market", zap.String("market", addr.Hex()))
			continue
		}
		entered[asset.ReceiptToken] = true
	}
	return entered, nil
}

// accountState is the sum over a user's markets. USD WAD.
type accountState struct {
	collateral  *big.Int // entered markets only
	weighted    *big.Int // Σ collateral · liquidation factor
	borrowPower *big.Int // Σ collateral · collateral factor
	debt        *big.Int
	entered     map[common.Address]bool // cToken -> рынок включён как залог
}

type marketContribution struct {
	collateral, weighted, borrowPower, debt *big.Int
}

// account обходит все поддерживаемые рынки. O(#assets) чтений на вызов;
// конфигурация рынков берётся из кэша.
func (a *Adapter) account(ctx context.Context, user common.Address) (*accountState, error) {
	entered, err := a.enteredMarkets(ctx, user)
	if err != nil {
		return nil, err
	}

	assets := a.GetSupportedAssets()
	parts := make([]marketContribution, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelMarkets)
	for i, asset := range assets {
		g.Go(func() error {
			snap, err := a.accountSnapshot(gctx, asset, user)
			if err != nil {
				return err
			}
			isCollateral := entered[asset.ReceiptToken] && snap.cTokens.Sign() > 0
			if !isCollateral && snap.borrow.Sign() == 0 {
				parts[i] = marketContribution{}
				return nil
			}

			price, err := a.price(gctx, asset)
			if err != nil {
				return err
			}
			part := marketContribution{debt: lending.ValueUSD(snap.borrow, asset.Decimals, price)}
			if isCollateral {
				cfg, err := a.market(gctx, asset)
				if err != nil {
					return err
				}
				value := lending.ValueUSD(snap.underlying(), asset.Decimals, price)
				part.collateral = value
				part.weighted = fixedpoint.WadMul(value, liquidationFactor(asset, cfg))
				part.borrowPower = fixedpoint.WadMul(value, cfg.collateralFactor)
			}
			parts[i] = part
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state := &accountState{
		collateral:  new(big.Int),
		weighted:    new(big.Int),
		borrowPower: new(big.Int),
		debt:        new(big.Int),
		entered:     entered,
	}
	for _, p := range parts {
		if p.collateral != nil {
			state.collateral.Add(state.collateral, p.collateral)
			state.weighted.Add(state.weighted, p.weighted)
			state.borrowPower.Add(state.borrowPower, p.borrowPower)
		}
		if p.debt != nil {
			state.debt.Add(state.debt, p.debt)
		}
	}
	return state, nil
}

// GetUserAccountData вычисляет агрегаты аккаунта по всем рынкам.
func (a *Adapter) GetUserAccountData(ctx context.Context, user common.Address) (*lending.UserAccountSnapshot, error) {
	st, err := a.account(ctx, user)
	if err != nil {
		return nil, err
	}
	return &lending.UserAccountSnapshot{
		Protocol:             a.Protocol(),
		User:                 user,
		TotalCollateral:      st.collateral,
		TotalDebt:            st.debt,
		AvailableToBorrow:    fixedpoint.SubFloor(st.borrowPower, st.debt),
		LiquidationThreshold: fixedpoint.WadDiv(st.weighted, st.collateral),
		LoanToValue:          fixedpoint.WadDiv(st.borrowPower, st.collateral),
		HealthFactor:         lending.AccountHealthFactor(st.weighted, st.debt),
	}, nil
}

// GetHealthFactor = Σcollateral·liquidationFactor / Σdebt.
func (a *Adapter) GetHealthFactor(ctx context.Context, user common.Address) (*lending.HealthFactorReport, error) {
	acc, err := a.GetUserAccountData(ctx, user)
	if err != nil {
		return nil, err
	}
	return lending.NewHealthFactorReport(acc.HealthFactor, acc.TotalCollateral, acc.TotalDebt, acc.LiquidationThreshold), nil
}

// GetUserReserveData переводит баланс cToken в базовый актив.
func (a *Adapter) GetUserReserveData(ctx context.Context, user common.Address, symbol string) (*lending.UserReserveSnapshot, error) {
	asset, err := a.Asset(symbol)
	if err != nil {
		return nil, err
	}
	snap, err := a.accountSnapshot(ctx, asset, user)
	if err != nil {
		return nil, err
	}
	entered, err := a.enteredMarkets(ctx, user)
	if err != nil {
		return nil, err
	}
	return &lending.UserReserveSnapshot{
		Protocol:          a.Protocol(),
		User:              user,
		Asset:             asset.Symbol,
		Supplied:          snap.underlying(),
		StableDebt:        new(big.Int),
		VariableDebt:      snap.borrow,
		UsageAsCollateral: entered[asset.ReceiptToken],
	}, nil
}

// GetReserveData собирает снимок рынка. Ставки за блок годовые по простой схеме.
func (a *Adapter) GetReserveData(ctx context.Context, symbol string) (*lending.ReserveSnapshot, error) {
	asset, err := a.Asset(symbol)
	if err != nil {
		return nil, err
	}
	cToken := asset.ReceiptToken

	reads := []string{sigSupplyRate, sigBorrowRate, sigCash, sigTotalBorrows, sigTotalReserves, sigTotalSupply, sigExchangeRate}
	values := make([]*big.Int, len(reads))
	var (
		cfg   marketConfig
		price *big.Int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, sig := range reads {
		g.Go(func() (err error) {
			values[i], err = a.ReadUint(gctx, cToken, sig)
			return err
		})
	}
	g.Go(func() (err error) {
		cfg, err = a.market(gctx, asset)
		return err
	})
	g.Go(func() (err error) {
		price, err = a.price(gctx, asset)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	supplyPerBlock, borrowPerBlock := values[0], values[1]
	cash, borrows, reserves := values[2], values[3], values[4]
	totalSupply, exchangeRate := values[5], values[6]

	pool := fixedpoint.SubFloor(new(big.Int).Add(cash, borrows), reserves)

	return &lending.ReserveSnapshot{
		Protocol:             a.Protocol(),
		Asset:                asset.Symbol,
		SupplyRate:           fixedpoint.PerBlockToAnnualRay(supplyPerBlock, a.opts.BlocksPerYear),
		BorrowRate:           fixedpoint.PerBlockToAnnualRay(borrowPerBlock, a.opts.BlocksPerYear),
		StableBorrowRate:     new(big.Int),
		UtilizationRate:      fixedpoint.WadDiv(borrows, pool),
		TotalSupplied:        fixedpoint.WadMul(totalSupply, exchangeRate),
		TotalBorrowed:        borrows,
		AvailableLiquidity:   cash,
		SupplyCap:            cfg.supplyCap,
		BorrowCap:            cfg.borrowCap,
		CollateralFactor:     cfg.collateralFactor,
		LiquidationThreshold: liquidationFactor(asset, cfg),
		PriceUSD:             price,
		Frozen:               false,
		Paused:               cfg.mintPaused,
		BorrowingEnabled:     !cfg.borrowPaused,
		LastUpdate:           a.Now().UTC(),
	}, nil
}
