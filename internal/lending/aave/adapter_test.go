package aave

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
	"github.com/rovshanmuradov/defi-lending/internal/blockchain/chaintest"
	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

var (
	poolAddr     = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	providerAddr = common.HexToAddress("0x7B4EB56E7CD4b454BA8ff71E4518426369a138a3")
	oracleAddr   = common.HexToAddress("0x54586bE62E3c3580375aE3723C145253060Ca0C2")
	usdcAddr     = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	userAddr     = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

func n(v int64) *big.Int { return big.NewInt(v) }

func usdc(v int64) *big.Int { return new(big.Int).Mul(n(v), n(1_000_000)) }

func base(v int64) *big.Int { return new(big.Int).Mul(n(v), n(100_000_000)) }

func pct(s string) *big.Int {
	return fixedpoint.MustWad(s) // WAD fraction
}

func rayPct(p int64) *big.Int {
	return new(big.Int).Mul(n(p), fixedpoint.Pow10(25))
}

type fixture struct {
	chain   *chaintest.Client
	adapter *Adapter
	signer  blockchain.AddressSigner
}

type reserveState struct {
	totalSupplied, variableDebt *big.Int
	supplyCap, borrowCap        int64
	frozen, paused, borrowing   bool
}

func defaultReserve() reserveState {
	return reserveState{
		totalSupplied: usdc(1_000_000),
		variableDebt:  usdc(400_000),
		supplyCap:     2_000_000,
		borrowing:     true,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	assets, err := lending.NewAssetRegistry([]lending.AssetDescriptor{{
		Symbol:       "USDC",
		Address:      usdcAddr,
		Decimals:     6,
		ReceiptToken: common.HexToAddress("0x98C23E9d8f34FEFb1B7BD6a91B7FF122F4e16F5c"),
	}})
	require.NoError(t, err)

	chain := chaintest.New()
	cfg := lending.ProtocolConfig{
		ID:      lending.ProtocolAaveV3,
		Name:    "Aave",
		Version: "3",
		ChainID: 1,
		Contracts: map[string]common.Address{
			ContractPool:         poolAddr,
			ContractDataProvider: providerAddr,
			ContractOracle:       oracleAddr,
		},
	}
	adapter, err := New(chain, cfg, assets, Options{}, zaptest.NewLogger(t))
	require.NoError(t, err)

	f := &fixture{chain: chain, adapter: adapter, signer: blockchain.AddressSigner(userAddr)}
	f.setReserve(defaultReserve())
	chain.SetRead(oracleAddr, "getAssetPrice", base(1))
	chain.SetRead(usdcAddr, "allowance", usdc(1_000_000_000))
	f.setAccount(base(0), base(0), base(0), 0)
	f.setUserReserve(usdc(0), usdc(0))
	return f
}

func (f *fixture) setReserve(r reserveState) {
	f.chain.SetRead(providerAddr, "getReserveData",
		n(0), n(0), r.totalSupplied, n(0), r.variableDebt,
		rayPct(3), rayPct(5), rayPct(7), n(0), fixedpoint.RAY, fixedpoint.RAY, n(1_700_000_000))
	f.chain.SetRead(providerAddr, "getReserveConfigurationData",
		n(6), n(8000), n(8500), n(10500), n(1000), true, r.borrowing, false, true, r.frozen)
	f.chain.SetRead(providerAddr, "getReserveCaps", n(r.borrowCap), n(r.supplyCap))
	f.chain.SetRead(providerAddr, "getPaused", r.paused)
}

func (f *fixture) setAccount(collateral, debt, available *big.Int, ltBps int64) {
	hf := fixedpoint.HealthyHealthFactor
	if debt.Sign() > 0 {
		weighted := new(big.Int).Mul(collateral, n(ltBps))
		weighted.Quo(weighted, n(10_000))
		hf = fixedpoint.MulDiv(weighted, fixedpoint.WAD, debt)
	}
	f.chain.SetRead(poolAddr, "getUserAccountData", collateral, debt, available, n(ltBps), n(8000), hf)
}

func (f *fixture) setUserReserve(supplied, variableDebt *big.Int) {
	f.chain.SetRead(providerAddr, "getUserReserveData",
		supplied, n(0), variableDebt, n(0), variableDebt, n(0), rayPct(3), n(0), true)
}

func params(amount lending.Amount, signer blockchain.Signer) lending.OperationParams {
	return lending.OperationParams{Asset: "usdc", Amount: amount, User: userAddr, Signer: signer}
}

func TestNewRequiresContracts(t *testing.T) {
	assets, _ := lending.NewAssetRegistry(nil)
	_, err := New(chaintest.New(), lending.ProtocolConfig{Contracts: map[string]common.Address{ContractPool: poolAddr}},
		assets, Options{}, zaptest.NewLogger(t))
	assert.True(t, lending.IsKind(err, lending.KindContractError))
}

func TestGetReserveData(t *testing.T) {
	f := newFixture(t)

	r, err := f.adapter.GetReserveData(context.Background(), "USDC")
	require.NoError(t, err)

	assert.Equal(t, lending.ProtocolAaveV3, r.Protocol)
	assert.Equal(t, rayPct(3), r.SupplyRate)
	assert.Equal(t, rayPct(5), r.BorrowRate)
	assert.Equal(t, rayPct(7), r.StableBorrowRate)
	assert.Equal(t, pct("0.4"), r.UtilizationRate)
	assert.Equal(t, usdc(600_000), r.AvailableLiquidity)
	assert.Equal(t, usdc(2_000_000), r.SupplyCap)
	assert.Equal(t, int64(0), r.BorrowCap.Int64())
	assert.Equal(t, pct("0.8"), r.CollateralFactor)
	assert.Equal(t, pct("0.85"), r.LiquidationThreshold)
	assert.Equal(t, fixedpoint.WAD, r.PriceUSD)
	assert.True(t, r.BorrowingEnabled)
	assert.False(t, r.Frozen)
	assert.Equal(t, int64(1_700_000_000), r.LastUpdate.Unix())
}

func TestGetReserveDataUnsupportedAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.GetReserveData(context.Background(), "DOGE")
	assert.True(t, lending.IsKind(err, lending.KindAssetNotSupported))
}

func TestGetReserveDataOracleFailure(t *testing.T) {
	f := newFixture(t)
	f.chain.FailRead(oracleAddr, "getAssetPrice", &blockchain.CallError{Reason: "stale round"})

	_, err := f.adapter.GetReserveData(context.Background(), "USDC")
	assert.True(t, lending.IsKind(err, lending.KindPriceOracleError))
}

func TestGetUserAccountDataNormalises(t *testing.T) {
	f := newFixture(t)
	f.setAccount(base(10_000), base(4_000), base(4_000), 8500)

	acc, err := f.adapter.GetUserAccountData(context.Background(), userAddr)
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.MustWad("10000"), acc.TotalCollateral)
	assert.Equal(t, fixedpoint.MustWad("4000"), acc.TotalDebt)
	assert.Equal(t, pct("0.85"), acc.LiquidationThreshold)
	assert.Equal(t, pct("0.8"), acc.LoanToValue)
	assert.Equal(t, fixedpoint.MustWad("2.125"), acc.HealthFactor)

	report, err := f.adapter.GetHealthFactor(context.Background(), userAddr)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.False(t, report.CanBeLiquidated)
}

func TestHealthFactorZeroDebtSentinel(t *testing.T) {
	f := newFixture(t)
	f.setAccount(base(500), base(0), base(400), 8500)

	report, err := f.adapter.GetHealthFactor(context.Background(), userAddr)
	require.NoError(t, err)
	assert.True(t, fixedpoint.IsHealthySentinel(report.HealthFactor))
	assert.True(t, report.IsHealthy)
}

func TestSupply(t *testing.T) {
	f := newFixture(t)

	tx, err := f.adapter.Supply(context.Background(), params(lending.NewAmount(usdc(100)), f.signer))
	require.NoError(t, err)

	submits := f.chain.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, poolAddr, submits[0].Contract)
	assert.Equal(t, "supply", submits[0].Method())
	assert.Equal(t, []interface{}{usdcAddr, usdc(100), userAddr, uint16(0)}, submits[0].Args)

	assert.Equal(t, lending.OperationSupply, tx.Kind)
	assert.Equal(t, "USDC", tx.Asset)
	assert.Equal(t, usdc(100), tx.Amount)
	assert.Equal(t, rayPct(3), tx.EffectiveRate)
	assert.NotEmpty(t, tx.ID)
}

func TestSupplyPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		amount lending.Amount
		kind   lending.ErrorKind
	}{
		{
			name:   "zero amount",
			amount: lending.NewAmount(n(0)),
			kind:   lending.KindInvalidAmount,
		},
		{
			name:   "max is not allowed",
			amount: lending.MaxAmount(),
			kind:   lending.KindInvalidAmount,
		},
		{
			name: "frozen",
			setup: func(f *fixture) {
				r := defaultReserve()
				r.frozen = true
				f.setReserve(r)
			},
			amount: lending.NewAmount(usdc(1)),
			kind:   lending.KindMarketFrozen,
		},
		{
			name: "paused",
			setup: func(f *fixture) {
				r := defaultReserve()
				r.paused = true
				f.setReserve(r)
			},
			amount: lending.NewAmount(usdc(1)),
			kind:   lending.KindMarketFrozen,
		},
		{
			name:   "supply cap",
			amount: lending.NewAmount(usdc(1_000_001)),
			kind:   lending.KindSupplyCapExceeded,
		},
		{
			name: "allowance",
			setup: func(f *fixture) {
				f.chain.SetRead(usdcAddr, "allowance", usdc(5))
			},
			amount: lending.NewAmount(usdc(10)),
			kind:   lending.KindTokenAllowanceInsufficient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.adapter.Supply(context.Background(), params(tt.amount, f.signer))
			require.Error(t, err)
			assert.Equal(t, tt.kind, lending.KindOf(err))
			assert.Empty(t, f.chain.Submits())
		})
	}
}

func TestSupplyRevertIsClassified(t *testing.T) {
	f := newFixture(t)
	f.chain.FailSubmit(&blockchain.CallError{Signature: sigSupply, Code: "51", Reason: "51"})

	_, err := f.adapter.Supply(context.Background(), params(lending.NewAmount(usdc(1)), f.signer))
	assert.True(t, lending.IsKind(err, lending.KindSupplyCapExceeded))
}

func TestSupplyRequiresSigner(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.Supply(context.Background(), params(lending.NewAmount(usdc(1)), nil))
	assert.True(t, lending.IsKind(err, lending.KindProtocolRejection))
}

func TestBorrow(t *testing.T) {
	f := newFixture(t)
	f.setAccount(base(1_000), base(0), base(800), 8500)

	tx, err := f.adapter.Borrow(context.Background(), params(lending.NewAmount(usdc(100)), f.signer))
	require.NoError(t, err)

	submits := f.chain.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, "borrow", submits[0].Method())
	assert.Equal(t, []interface{}{usdcAddr, usdc(100), n(2), uint16(0), userAddr}, submits[0].Args)
	assert.Equal(t, rayPct(5), tx.EffectiveRate)
}

func TestBorrowStableUsesStableRate(t *testing.T) {
	f := newFixture(t)
	f.setAccount(base(1_000), base(0), base(800), 8500)

	p := params(lending.NewAmount(usdc(10)), f.signer)
	p.RateMode = lending.RateModeStable
	tx, err := f.adapter.Borrow(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, rayPct(7), tx.EffectiveRate)
	assert.Equal(t, n(1), f.chain.Submits()[0].Args[2])
}

func TestBorrowPreconditions(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		amount *big.Int
		kind   lending.ErrorKind
	}{
		{
			name:   "no collateral",
			setup:  func(f *fixture) { f.setAccount(base(0), base(0), base(0), 0) },
			amount: usdc(1),
			kind:   lending.KindInsufficientCollateral,
		},
		{
			// 850 weighted collateral, 800 debt, +100 => hf 0.94
			name:   "health factor",
			setup:  func(f *fixture) { f.setAccount(base(1_000), base(800), base(0), 8500) },
			amount: usdc(100),
			kind:   lending.KindHealthFactorTooLow,
		},
		{
			// hf after borrow exactly 1.0 is rejected
			name:   "health factor at break-even",
			setup:  func(f *fixture) { f.setAccount(base(1_000), base(750), base(50), 8500) },
			amount: usdc(100),
			kind:   lending.KindHealthFactorTooLow,
		},
		{
			name:   "ltv headroom",
			setup:  func(f *fixture) { f.setAccount(base(1_000), base(0), base(50), 8500) },
			amount: usdc(100),
			kind:   lending.KindInsufficientCollateral,
		},
		{
			name: "borrowing disabled",
			setup: func(f *fixture) {
				r := defaultReserve()
				r.borrowing = false
				f.setReserve(r)
			},
			amount: usdc(1),
			kind:   lending.KindBorrowingDisabled,
		},
		{
			name: "borrow cap",
			setup: func(f *fixture) {
				r := defaultReserve()
				r.borrowCap = 400_010
				f.setReserve(r)
			},
			amount: usdc(11),
			kind:   lending.KindBorrowCapExceeded,
		},
		{
			name:   "liquidity",
			amount: usdc(600_001),
			kind:   lending.KindInsufficientLiquidity,
		},
		{
			name:   "zero price",
			setup:  func(f *fixture) { f.chain.SetRead(oracleAddr, "getAssetPrice", n(0)) },
			amount: usdc(1),
			kind:   lending.KindPriceOracleError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.setAccount(base(1_000_000), base(0), base(800_000), 8500)
			if tt.setup != nil {
				tt.setup(f)
			}
			_, err := f.adapter.Borrow(context.Background(), params(lending.NewAmount(tt.amount), f.signer))
			require.Error(t, err)
			assert.Equal(t, tt.kind, lending.KindOf(err), err.Error())
			assert.Empty(t, f.chain.Submits())
		})
	}
}

func TestWithdrawMax(t *testing.T) {
	f := newFixture(t)
	f.setUserReserve(usdc(250), usdc(0))

	tx, err := f.adapter.Withdraw(context.Background(), params(lending.MaxAmount(), f.signer))
	require.NoError(t, err)

	submits := f.chain.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, fixedpoint.MaxUint256, submits[0].Args[1])
	assert.Equal(t, usdc(250), tx.Amount)
}

func TestWithdrawChecks(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.Withdraw(context.Background(), params(lending.MaxAmount(), f.signer))
	assert.True(t, lending.IsKind(err, lending.KindInvalidAmount))

	f.setUserReserve(usdc(10), usdc(0))
	_, err = f.adapter.Withdraw(context.Background(), params(lending.NewAmount(usdc(11)), f.signer))
	assert.True(t, lending.IsKind(err, lending.KindInvalidAmount))
	assert.Empty(t, f.chain.Submits())
}

func TestRepayMaxAppliesBuffer(t *testing.T) {
	f := newFixture(t)
	f.setUserReserve(usdc(0), n(1_000_000))

	tx, err := f.adapter.Repay(context.Background(), params(lending.MaxAmount(), f.signer))
	require.NoError(t, err)

	submits := f.chain.Submits()
	require.Len(t, submits, 1)
	assert.Equal(t, n(1_000_100), submits[0].Args[1])
	assert.Equal(t, n(1_000_100), tx.Amount)
	assert.Equal(t, rayPct(5), tx.EffectiveRate)
}

func TestRepayMaxRevalidatesStaleDebt(t *testing.T) {
	f := newFixture(t)
	debts := []int64{1_000_000, 2_000_000}
	calls := 0
	f.chain.OnRead(providerAddr, "getUserReserveData", func([]interface{}) ([]interface{}, error) {
		debt := debts[len(debts)-1]
		if calls < len(debts) {
			debt = debts[calls]
		}
		calls++
		return []interface{}{n(0), n(0), n(debt), n(0), n(debt), n(0), n(0), n(0), false}, nil
	})

	tx, err := f.adapter.Repay(context.Background(), params(lending.MaxAmount(), f.signer))
	require.NoError(t, err)
	assert.Equal(t, n(2_000_200), tx.Amount)
	assert.Equal(t, 4, calls)
}

func TestRepayNoDebt(t *testing.T) {
	f := newFixture(t)
	_, err := f.adapter.Repay(context.Background(), params(lending.MaxAmount(), f.signer))
	assert.True(t, lending.IsKind(err, lending.KindInvalidAmount))

	_, err = f.adapter.Repay(context.Background(), params(lending.NewAmount(usdc(1)), f.signer))
	assert.True(t, lending.IsKind(err, lending.KindInvalidAmount))
}

func TestProtocolConfigIsCopy(t *testing.T) {
	f := newFixture(t)
	cfg := f.adapter.GetProtocolConfig()
	cfg.Contracts[ContractPool] = common.Address{}
	assert.Equal(t, poolAddr, f.adapter.GetProtocolConfig().Contracts[ContractPool])
	assert.Len(t, f.adapter.GetSupportedAssets(), 1)
}
