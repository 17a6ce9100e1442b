package manager

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/lending/lendingtest"
)

var (
	user = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	usdc = lendingtest.Asset("USDC", 6)
	weth = lendingtest.Asset("WETH", 18)
)

type memJournal struct {
	mu      sync.Mutex
	txs     []lending.Transaction
	last    map[lending.PositionSide]lending.ProtocolID
	asked   []common.Address
	failErr error
}

func (j *memJournal) Record(_ context.Context, tx lending.Transaction) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.failErr != nil {
		return j.failErr
	}
	j.txs = append(j.txs, tx)
	return nil
}

func (j *memJournal) LastProtocol(_ context.Context, u common.Address, _ string, side lending.PositionSide) (lending.ProtocolID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.asked = append(j.asked, u)
	return j.last[side], nil
}

type countingMetrics struct {
	mu       sync.Mutex
	calls    int
	txs      map[string]int
	partials map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{txs: map[string]int{}, partials: map[string]int{}}
}

func (c *countingMetrics) RecordAdapterCall(string, string, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
}

func (c *countingMetrics) RecordTransaction(protocol, operation string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err == nil {
		c.txs[protocol+"/"+operation]++
	}
}

func (c *countingMetrics) RecordPartialFailure(operation, protocol string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partials[operation+"/"+protocol]++
}

func wad(s string) *big.Int { return fixedpoint.MustWad(s) }

func newPair() (*lendingtest.Adapter, *lendingtest.Adapter) {
	a := lendingtest.New(lending.ProtocolAaveV3, usdc, weth)
	b := lendingtest.New(lending.ProtocolCompound, usdc, weth)
	return a, b
}

func newManager(t *testing.T, opts Options, options ...Option) (*Manager, *lendingtest.Adapter, *lendingtest.Adapter) {
	t.Helper()
	a, b := newPair()
	m, err := New([]lending.Adapter{a, b}, opts, zaptest.NewLogger(t), options...)
	require.NoError(t, err)
	return m, a, b
}

func TestNewValidates(t *testing.T) {
	_, err := New(nil, DefaultOptions(), zaptest.NewLogger(t))
	assert.Error(t, err)

	a := lendingtest.New(lending.ProtocolAaveV3, usdc)
	_, err = New([]lending.Adapter{a, a}, DefaultOptions(), zaptest.NewLogger(t))
	assert.Error(t, err)

	opts := DefaultOptions()
	opts.Weights.Utilization = wad("0.4")
	_, err = New([]lending.Adapter{a}, opts, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGetCurrentRatesPicksBest(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))

	cmp, err := m.GetCurrentRates(context.Background(), "usdc")
	require.NoError(t, err)

	assert.Equal(t, "USDC", cmp.Asset)
	assert.Len(t, cmp.Rates, 2)
	assert.Equal(t, lending.ProtocolCompound, cmp.BestSupplyProtocol)
	assert.Equal(t, lending.ProtocolCompound, cmp.BestBorrowProtocol)
	assert.Equal(t, lendingtest.Percent(2), cmp.RateAdvantage)
	assert.True(t, cmp.RateAdvantagePercent.Equal(decimal.NewFromInt(2)), cmp.RateAdvantagePercent.String())
	assert.Equal(t, lending.RiskLow, cmp.Risk)
	assert.Contains(t, cmp.Recommendation, string(lending.ProtocolCompound))
	assert.Empty(t, cmp.Failures)
	assert.False(t, cmp.Timestamp.IsZero())
}

func TestGetCurrentRatesPrefersOpenMarketsForBorrow(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	closed := b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))
	closed.BorrowingEnabled = false

	cmp, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolCompound, cmp.BestSupplyProtocol)
	assert.Equal(t, lending.ProtocolAaveV3, cmp.BestBorrowProtocol)
}

func TestGetCurrentRatesPrefersOpenMarketsForSupply(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	frozen := b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))
	frozen.Frozen = true

	cmp, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolAaveV3, cmp.BestSupplyProtocol)
	assert.Equal(t, lending.ProtocolAaveV3, cmp.BestBorrowProtocol)
	// спред считается по всем ответившим протоколам
	assert.Equal(t, lendingtest.Percent(2), cmp.RateAdvantage)
	require.Len(t, cmp.Rates, 2)
	assert.True(t, cmp.Rates[1].Frozen)
}

func TestGetCurrentRatesUtilizationTier(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	hot := b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))
	hot.UtilizationRate = wad("0.95")

	cmp, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, lending.RiskHigh, cmp.Risk)
}

func TestGetCurrentRatesOmitsFailingProtocol(t *testing.T) {
	metrics := newCountingMetrics()
	m, a, b := newManager(t, DefaultOptions(), WithMetrics(metrics))
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	b.FailReads(lending.Errorf(lending.ProtocolCompound, lending.KindNetworkError, "node down"))

	cmp, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	require.Len(t, cmp.Rates, 1)
	assert.Equal(t, lending.ProtocolAaveV3, cmp.Rates[0].Protocol)
	assert.Equal(t, lending.ProtocolAaveV3, cmp.BestSupplyProtocol)
	assert.Equal(t, 0, cmp.RateAdvantage.Sign())
	assert.Contains(t, cmp.Failures, lending.ProtocolCompound)
	assert.Equal(t, 1, metrics.partials["GetCurrentRates/"+string(lending.ProtocolCompound)])
}

func TestGetCurrentRatesAllFail(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	boom := errors.New("boom")
	a.FailReads(boom)
	b.FailReads(lending.NewError(lending.KindContractError, "reverted"))

	_, err := m.GetCurrentRates(context.Background(), "USDC")
	require.Error(t, err)
	assert.Equal(t, lending.KindNetworkError, lending.KindOf(err))
	assert.ErrorIs(t, err, boom)
}

func TestGetCurrentRatesUnsupportedAsset(t *testing.T) {
	m, _, _ := newManager(t, DefaultOptions())
	_, err := m.GetCurrentRates(context.Background(), "DOGE")
	assert.Equal(t, lending.KindAssetNotSupported, lending.KindOf(err))
}

func TestGetCurrentRatesTimeoutIsNetworkError(t *testing.T) {
	opts := DefaultOptions()
	opts.CallTimeout = 20 * time.Millisecond
	m, a, b := newManager(t, opts)
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))
	b.Delay(time.Second)

	cmp, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	require.Len(t, cmp.Rates, 1)
	assert.Equal(t, lending.KindNetworkError, lending.KindOf(cmp.Failures[lending.ProtocolCompound]))
}

func TestRateCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	opts := DefaultOptions()
	opts.RateCacheTTL = time.Minute
	m, a, b := newManager(t, opts, WithClock(clock))
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))

	_, err := m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	_, err = m.GetCurrentRates(context.Background(), "usdc")
	require.NoError(t, err)
	assert.Equal(t, 1, a.Reads())

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = m.GetCurrentRates(context.Background(), "USDC")
	require.NoError(t, err)
	assert.Equal(t, 2, a.Reads())
}

func TestGetAllRates(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(7))
	b.SetRates("USDC", lendingtest.Percent(4), lendingtest.Percent(5))
	a.SetRates("WETH", lendingtest.Percent(1), lendingtest.Percent(2))
	b.SetRates("WETH", lendingtest.Percent(1), lendingtest.Percent(3))

	all, err := m.GetAllRates(context.Background())
	require.NoError(t, err)
	assert.Len(t, all.Assets, 2)
	assert.Equal(t, lending.ProtocolAaveV3, all.Assets["WETH"].BestBorrowProtocol)
	assert.Empty(t, all.Failures)

	all, err = m.GetAllRates(context.Background(), "USDC", "DOGE")
	require.NoError(t, err)
	assert.Len(t, all.Assets, 1)
	assert.Equal(t, lending.KindAssetNotSupported, lending.KindOf(all.Failures["DOGE"]))
}

func TestSupportedAssets(t *testing.T) {
	a := lendingtest.New(lending.ProtocolAaveV3, weth, usdc)
	b := lendingtest.New(lending.ProtocolCompound, usdc, lendingtest.Asset("DAI", 18))
	m, err := New([]lending.Adapter{a, b}, DefaultOptions(), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"DAI", "USDC", "WETH"}, m.SupportedAssets())
}

func TestSupplyAutoRoutesToBestSupply(t *testing.T) {
	journal := &memJournal{}
	metrics := newCountingMetrics()
	m, a, b := newManager(t, DefaultOptions(), WithJournal(journal), WithMetrics(metrics))
	a.SetRates("USDC", lendingtest.Percent(5), lendingtest.Percent(8))
	b.SetRates("USDC", lendingtest.Percent(7), lendingtest.Percent(9))

	tx, err := m.Supply(context.Background(), lending.OperationParams{
		Protocol: lending.ProtocolAuto,
		Asset:    "USDC",
		Amount:   lending.NewAmount(big.NewInt(1_000_000)),
		User:     user,
	})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolCompound, tx.Protocol)
	assert.Empty(t, a.Writes())
	require.Len(t, b.Writes(), 1)
	assert.Equal(t, lending.ProtocolCompound, b.Writes()[0].Protocol)

	require.Len(t, journal.txs, 1)
	assert.Equal(t, tx.ID, journal.txs[0].ID)
	assert.Equal(t, 1, metrics.txs[string(lending.ProtocolCompound)+"/supply"])
}

func TestBorrowAutoRoutesToBestBorrow(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetRates("USDC", lendingtest.Percent(5), lendingtest.Percent(6))
	b.SetRates("USDC", lendingtest.Percent(7), lendingtest.Percent(9))

	tx, err := m.Borrow(context.Background(), lending.OperationParams{
		Asset:  "USDC",
		Amount: lending.NewAmount(big.NewInt(10)),
		User:   user,
	})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolAaveV3, tx.Protocol)
	assert.Equal(t, lendingtest.Percent(6), tx.EffectiveRate)
}

func TestExplicitProtocolRouting(t *testing.T) {
	m, a, _ := newManager(t, DefaultOptions())

	_, err := m.Supply(context.Background(), lending.OperationParams{
		Protocol: lending.ProtocolAaveV3,
		Asset:    "WETH",
		Amount:   lending.NewAmount(big.NewInt(1)),
		User:     user,
	})
	require.NoError(t, err)
	assert.Len(t, a.Writes(), 1)

	_, err = m.Supply(context.Background(), lending.OperationParams{
		Protocol: "morpho",
		Asset:    "WETH",
		Amount:   lending.NewAmount(big.NewInt(1)),
	})
	assert.Equal(t, lending.KindProtocolRejection, lending.KindOf(err))

	_, err = m.Supply(context.Background(), lending.OperationParams{
		Protocol: lending.ProtocolAaveV3,
		Asset:    "DOGE",
		Amount:   lending.NewAmount(big.NewInt(1)),
	})
	assert.Equal(t, lending.KindAssetNotSupported, lending.KindOf(err))
}

func TestOperationAmountValidation(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())

	tests := []struct {
		name string
		run  func() error
	}{
		{"max supply", func() error {
			_, err := m.Supply(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.MaxAmount()})
			return err
		}},
		{"max borrow", func() error {
			_, err := m.Borrow(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.MaxAmount()})
			return err
		}},
		{"zero repay", func() error {
			_, err := m.Repay(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.NewAmount(big.NewInt(0))})
			return err
		}},
		{"negative withdraw", func() error {
			_, err := m.Withdraw(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.NewAmount(big.NewInt(-1))})
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, lending.KindInvalidAmount, lending.KindOf(tt.run()))
		})
	}
	assert.Zero(t, a.Reads()+b.Reads())
}

func TestWithdrawAutoUsesJournalProvenance(t *testing.T) {
	journal := &memJournal{last: map[lending.PositionSide]lending.ProtocolID{lending.SideSupply: lending.ProtocolAaveV3}}
	m, a, b := newManager(t, DefaultOptions(), WithJournal(journal))
	a.SetUserReserve("USDC", big.NewInt(10), big.NewInt(0), true)
	b.SetUserReserve("USDC", big.NewInt(500), big.NewInt(0), true)

	tx, err := m.Withdraw(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.MaxAmount(), User: user})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolAaveV3, tx.Protocol)
	require.Len(t, a.Writes(), 1)
	assert.True(t, a.Writes()[0].Amount.IsMax())
}

func TestWithdrawAutoDefaultsUserToSigner(t *testing.T) {
	journal := &memJournal{last: map[lending.PositionSide]lending.ProtocolID{lending.SideSupply: lending.ProtocolCompound}}
	m, a, b := newManager(t, DefaultOptions(), WithJournal(journal))
	b.SetUserReserve("USDC", big.NewInt(500), big.NewInt(0), true)

	tx, err := m.Withdraw(context.Background(), lending.OperationParams{
		Asset:  "USDC",
		Amount: lending.MaxAmount(),
		Signer: blockchain.AddressSigner(user),
	})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolCompound, tx.Protocol)
	assert.Equal(t, []common.Address{user}, journal.asked)
	assert.Empty(t, a.Writes())
	require.Len(t, b.Writes(), 1)
	assert.Equal(t, user, b.Writes()[0].User)
}

func TestWithdrawAutoProbesWhenJournalIsStale(t *testing.T) {
	journal := &memJournal{last: map[lending.PositionSide]lending.ProtocolID{lending.SideSupply: lending.ProtocolAaveV3}}
	m, a, b := newManager(t, DefaultOptions(), WithJournal(journal))
	b.SetUserReserve("USDC", big.NewInt(500), big.NewInt(0), true)

	tx, err := m.Withdraw(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.NewAmount(big.NewInt(5)), User: user})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolCompound, tx.Protocol)
	assert.Empty(t, a.Writes())
}

func TestRepayAutoPicksLargestDebt(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetUserReserve("USDC", big.NewInt(0), big.NewInt(700), false)
	b.SetUserReserve("USDC", big.NewInt(0), big.NewInt(300), false)

	tx, err := m.Repay(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.MaxAmount(), User: user})
	require.NoError(t, err)
	assert.Equal(t, lending.ProtocolAaveV3, tx.Protocol)
}

func TestRepayAutoWithoutPosition(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())

	_, err := m.Repay(context.Background(), lending.OperationParams{Asset: "USDC", Amount: lending.MaxAmount(), User: user})
	assert.Equal(t, lending.KindInvalidAmount, lending.KindOf(err))
	assert.Empty(t, a.Writes())
	assert.Empty(t, b.Writes())
}

func TestAdapterErrorsPassThrough(t *testing.T) {
	journal := &memJournal{}
	m, a, _ := newManager(t, DefaultOptions(), WithJournal(journal))
	rejected := lending.Errorf(lending.ProtocolAaveV3, lending.KindBorrowCapExceeded, "cap")
	a.FailWrites(rejected)

	_, err := m.Borrow(context.Background(), lending.OperationParams{
		Protocol: lending.ProtocolAaveV3,
		Asset:    "USDC",
		Amount:   lending.NewAmount(big.NewInt(1)),
		User:     user,
	})
	assert.Same(t, rejected, err)
	assert.Empty(t, journal.txs)
}

func TestJournalFailureDoesNotFailOperation(t *testing.T) {
	journal := &memJournal{failErr: errors.New("disk full")}
	m, _, _ := newManager(t, DefaultOptions(), WithJournal(journal))

	tx, err := m.Supply(context.Background(), lending.OperationParams{
		Protocol: lending.ProtocolCompound,
		Asset:    "USDC",
		Amount:   lending.NewAmount(big.NewInt(1)),
		User:     user,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tx.ID)
}

func account(collateral, debt, threshold, hf string) *lending.UserAccountSnapshot {
	return &lending.UserAccountSnapshot{
		TotalCollateral:      wad(collateral),
		TotalDebt:            wad(debt),
		AvailableToBorrow:    wad("1000000"),
		LiquidationThreshold: wad(threshold),
		LoanToValue:          wad(threshold),
		HealthFactor:         wad(hf),
	}
}

func TestGetAccountHealthAggregates(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetAccount(account("1000", "400", "0.8", "2"))
	healthy := account("1000", "0", "0.75", "0")
	healthy.HealthFactor = fixedpoint.Clone(fixedpoint.HealthyHealthFactor)
	b.SetAccount(healthy)

	h, err := m.GetAccountHealth(context.Background(), user)
	require.NoError(t, err)

	assert.True(t, h.Complete)
	assert.Equal(t, wad("2000"), h.TotalCollateral)
	assert.Equal(t, wad("400"), h.TotalDebt)
	assert.Equal(t, wad("5"), h.HealthFactor)
	assert.Equal(t, wad("3.875"), h.RiskAdjustedHealthFactor)
	assert.Equal(t, lending.RiskLow, h.Risk)
	assert.Equal(t, wad("0.5"), h.Diversification)
	assert.Equal(t, wad("0.84"), h.HealthScore)
	assert.Len(t, h.Protocols, 2)
}

func TestGetAccountHealthZeroDebtSentinel(t *testing.T) {
	m, _, _ := newManager(t, DefaultOptions())

	h, err := m.GetAccountHealth(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, fixedpoint.IsHealthySentinel(h.HealthFactor))
	assert.True(t, fixedpoint.IsHealthySentinel(h.RiskAdjustedHealthFactor))
	assert.Equal(t, lending.RiskLow, h.Risk)
	assert.Equal(t, 0, h.TotalDebt.Sign())
}

func TestGetAccountHealthWorstProtocolDrivesRisk(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetAccount(account("10000", "100", "0.8", "80"))
	b.SetAccount(account("1000", "950", "0.8", "1.05"))

	h, err := m.GetAccountHealth(context.Background(), user)
	require.NoError(t, err)
	assert.Equal(t, lending.RiskHigh, h.Risk)
}

func TestGetAccountHealthPartial(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetAccount(account("1000", "400", "0.8", "2"))
	b.FailReads(lending.NewError(lending.KindNetworkError, "down"))

	h, err := m.GetAccountHealth(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, h.Complete)
	assert.Contains(t, h.Failures, lending.ProtocolCompound)
	assert.Equal(t, wad("2.5"), h.HealthFactor)

	a.FailReads(errors.New("down too"))
	_, err = m.GetAccountHealth(context.Background(), user)
	assert.Equal(t, lending.KindNetworkError, lending.KindOf(err))
}

func TestGetUserPositions(t *testing.T) {
	m, a, b := newManager(t, DefaultOptions())
	a.SetAccount(account("2100", "1000", "0.8", "1.2"))
	a.SetUserReserve("USDC", big.NewInt(100_000_000), big.NewInt(0), true)
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(5))
	a.SetUserReserve("WETH", big.NewInt(0), fixedpoint.Pow10(17), false)
	eth := a.SetRates("WETH", lendingtest.Percent(1), lendingtest.Percent(2))
	eth.PriceUSD = wad("2000")

	report, err := m.GetUserPositions(context.Background(), user)
	require.NoError(t, err)
	assert.True(t, report.Complete)
	require.Len(t, report.Positions, 2)

	supply := report.Positions[0]
	assert.Equal(t, lending.SideSupply, supply.Side)
	assert.Equal(t, "USDC", supply.Asset)
	assert.True(t, supply.Collateral)
	assert.Equal(t, wad("100"), supply.ValueUSD)
	assert.Equal(t, lendingtest.Percent(3), supply.Rate)
	assert.Equal(t, lending.RiskMedium, supply.Risk)

	borrow := report.Positions[1]
	assert.Equal(t, lending.SideBorrow, borrow.Side)
	assert.Equal(t, "WETH", borrow.Asset)
	assert.Equal(t, wad("200"), borrow.ValueUSD)
	assert.Equal(t, lendingtest.Percent(2), borrow.Rate)

	b.FailReads(errors.New("down"))
	report, err = m.GetUserPositions(context.Background(), user)
	require.NoError(t, err)
	assert.False(t, report.Complete)
	assert.Contains(t, report.Failures, lending.ProtocolCompound)
	assert.Len(t, report.Positions, 2)
}

func TestOptimalBorrow(t *testing.T) {
	m, a, _ := newManager(t, DefaultOptions())
	a.SetAccount(account("1000", "200", "0.8", "4"))
	a.SetRates("USDC", lendingtest.Percent(3), lendingtest.Percent(5))

	capacity, err := m.OptimalBorrow(context.Background(), user, lending.ProtocolAaveV3, "USDC", wad("1.6"))
	require.NoError(t, err)
	assert.Equal(t, wad("300"), capacity.Value)
	assert.Equal(t, big.NewInt(300_000_000), capacity.Amount)
	assert.Equal(t, "USDC", capacity.Asset)

	capacity, err = m.OptimalBorrow(context.Background(), user, lending.ProtocolAaveV3, "", wad("5"))
	require.NoError(t, err)
	assert.Equal(t, 0, capacity.Value.Sign())
	assert.Nil(t, capacity.Amount)

	_, err = m.OptimalBorrow(context.Background(), user, lending.ProtocolAaveV3, "", big.NewInt(0))
	assert.Equal(t, lending.KindInvalidAmount, lending.KindOf(err))
}

func TestOptimalBorrowCappedByAvailable(t *testing.T) {
	m, a, _ := newManager(t, DefaultOptions())
	acc := account("1000", "0", "0.8", "0")
	acc.HealthFactor = fixedpoint.Clone(fixedpoint.HealthyHealthFactor)
	acc.AvailableToBorrow = wad("100")
	a.SetAccount(acc)

	capacity, err := m.OptimalBorrow(context.Background(), user, lending.ProtocolAaveV3, "", wad("1.5"))
	require.NoError(t, err)
	assert.Equal(t, wad("100"), capacity.Value)
}
