// internal/lending/lendingtest/adapter.go
// Package lendingtest содержит управляемую заглушку адаптера для тестов
// менеджера и HTTP API.
package lendingtest

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// Adapter is a lending.Adapter backed by maps. Zero values are valid: an
// unknown reserve or account reads as empty.
type Adapter struct {
	ID     lending.ProtocolID
	Assets []lending.AssetDescriptor

	mu           sync.Mutex
	reserves     map[string]*lending.ReserveSnapshot
	userReserves map[string]*lending.UserReserveSnapshot
	account      *lending.UserAccountSnapshot
	readErr      error
	writeErr     error
	delay        time.Duration
	writes       []lending.OperationParams
	reads        int
}

// New creates a stub listing assets.
func New(id lending.ProtocolID, assets ...lending.AssetDescriptor) *Adapter {
	return &Adapter{
		ID:           id,
		Assets:       assets,
		reserves:     make(map[string]*lending.ReserveSnapshot),
		userReserves: make(map[string]*lending.UserReserveSnapshot),
	}
}

// Asset builds a descriptor for tests.
func Asset(symbol string, decimals uint8) lending.AssetDescriptor {
	return lending.AssetDescriptor{
		Symbol:   symbol,
		Address:  common.BytesToAddress([]byte(symbol)),
		Decimals: decimals,
	}
}

// Percent returns p% as a RAY rate.
func Percent(p int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(p), fixedpoint.Pow10(fixedpoint.RayDecimals-2))
}

// SetRates installs a reserve with the given annual rates (RAY).
func (a *Adapter) SetRates(asset string, supply, borrow *big.Int) *lending.ReserveSnapshot {
	r := &lending.ReserveSnapshot{
		Protocol:           a.ID,
		Asset:              lending.NormalizeSymbol(asset),
		SupplyRate:         supply,
		BorrowRate:         borrow,
		UtilizationRate:    fixedpoint.MustWad("0.5"),
		AvailableLiquidity: fixedpoint.Pow10(24),
		PriceUSD:           fixedpoint.Clone(fixedpoint.WAD),
		BorrowingEnabled:   true,
	}
	a.SetReserve(asset, r)
	return r
}

// SetReserve installs a reserve snapshot.
func (a *Adapter) SetReserve(asset string, r *lending.ReserveSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reserves[lending.NormalizeSymbol(asset)] = r
}

// SetAccount installs the account snapshot returned for every user.
func (a *Adapter) SetAccount(s *lending.UserAccountSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.account = s
}

// SetUserReserve installs the user's position in asset.
func (a *Adapter) SetUserReserve(asset string, supplied, variableDebt *big.Int, collateral bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userReserves[lending.NormalizeSymbol(asset)] = &lending.UserReserveSnapshot{
		Protocol:          a.ID,
		Asset:             lending.NormalizeSymbol(asset),
		Supplied:          supplied,
		VariableDebt:      variableDebt,
		StableDebt:        new(big.Int),
		UsageAsCollateral: collateral,
	}
}

// FailReads makes every read return err (nil restores).
func (a *Adapter) FailReads(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.readErr = err
}

// FailWrites makes every write return err.
func (a *Adapter) FailWrites(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeErr = err
}

// Delay blocks every read for d or until the context is done.
func (a *Adapter) Delay(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.delay = d
}

// Writes returns submitted operations.
func (a *Adapter) Writes() []lending.OperationParams {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]lending.OperationParams, len(a.writes))
	copy(out, a.writes)
	return out
}

// Reads returns how many reads were served.
func (a *Adapter) Reads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reads
}

func (a *Adapter) Protocol() lending.ProtocolID { return a.ID }

func (a *Adapter) GetProtocolConfig() lending.ProtocolConfig {
	return lending.ProtocolConfig{ID: a.ID, Name: string(a.ID), Contracts: map[string]common.Address{}}
}

func (a *Adapter) GetSupportedAssets() []lending.AssetDescriptor {
	out := make([]lending.AssetDescriptor, len(a.Assets))
	copy(out, a.Assets)
	return out
}

func (a *Adapter) read(ctx context.Context) error {
	a.mu.Lock()
	a.reads++
	delay, err := a.delay, a.readErr
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (a *Adapter) supported(asset string) bool {
	key := lending.NormalizeSymbol(asset)
	for _, d := range a.Assets {
		if lending.NormalizeSymbol(d.Symbol) == key {
			return true
		}
	}
	return false
}

func (a *Adapter) GetReserveData(ctx context.Context, asset string) (*lending.ReserveSnapshot, error) {
	if err := a.read(ctx); err != nil {
		return nil, err
	}
	if !a.supported(asset) {
		return nil, lending.Errorf(a.ID, lending.KindAssetNotSupported, "asset %s is not supported", asset)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.reserves[lending.NormalizeSymbol(asset)]; ok {
		cp := *r
		return &cp, nil
	}
	return &lending.ReserveSnapshot{Protocol: a.ID, Asset: lending.NormalizeSymbol(asset)}, nil
}

func (a *Adapter) GetUserAccountData(ctx context.Context, user common.Address) (*lending.UserAccountSnapshot, error) {
	if err := a.read(ctx); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.account == nil {
		return &lending.UserAccountSnapshot{
			Protocol:             a.ID,
			User:                 user,
			TotalCollateral:      new(big.Int),
			TotalDebt:            new(big.Int),
			AvailableToBorrow:    new(big.Int),
			LiquidationThreshold: new(big.Int),
			LoanToValue:          new(big.Int),
			HealthFactor:         fixedpoint.Clone(fixedpoint.HealthyHealthFactor),
		}, nil
	}
	cp := *a.account
	cp.User = user
	return &cp, nil
}

func (a *Adapter) GetUserReserveData(ctx context.Context, user common.Address, asset string) (*lending.UserReserveSnapshot, error) {
	if err := a.read(ctx); err != nil {
		return nil, err
	}
	if !a.supported(asset) {
		return nil, lending.Errorf(a.ID, lending.KindAssetNotSupported, "asset %s is not supported", asset)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.userReserves[lending.NormalizeSymbol(asset)]; ok {
		cp := *r
		cp.User = user
		return &cp, nil
	}
	return &lending.UserReserveSnapshot{
		Protocol:     a.ID,
		User:         user,
		Asset:        lending.NormalizeSymbol(asset),
		Supplied:     new(big.Int),
		StableDebt:   new(big.Int),
		VariableDebt: new(big.Int),
	}, nil
}

func (a *Adapter) GetHealthFactor(ctx context.Context, user common.Address) (*lending.HealthFactorReport, error) {
	acc, err := a.GetUserAccountData(ctx, user)
	if err != nil {
		return nil, err
	}
	return lending.NewHealthFactorReport(acc.HealthFactor, acc.TotalCollateral, acc.TotalDebt, acc.LiquidationThreshold), nil
}

func (a *Adapter) Supply(ctx context.Context, p lending.OperationParams) (*lending.Transaction, error) {
	return a.write(lending.OperationSupply, p)
}

func (a *Adapter) Withdraw(ctx context.Context, p lending.OperationParams) (*lending.Transaction, error) {
	return a.write(lending.OperationWithdraw, p)
}

func (a *Adapter) Borrow(ctx context.Context, p lending.OperationParams) (*lending.Transaction, error) {
	return a.write(lending.OperationBorrow, p)
}

func (a *Adapter) Repay(ctx context.Context, p lending.OperationParams) (*lending.Transaction, error) {
	return a.write(lending.OperationRepay, p)
}

func (a *Adapter) write(op lending.Operation, p lending.OperationParams) (*lending.Transaction, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writes = append(a.writes, p)
	if a.writeErr != nil {
		return nil, a.writeErr
	}
	amount := p.Amount.Int()
	if amount == nil {
		amount = big.NewInt(1)
	}
	var rate *big.Int
	if r, ok := a.reserves[lending.NormalizeSymbol(p.Asset)]; ok {
		rate = fixedpoint.Clone(r.SupplyRate)
		if op == lending.OperationBorrow || op == lending.OperationRepay {
			rate = fixedpoint.Clone(r.BorrowRate)
		}
	}
	id := uuid.NewString()
	return &lending.Transaction{
		ID:            id,
		Kind:          op,
		Protocol:      a.ID,
		Asset:         lending.NormalizeSymbol(p.Asset),
		Amount:        amount,
		User:          p.User,
		Timestamp:     time.Now().UTC(),
		TxRef:         common.BytesToHash([]byte(id)),
		ResourceCost:  big.NewInt(21_000),
		EffectiveRate: rate,
	}, nil
}
