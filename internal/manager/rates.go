// internal/manager/rates.go
package manager

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/risk"
)

// GetCurrentRates опрашивает все протоколы, поддерживающие актив, параллельно.
// Failing protocols are omitted; the call fails only when none responded.
func (m *Manager) GetCurrentRates(ctx context.Context, asset string) (*ProtocolComparison, error) {
	symbol := lending.NormalizeSymbol(asset)
	if symbol == "" {
		return nil, lending.NewError(lending.KindAssetNotSupported, "asset is required")
	}
	return m.rates.get(ctx, symbol, func(ctx context.Context) (*ProtocolComparison, error) {
		return m.compareRates(ctx, asset)
	})
}

func (m *Manager) compareRates(ctx context.Context, asset string) (*ProtocolComparison, error) {
	adapters := m.adaptersFor(asset)
	if len(adapters) == 0 {
		return nil, lending.NewError(lending.KindAssetNotSupported, fmt.Sprintf("no protocol supports %s", asset))
	}

	snaps := make([]*lending.ReserveSnapshot, len(adapters))
	errs := make([]error, len(adapters))

	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			snaps[i], errs[i] = call(ctx, m, a.Protocol(), "GetReserveData", m.opts.CallTimeout,
				func(ctx context.Context) (*lending.ReserveSnapshot, error) {
					return a.GetReserveData(ctx, asset)
				})
			return nil
		})
	}
	_ = g.Wait()

	failures := make(map[lending.ProtocolID]error)
	var ok []*lending.ReserveSnapshot
	for i, a := range adapters {
		if errs[i] != nil {
			failures[a.Protocol()] = errs[i]
			m.partialFailure("GetCurrentRates", a.Protocol(), errs[i])
			continue
		}
		ok = append(ok, snaps[i])
	}
	if len(ok) == 0 {
		return nil, lending.AllAdaptersFailed(lending.NormalizeSymbol(asset), failures)
	}

	cmp := compare(ok)
	cmp.Asset = ok[0].Asset
	cmp.Failures = failures
	cmp.Timestamp = m.now().UTC()
	return cmp, nil
}

// compare выбирает лучшие протоколы среди ответивших. Протоколы с
// отключённым займом или замороженным рынком участвуют в выборе только
// если других нет.
func compare(snaps []*lending.ReserveSnapshot) *ProtocolComparison {
	cmp := &ProtocolComparison{Rates: make([]ProtocolRate, 0, len(snaps))}

	maxUtil := new(big.Int)
	var (
		minSupply, maxSupply, minBorrow, maxBorrow *big.Int
		bestSupplyRate, bestBorrowRate             *big.Int
		bestSupply, bestBorrow                     *lending.ReserveSnapshot
		bestSupplyOpen, bestBorrowOpen             bool
	)
	for _, s := range snaps {
		supplyRate, borrowRate := fixedpoint.Clone(s.SupplyRate), fixedpoint.Clone(s.BorrowRate)
		cmp.Rates = append(cmp.Rates, ProtocolRate{
			Protocol:           s.Protocol,
			SupplyRate:         supplyRate,
			BorrowRate:         borrowRate,
			SupplyAPR:          fixedpoint.RayToPercent(supplyRate),
			BorrowAPR:          fixedpoint.RayToPercent(borrowRate),
			Utilization:        fixedpoint.Clone(s.UtilizationRate),
			AvailableLiquidity: fixedpoint.Clone(s.AvailableLiquidity),
			BorrowingEnabled:   s.BorrowingEnabled,
			Frozen:             s.Frozen || s.Paused,
		})

		if minSupply == nil || supplyRate.Cmp(minSupply) < 0 {
			minSupply = supplyRate
		}
		if maxSupply == nil || supplyRate.Cmp(maxSupply) > 0 {
			maxSupply = supplyRate
		}
		if minBorrow == nil || borrowRate.Cmp(minBorrow) < 0 {
			minBorrow = borrowRate
		}
		if maxBorrow == nil || borrowRate.Cmp(maxBorrow) > 0 {
			maxBorrow = borrowRate
		}
		if u := fixedpoint.Clone(s.UtilizationRate); u.Cmp(maxUtil) > 0 {
			maxUtil = u
		}

		supplyOpen := !s.Frozen && !s.Paused
		if bestSupply == nil || better(supplyOpen, bestSupplyOpen, supplyRate.Cmp(bestSupplyRate) > 0) {
			bestSupply, bestSupplyRate, bestSupplyOpen = s, supplyRate, supplyOpen
		}
		borrowOpen := supplyOpen && s.BorrowingEnabled
		if bestBorrow == nil || better(borrowOpen, bestBorrowOpen, borrowRate.Cmp(bestBorrowRate) < 0) {
			bestBorrow, bestBorrowRate, bestBorrowOpen = s, borrowRate, borrowOpen
		}
	}

	cmp.BestSupplyProtocol = bestSupply.Protocol
	cmp.BestBorrowProtocol = bestBorrow.Protocol
	cmp.RateAdvantage = fixedpoint.Max(
		new(big.Int).Sub(maxSupply, minSupply),
		new(big.Int).Sub(maxBorrow, minBorrow),
	)
	cmp.RateAdvantagePercent = fixedpoint.RayToPercent(cmp.RateAdvantage)
	cmp.Risk = risk.UtilizationTier(maxUtil)
	cmp.Recommendation = recommend(cmp, bestSupply, bestBorrow)
	return cmp
}

// better: an open market beats a closed one, otherwise the rate decides.
// Ties keep the earlier protocol.
func better(candidateOpen, currentOpen, rateBetter bool) bool {
	if candidateOpen != currentOpen {
		return candidateOpen
	}
	return rateBetter
}

func recommend(cmp *ProtocolComparison, bestSupply, bestBorrow *lending.ReserveSnapshot) string {
	var b strings.Builder
	if len(cmp.Rates) == 1 {
		fmt.Fprintf(&b, "Only %s quoted %s: supply %s, borrow %s.",
			bestSupply.Protocol, bestSupply.Asset,
			fixedpoint.FormatPercent(bestSupply.SupplyRate, 2), fixedpoint.FormatPercent(bestSupply.BorrowRate, 2))
	} else {
		fmt.Fprintf(&b, "Supply on %s at %s, borrow on %s at %s (spread %s pp).",
			bestSupply.Protocol, fixedpoint.FormatPercent(bestSupply.SupplyRate, 2),
			bestBorrow.Protocol, fixedpoint.FormatPercent(bestBorrow.BorrowRate, 2),
			cmp.RateAdvantagePercent.StringFixed(2))
	}
	switch cmp.Risk {
	case lending.RiskHigh:
		b.WriteString(" Utilization above 90%: withdrawals may be delayed and rates can spike.")
	case lending.RiskMedium:
		b.WriteString(" Utilization above 70%: watch for rate changes.")
	}
	return b.String()
}

// GetAllRates сравнивает ставки по всем (или указанным) активам параллельно.
// Assets for which every protocol failed are reported in Failures.
func (m *Manager) GetAllRates(ctx context.Context, assets ...string) (*AllRates, error) {
	if len(assets) == 0 {
		assets = m.SupportedAssets()
	}

	out := &AllRates{
		Assets:   make(map[string]*ProtocolComparison, len(assets)),
		Failures: make(map[string]error),
	}
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, asset := range assets {
		g.Go(func() error {
			cmp, err := m.GetCurrentRates(ctx, asset)
			mu.Lock()
			defer mu.Unlock()
			key := lending.NormalizeSymbol(asset)
			if err != nil {
				out.Failures[key] = err
				return nil
			}
			out.Assets[key] = cmp
			return nil
		})
	}
	_ = g.Wait()

	if len(out.Assets) == 0 && len(out.Failures) > 0 {
		m.logger.Warn("No rates available for any asset", zap.Int("assets", len(assets)))
	}
	return out, nil
}

// SupportedAssets returns the union of symbols across protocols, sorted.
func (m *Manager) SupportedAssets() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range m.order {
		for _, d := range m.adapters[id].GetSupportedAssets() {
			key := lending.NormalizeSymbol(d.Symbol)
			if !seen[key] {
				seen[key] = true
				out = append(out, key)
			}
		}
	}
	sort.Strings(out)
	return out
}
