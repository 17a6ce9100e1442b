// internal/api/views.go
package api

import (
	"math/big"
	"sort"
	"time"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
)

// Представления ответов. Целые числа (native units, WAD, RAY) отдаются
// строками без потери точности; проценты и факторы уже отформатированы.

func intString(x *big.Int) string {
	if x == nil {
		return ""
	}
	return x.String()
}

func wadString(x *big.Int) string {
	if x == nil {
		return ""
	}
	return fixedpoint.WadToDecimal(x).StringFixed(4)
}

func failureMap(failures map[lending.ProtocolID]error) map[string]string {
	if len(failures) == 0 {
		return nil
	}
	out := make(map[string]string, len(failures))
	for id, err := range failures {
		out[string(id)] = err.Error()
	}
	return out
}

// RateView holds one protocol's rates.
type RateView struct {
	Protocol           lending.ProtocolID `json:"protocol" yaml:"protocol"`
	SupplyRate         string             `json:"supply_rate" yaml:"supply_rate"`
	BorrowRate         string             `json:"borrow_rate" yaml:"borrow_rate"`
	SupplyAPR          string             `json:"supply_apr" yaml:"supply_apr"`
	BorrowAPR          string             `json:"borrow_apr" yaml:"borrow_apr"`
	Utilization        string             `json:"utilization" yaml:"utilization"`
	AvailableLiquidity string             `json:"available_liquidity" yaml:"available_liquidity"`
	BorrowingEnabled   bool               `json:"borrowing_enabled" yaml:"borrowing_enabled"`
	Frozen             bool               `json:"frozen" yaml:"frozen"`
}

// ComparisonView is the rate comparison of one asset.
type ComparisonView struct {
	Asset                string            `json:"asset" yaml:"asset"`
	Rates                []RateView        `json:"rates" yaml:"rates"`
	BestSupplyProtocol   string            `json:"best_supply_protocol" yaml:"best_supply_protocol"`
	BestBorrowProtocol   string            `json:"best_borrow_protocol" yaml:"best_borrow_protocol"`
	RateAdvantage        string            `json:"rate_advantage" yaml:"rate_advantage"`
	RateAdvantagePercent string            `json:"rate_advantage_percent" yaml:"rate_advantage_percent"`
	Risk                 lending.RiskLevel `json:"risk" yaml:"risk"`
	Recommendation       string            `json:"recommendation" yaml:"recommendation"`
	Failures             map[string]string `json:"failures,omitempty" yaml:"failures,omitempty"`
	Timestamp            time.Time         `json:"timestamp" yaml:"timestamp"`
}

func NewComparisonView(c *manager.ProtocolComparison) ComparisonView {
	out := ComparisonView{
		Asset:                c.Asset,
		Rates:                make([]RateView, 0, len(c.Rates)),
		BestSupplyProtocol:   string(c.BestSupplyProtocol),
		BestBorrowProtocol:   string(c.BestBorrowProtocol),
		RateAdvantage:        intString(c.RateAdvantage),
		RateAdvantagePercent: c.RateAdvantagePercent.StringFixed(2),
		Risk:                 c.Risk,
		Recommendation:       c.Recommendation,
		Failures:             failureMap(c.Failures),
		Timestamp:            c.Timestamp,
	}
	for _, r := range c.Rates {
		out.Rates = append(out.Rates, RateView{
			Protocol:           r.Protocol,
			SupplyRate:         intString(r.SupplyRate),
			BorrowRate:         intString(r.BorrowRate),
			SupplyAPR:          r.SupplyAPR.StringFixed(2),
			BorrowAPR:          r.BorrowAPR.StringFixed(2),
			Utilization:        wadString(r.Utilization),
			AvailableLiquidity: intString(r.AvailableLiquidity),
			BorrowingEnabled:   r.BorrowingEnabled,
			Frozen:             r.Frozen,
		})
	}
	return out
}

// AllRatesView сравнивает ставки по нескольким активам.
type AllRatesView struct {
	Assets   map[string]ComparisonView `json:"assets" yaml:"assets"`
	Failures map[string]string         `json:"failures,omitempty" yaml:"failures,omitempty"`
}

func NewAllRatesView(all *manager.AllRates) AllRatesView {
	out := AllRatesView{Assets: make(map[string]ComparisonView, len(all.Assets))}
	for asset, c := range all.Assets {
		out.Assets[asset] = NewComparisonView(c)
	}
	if len(all.Failures) > 0 {
		out.Failures = make(map[string]string, len(all.Failures))
		for asset, err := range all.Failures {
			out.Failures[asset] = err.Error()
		}
	}
	return out
}

// PositionView is a single position.
type PositionView struct {
	Protocol     lending.ProtocolID   `json:"protocol" yaml:"protocol"`
	Asset        string               `json:"asset" yaml:"asset"`
	Side         lending.PositionSide `json:"side" yaml:"side"`
	Amount       string               `json:"amount" yaml:"amount"`
	ValueUSD     string               `json:"value_usd,omitempty" yaml:"value_usd,omitempty"`
	Rate         string               `json:"rate,omitempty" yaml:"rate,omitempty"`
	APR          string               `json:"apr,omitempty" yaml:"apr,omitempty"`
	Collateral   bool                 `json:"collateral" yaml:"collateral"`
	HealthFactor string               `json:"health_factor" yaml:"health_factor"`
	Risk         lending.RiskLevel    `json:"risk" yaml:"risk"`
}

// PositionsView lists positions; Complete is false when a protocol failed.
type PositionsView struct {
	User      string            `json:"user" yaml:"user"`
	Positions []PositionView    `json:"positions" yaml:"positions"`
	Failures  map[string]string `json:"failures,omitempty" yaml:"failures,omitempty"`
	Complete  bool              `json:"complete" yaml:"complete"`
}

func NewPositionsView(p *manager.PositionsReport) PositionsView {
	out := PositionsView{
		User:      p.User.Hex(),
		Positions: make([]PositionView, 0, len(p.Positions)),
		Failures:  failureMap(p.Failures),
		Complete:  p.Complete,
	}
	for _, pos := range p.Positions {
		item := PositionView{
			Protocol:     pos.Protocol,
			Asset:        pos.Asset,
			Side:         pos.Side,
			Amount:       intString(pos.Amount),
			ValueUSD:     wadString(pos.ValueUSD),
			Rate:         intString(pos.Rate),
			Collateral:   pos.Collateral,
			HealthFactor: fixedpoint.FormatHealthFactor(pos.HealthFactor),
			Risk:         pos.Risk,
		}
		if pos.Rate != nil {
			item.APR = fixedpoint.FormatPercent(pos.Rate, 2)
		}
		out.Positions = append(out.Positions, item)
	}
	return out
}

// ProtocolHealthView is one protocol's share of account health.
type ProtocolHealthView struct {
	Protocol             lending.ProtocolID `json:"protocol" yaml:"protocol"`
	TotalCollateral      string             `json:"total_collateral_usd" yaml:"total_collateral_usd"`
	TotalDebt            string             `json:"total_debt_usd" yaml:"total_debt_usd"`
	HealthFactor         string             `json:"health_factor" yaml:"health_factor"`
	LiquidationThreshold string             `json:"liquidation_threshold" yaml:"liquidation_threshold"`
	Risk                 lending.RiskLevel  `json:"risk" yaml:"risk"`
}

// AccountHealthView — агрегированное здоровье аккаунта. USD values are WAD decimals.
type AccountHealthView struct {
	User                     string               `json:"user" yaml:"user"`
	TotalCollateral          string               `json:"total_collateral_usd" yaml:"total_collateral_usd"`
	TotalDebt                string               `json:"total_debt_usd" yaml:"total_debt_usd"`
	HealthFactor             string               `json:"health_factor" yaml:"health_factor"`
	RiskAdjustedHealthFactor string               `json:"risk_adjusted_health_factor" yaml:"risk_adjusted_health_factor"`
	Risk                     lending.RiskLevel    `json:"risk" yaml:"risk"`
	Diversification          string               `json:"diversification" yaml:"diversification"`
	HealthScore              string               `json:"health_score" yaml:"health_score"`
	Protocols                []ProtocolHealthView `json:"protocols" yaml:"protocols"`
	Failures                 map[string]string    `json:"failures,omitempty" yaml:"failures,omitempty"`
	Complete                 bool                 `json:"complete" yaml:"complete"`
}

func NewAccountHealthView(h *manager.AccountHealth) AccountHealthView {
	out := AccountHealthView{
		User:                     h.User.Hex(),
		TotalCollateral:          wadString(h.TotalCollateral),
		TotalDebt:                wadString(h.TotalDebt),
		HealthFactor:             fixedpoint.FormatHealthFactor(h.HealthFactor),
		RiskAdjustedHealthFactor: fixedpoint.FormatHealthFactor(h.RiskAdjustedHealthFactor),
		Risk:                     h.Risk,
		Diversification:          wadString(h.Diversification),
		HealthScore:              wadString(h.HealthScore),
		Protocols:                make([]ProtocolHealthView, 0, len(h.Protocols)),
		Failures:                 failureMap(h.Failures),
		Complete:                 h.Complete,
	}
	for _, p := range h.Protocols {
		out.Protocols = append(out.Protocols, ProtocolHealthView{
			Protocol:             p.Protocol,
			TotalCollateral:      wadString(p.TotalCollateral),
			TotalDebt:            wadString(p.TotalDebt),
			HealthFactor:         fixedpoint.FormatHealthFactor(p.HealthFactor),
			LiquidationThreshold: wadString(p.LiquidationThreshold),
			Risk:                 p.Risk,
		})
	}
	return out
}

// BorrowCapacityView answers a borrow capacity query.
type BorrowCapacityView struct {
	Protocol            lending.ProtocolID `json:"protocol" yaml:"protocol"`
	Asset               string             `json:"asset,omitempty" yaml:"asset,omitempty"`
	TargetHealthFactor  string             `json:"target_health_factor" yaml:"target_health_factor"`
	CurrentHealthFactor string             `json:"current_health_factor" yaml:"current_health_factor"`
	ValueUSD            string             `json:"value_usd" yaml:"value_usd"`
	Amount              string             `json:"amount,omitempty" yaml:"amount,omitempty"`
}

func NewBorrowCapacityView(c *manager.BorrowCapacity) BorrowCapacityView {
	return BorrowCapacityView{
		Protocol:            c.Protocol,
		Asset:               c.Asset,
		TargetHealthFactor:  wadString(c.TargetHealthFactor),
		CurrentHealthFactor: fixedpoint.FormatHealthFactor(c.CurrentHealthFactor),
		ValueUSD:            wadString(c.Value),
		Amount:              intString(c.Amount),
	}
}

// TransactionView описывает подтверждённую транзакцию.
type TransactionView struct {
	ID            string             `json:"id" yaml:"id"`
	Kind          lending.Operation  `json:"kind" yaml:"kind"`
	Protocol      lending.ProtocolID `json:"protocol" yaml:"protocol"`
	Asset         string             `json:"asset" yaml:"asset"`
	Amount        string             `json:"amount" yaml:"amount"`
	User          string             `json:"user" yaml:"user"`
	Timestamp     time.Time          `json:"timestamp" yaml:"timestamp"`
	TxRef         string             `json:"tx_ref" yaml:"tx_ref"`
	ResourceCost  string             `json:"resource_cost" yaml:"resource_cost"`
	EffectiveRate string             `json:"effective_rate,omitempty" yaml:"effective_rate,omitempty"`
	EffectiveAPR  string             `json:"effective_apr,omitempty" yaml:"effective_apr,omitempty"`
}

func NewTransactionView(tx *lending.Transaction) TransactionView {
	out := TransactionView{
		ID:            tx.ID,
		Kind:          tx.Kind,
		Protocol:      tx.Protocol,
		Asset:         tx.Asset,
		Amount:        intString(tx.Amount),
		User:          tx.User.Hex(),
		Timestamp:     tx.Timestamp,
		TxRef:         tx.TxRef.Hex(),
		ResourceCost:  intString(tx.ResourceCost),
		EffectiveRate: intString(tx.EffectiveRate),
	}
	if tx.EffectiveRate != nil {
		out.EffectiveAPR = fixedpoint.FormatPercent(tx.EffectiveRate, 2)
	}
	return out
}

// RateSampleView is one point of rate history.
type RateSampleView struct {
	Protocol    lending.ProtocolID `json:"protocol" yaml:"protocol"`
	SupplyAPR   string             `json:"supply_apr" yaml:"supply_apr"`
	BorrowAPR   string             `json:"borrow_apr" yaml:"borrow_apr"`
	Utilization string             `json:"utilization" yaml:"utilization"`
	SampledAt   time.Time          `json:"sampled_at" yaml:"sampled_at"`
}

func NewRateHistoryView(samples []storage.RateSample) []RateSampleView {
	out := make([]RateSampleView, 0, len(samples))
	for _, s := range samples {
		out = append(out, RateSampleView{
			Protocol:    s.Protocol,
			SupplyAPR:   fixedpoint.FormatPercent(s.SupplyRate, 2),
			BorrowAPR:   fixedpoint.FormatPercent(s.BorrowRate, 2),
			Utilization: wadString(s.Utilization),
			SampledAt:   s.SampledAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SampledAt.Before(out[j].SampledAt) })
	return out
}
