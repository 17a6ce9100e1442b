// internal/lending/types.go
// Package lending содержит общую модель данных, контракт адаптера протокола,
// реестр активов и таксономию ошибок.
package lending

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ProtocolID — закрытое перечисление поддерживаемых протоколов.
type ProtocolID string

const (
	ProtocolAaveV3   ProtocolID = "aave-v3"
	ProtocolCompound ProtocolID = "compound-v2"

	// ProtocolAuto asks the manager to pick the protocol.
	ProtocolAuto ProtocolID = "auto"
)

// KnownProtocols lists every protocol an adapter exists for.
var KnownProtocols = []ProtocolID{ProtocolAaveV3, ProtocolCompound}

// IsKnown reports whether p is a supported protocol (auto excluded).
func (p ProtocolID) IsKnown() bool {
	for _, known := range KnownProtocols {
		if p == known {
			return true
		}
	}
	return false
}

// Operation is the kind of a write.
type Operation string

const (
	OperationSupply   Operation = "supply"
	OperationWithdraw Operation = "withdraw"
	OperationBorrow   Operation = "borrow"
	OperationRepay    Operation = "repay"
)

// RateMode selects the pool-style debt flavour. Exchange-rate markets only
// have variable debt.
type RateMode uint8

const (
	RateModeVariable RateMode = 2
	RateModeStable   RateMode = 1
)

// ReserveSnapshot — состояние резерва актива в протоколе на момент запроса.
// Rates are annual, RAY scaled; utilisation, factors and price are WAD.
type ReserveSnapshot struct {
	Protocol             ProtocolID
	Asset                string
	SupplyRate           *big.Int
	BorrowRate           *big.Int
	StableBorrowRate     *big.Int
	UtilizationRate      *big.Int
	TotalSupplied        *big.Int
	TotalBorrowed        *big.Int
	AvailableLiquidity   *big.Int
	SupplyCap            *big.Int // native units, zero = uncapped
	BorrowCap            *big.Int // native units, zero = uncapped
	CollateralFactor     *big.Int
	LiquidationThreshold *big.Int
	PriceUSD             *big.Int // WAD per whole token
	Frozen               bool
	Paused               bool
	BorrowingEnabled     bool
	LastUpdate           time.Time
}

// UserAccountSnapshot — агрегированное состояние аккаунта в одном протоколе.
// Values in USD WAD; LiquidationThreshold, LoanToValue and HealthFactor in WAD.
type UserAccountSnapshot struct {
	Protocol             ProtocolID
	User                 common.Address
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	AvailableToBorrow    *big.Int
	LiquidationThreshold *big.Int
	LoanToValue          *big.Int
	HealthFactor         *big.Int
}

// UserReserveSnapshot — позиция пользователя по одному активу. Native units.
type UserReserveSnapshot struct {
	Protocol          ProtocolID
	User              common.Address
	Asset             string
	Supplied          *big.Int
	StableDebt        *big.Int
	VariableDebt      *big.Int
	UsageAsCollateral bool
}

// TotalDebt returns stable + variable debt.
func (s UserReserveSnapshot) TotalDebt() *big.Int {
	out := new(big.Int)
	if s.StableDebt != nil {
		out.Add(out, s.StableDebt)
	}
	if s.VariableDebt != nil {
		out.Add(out, s.VariableDebt)
	}
	return out
}

// HealthFactorReport is the answer to GetHealthFactor.
type HealthFactorReport struct {
	HealthFactor         *big.Int
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	LiquidationThreshold *big.Int
	IsHealthy            bool
	CanBeLiquidated      bool
}

// Transaction — неизменяемая запись подтверждённой операции.
type Transaction struct {
	ID            string
	Kind          Operation
	Protocol      ProtocolID
	Asset         string
	Amount        *big.Int
	User          common.Address
	Timestamp     time.Time
	TxRef         common.Hash
	ResourceCost  *big.Int
	EffectiveRate *big.Int // RAY, nil when unknown
}

// OperationParams are the inputs of a write.
type OperationParams struct {
	Protocol ProtocolID
	Asset    string
	Amount   Amount
	User     common.Address
	RateMode RateMode
	Signer   Signer
}

// ProtocolConfig describes a protocol deployment.
type ProtocolConfig struct {
	ID        ProtocolID
	Name      string
	Version   string
	ChainID   uint64
	Contracts map[string]common.Address
}

// PositionSide is supply or borrow.
type PositionSide string

const (
	SideSupply PositionSide = "supply"
	SideBorrow PositionSide = "borrow"
)

// Position is derived by the manager, one per non-zero balance.
type Position struct {
	Protocol     ProtocolID
	Asset        string
	Side         PositionSide
	Amount       *big.Int // native units
	ValueUSD     *big.Int // WAD, nil when the price is unavailable
	Rate         *big.Int // RAY, nil when the reserve read failed
	Collateral   bool
	HealthFactor *big.Int
	Risk         RiskLevel
}

// RiskLevel — уровень риска ликвидации.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
)

// Mode returns the rate mode, variable when unset.
func (p OperationParams) Mode() RateMode {
	if p.RateMode == RateModeStable {
		return RateModeStable
	}
	return RateModeVariable
}

// NewHealthFactorReport derives the flags from a health factor.
func NewHealthFactorReport(hf, collateral, debt, threshold *big.Int) *HealthFactorReport {
	healthy := hf != nil && hf.Cmp(wad) >= 0
	return &HealthFactorReport{
		HealthFactor:         hf,
		TotalCollateral:      collateral,
		TotalDebt:            debt,
		LiquidationThreshold: threshold,
		IsHealthy:            healthy,
		CanBeLiquidated:      !healthy,
	}
}
