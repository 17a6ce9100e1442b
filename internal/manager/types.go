// internal/manager/types.go
package manager

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// ProtocolRate — ставки одного протокола по активу.
type ProtocolRate struct {
	Protocol           lending.ProtocolID
	SupplyRate         *big.Int // RAY
	BorrowRate         *big.Int // RAY
	SupplyAPR          decimal.Decimal
	BorrowAPR          decimal.Decimal
	Utilization        *big.Int // WAD
	AvailableLiquidity *big.Int
	BorrowingEnabled   bool
	Frozen             bool
}

// ProtocolComparison — результат сравнения протоколов по одному активу.
// Only responding protocols appear in Rates; the rest are in Failures.
type ProtocolComparison struct {
	Asset                string
	Rates                []ProtocolRate
	BestSupplyProtocol   lending.ProtocolID
	BestBorrowProtocol   lending.ProtocolID
	RateAdvantage        *big.Int        // RAY, largest spread between protocols
	RateAdvantagePercent decimal.Decimal // percentage points
	Risk                 lending.RiskLevel
	Recommendation       string
	Failures             map[lending.ProtocolID]error
	Timestamp            time.Time
}

// AllRates holds comparisons for a set of assets.
type AllRates struct {
	Assets   map[string]*ProtocolComparison
	Failures map[string]error
}

// PositionsReport lists positions; Complete is false when any protocol
// could not be read, so the list may be missing positions.
type PositionsReport struct {
	User      common.Address
	Positions []lending.Position
	Failures  map[lending.ProtocolID]error
	Complete  bool
}

// ProtocolHealth — вклад одного протокола в здоровье аккаунта.
type ProtocolHealth struct {
	Protocol             lending.ProtocolID
	TotalCollateral      *big.Int
	TotalDebt            *big.Int
	HealthFactor         *big.Int
	LiquidationThreshold *big.Int
	Risk                 lending.RiskLevel
}

// AccountHealth aggregates every protocol. HealthFactor is Σcollateral/Σdebt;
// RiskAdjustedHealthFactor weights collateral by each protocol's threshold.
// Risk is the tier of the most endangered protocol.
type AccountHealth struct {
	User                     common.Address
	TotalCollateral          *big.Int
	TotalDebt                *big.Int
	HealthFactor             *big.Int
	RiskAdjustedHealthFactor *big.Int
	Risk                     lending.RiskLevel
	Diversification          *big.Int
	HealthScore              *big.Int
	Protocols                []ProtocolHealth
	Failures                 map[lending.ProtocolID]error
	Complete                 bool
}

// BorrowCapacity is the answer to OptimalBorrow. Values in USD WAD; Amount
// is in native units of Asset when an asset was given.
type BorrowCapacity struct {
	Protocol            lending.ProtocolID
	Asset               string
	TargetHealthFactor  *big.Int
	CurrentHealthFactor *big.Int
	Value               *big.Int
	Amount              *big.Int
}
