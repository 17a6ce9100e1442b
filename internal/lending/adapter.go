// internal/lending/adapter.go
package lending

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
)

// Signer is the account submitting writes.
type Signer = blockchain.Signer

// Adapter — единый интерфейс для работы с различными протоколами кредитования.
// Every method returns either a result or an error classified into the
// lending taxonomy (*Error).
type Adapter interface {
	// Protocol возвращает идентификатор протокола.
	Protocol() ProtocolID

	GetUserAccountData(ctx context.Context, user common.Address) (*UserAccountSnapshot, error)
	GetUserReserveData(ctx context.Context, user common.Address, asset string) (*UserReserveSnapshot, error)
	GetReserveData(ctx context.Context, asset string) (*ReserveSnapshot, error)
	GetHealthFactor(ctx context.Context, user common.Address) (*HealthFactorReport, error)

	Supply(ctx context.Context, params OperationParams) (*Transaction, error)
	Withdraw(ctx context.Context, params OperationParams) (*Transaction, error)
	Borrow(ctx context.Context, params OperationParams) (*Transaction, error)
	Repay(ctx context.Context, params OperationParams) (*Transaction, error)

	GetProtocolConfig() ProtocolConfig
	GetSupportedAssets() []AssetDescriptor
}
