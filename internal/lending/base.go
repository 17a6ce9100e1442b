// internal/lending/base.go
package lending

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
)

const (
	sigAllowance = "allowance(address,address)(uint256)"
	sigBalanceOf = "balanceOf(address)(uint256)"

	// DefaultRepayBufferBps — запас на проценты между чтением долга и отправкой (0.01%).
	DefaultRepayBufferBps int64 = 1
)

var errStaleDebt = errors.New("debt grew past the buffered repay amount")

// BaseAdapter содержит общую логику для всех адаптеров протоколов.
type BaseAdapter struct {
	Client         blockchain.Client
	Assets         *AssetRegistry
	Config         ProtocolConfig
	Errors         *ErrorMapper
	Logger         *zap.Logger
	RepayBufferBps int64

	// Now is overridable in tests.
	Now func() time.Time
}

// NewBaseAdapter собирает общую часть адаптера.
func NewBaseAdapter(client blockchain.Client, cfg ProtocolConfig, assets *AssetRegistry, codes CodeTable, logger *zap.Logger) BaseAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseAdapter{
		Client:         client,
		Assets:         assets,
		Config:         cfg,
		Errors:         NewErrorMapper(cfg.ID, codes),
		Logger:         logger.Named(string(cfg.ID)),
		RepayBufferBps: DefaultRepayBufferBps,
		Now:            time.Now,
	}
}

// Protocol возвращает идентификатор протокола.
func (b *BaseAdapter) Protocol() ProtocolID { return b.Config.ID }

// GetProtocolConfig returns a copy of the deployment description.
func (b *BaseAdapter) GetProtocolConfig() ProtocolConfig {
	cfg := b.Config
	cfg.Contracts = make(map[string]common.Address, len(b.Config.Contracts))
	for k, v := range b.Config.Contracts {
		cfg.Contracts[k] = v
	}
	return cfg
}

// GetSupportedAssets returns descriptors in registration order.
func (b *BaseAdapter) GetSupportedAssets() []AssetDescriptor {
	return b.Assets.All()
}

// Asset resolves a symbol or address for this protocol.
func (b *BaseAdapter) Asset(symbol string) (AssetDescriptor, error) {
	return b.Assets.Require(b.Config.ID, symbol)
}

// Contract returns a core contract address by role ("pool", "comptroller", ...).
func (b *BaseAdapter) Contract(role string) (common.Address, error) {
	addr, ok := b.Config.Contracts[role]
	if !ok || (addr == common.Address{}) {
		return common.Address{}, Errorf(b.Config.ID, KindContractError, "contract %q is not configured", role)
	}
	return addr, nil
}

// Fail classifies err into the taxonomy.
func (b *BaseAdapter) Fail(err error) error {
	return b.Errors.Classify(err)
}

// Read вызывает view-метод и классифицирует ошибку.
func (b *BaseAdapter) Read(ctx context.Context, contract common.Address, signature string, args ...interface{}) ([]interface{}, error) {
	out, err := b.Client.Read(ctx, contract, signature, args...)
	if err != nil {
		b.Logger.Debug("Contract read failed",
			zap.String("contract", contract.Hex()),
			zap.String("method", signature),
			zap.Error(err))
		return nil, b.Fail(err)
	}
	return out, nil
}

// ReadUint reads a method with a single integer output.
func (b *BaseAdapter) ReadUint(ctx context.Context, contract common.Address, signature string, args ...interface{}) (*big.Int, error) {
	out, err := b.Read(ctx, contract, signature, args...)
	if err != nil {
		return nil, err
	}
	v, err := OutBig(out, 0)
	if err != nil {
		return nil, b.Malformed(signature, err)
	}
	return v, nil
}

// ReadBool reads a method with a single bool output.
func (b *BaseAdapter) ReadBool(ctx context.Context, contract common.Address, signature string, args ...interface{}) (bool, error) {
	out, err := b.Read(ctx, contract, signature, args...)
	if err != nil {
		return false, err
	}
	v, err := OutBool(out, 0)
	if err != nil {
		return false, b.Malformed(signature, err)
	}
	return v, nil
}

// Malformed reports an undecodable contract answer.
func (b *BaseAdapter) Malformed(signature string, err error) error {
	return &Error{
		Kind:     KindContractError,
		Protocol: b.Config.ID,
		Message:  fmt.Sprintf("unexpected output of %s: %v", signature, err),
		Err:      err,
	}
}

// TokenBalance returns an ERC-20 balance.
func (b *BaseAdapter) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return b.ReadUint(ctx, token, sigBalanceOf, owner)
}

// CheckAllowance fails with TokenAllowanceInsufficient when spender may not
// pull amount of token from owner.
func (b *BaseAdapter) CheckAllowance(ctx context.Context, asset AssetDescriptor, owner, spender common.Address, amount *big.Int) error {
	allowance, err := b.ReadUint(ctx, asset.Address, sigAllowance, owner, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return &Error{
			Kind:     KindTokenAllowanceInsufficient,
			Protocol: b.Config.ID,
			Message: fmt.Sprintf("allowance %s of %s for %s is below %s",
				allowance, asset.Symbol, spender.Hex(), amount),
		}
	}
	return nil
}

// ValidateAmount проверяет сумму операции до обращения к сети.
func (b *BaseAdapter) ValidateAmount(op Operation, amount Amount) error {
	if amount.IsMax() {
		if op == OperationWithdraw || op == OperationRepay {
			return nil
		}
		return Errorf(b.Config.ID, KindInvalidAmount, "%q is only accepted for withdraw and repay", MaxAmountLiteral)
	}
	if !amount.IsPositive() {
		return Errorf(b.Config.ID, KindInvalidAmount, "%s amount must be positive, got %s", op, amount)
	}
	return nil
}

// RequireSigner checks the operation carries a signer for params.User.
func (b *BaseAdapter) RequireSigner(params OperationParams) error {
	if params.Signer == nil {
		return Errorf(b.Config.ID, KindProtocolRejection, "operation requires a signer")
	}
	if (params.User != common.Address{}) && params.Signer.Address() != params.User {
		return Errorf(b.Config.ID, KindProtocolRejection, "signer %s does not match user %s",
			params.Signer.Address().Hex(), params.User.Hex())
	}
	return nil
}

// ResolveMaxRepay resolves "max" to the live debt plus the repay buffer and
// re-reads the debt once more right before submission. If the debt grew past
// the buffered amount the resolution is repeated once.
func (b *BaseAdapter) ResolveMaxRepay(ctx context.Context, readDebt func(context.Context) (*big.Int, error)) (*big.Int, error) {
	operation := func() (*big.Int, error) {
		debt, err := readDebt(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if debt.Sign() == 0 {
			return nil, backoff.Permanent(Errorf(b.Config.ID, KindInvalidAmount, "no outstanding debt to repay"))
		}
		amount := fixedpoint.ApplyBps(debt, b.RepayBufferBps)

		live, err := readDebt(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		if live.Cmp(amount) > 0 {
			b.Logger.Debug("Debt moved during max repay resolution",
				zap.String("buffered", amount.String()),
				zap.String("live", live.String()))
			return nil, errStaleDebt
		}
		return amount, nil
	}

	amount, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(0)),
		backoff.WithMaxTries(2))
	if errors.Is(err, errStaleDebt) {
		return nil, Errorf(b.Config.ID, KindInvalidAmount, "debt is accruing faster than the %d bps repay buffer", b.RepayBufferBps)
	}
	return amount, err
}

// Submit отправляет транзакцию и классифицирует ошибку.
func (b *BaseAdapter) Submit(ctx context.Context, contract common.Address, signature string, signer Signer, args ...interface{}) (*blockchain.Receipt, error) {
	b.Logger.Info("Submitting transaction",
		zap.String("contract", contract.Hex()),
		zap.String("method", signature),
		zap.String("from", signer.Address().Hex()))

	receipt, err := b.Client.Submit(ctx, contract, signature, signer, args...)
	if err != nil {
		b.Logger.Warn("Transaction failed",
			zap.String("method", signature),
			zap.Error(err))
		return nil, b.Fail(err)
	}
	if receipt.Status != blockchain.TxStatusConfirmed {
		return nil, &Error{
			Kind:     KindContractError,
			Protocol: b.Config.ID,
			Message:  fmt.Sprintf("transaction %s finished with status %s", receipt.TxRef.Hex(), receipt.Status),
		}
	}
	return receipt, nil
}

// NewTransaction builds the immutable record of a confirmed operation.
func (b *BaseAdapter) NewTransaction(op Operation, params OperationParams, asset AssetDescriptor, amount *big.Int, receipt *blockchain.Receipt, rate *big.Int) *Transaction {
	user := params.User
	if (user == common.Address{}) && params.Signer != nil {
		user = params.Signer.Address()
	}
	tx := &Transaction{
		ID:           uuid.NewString(),
		Kind:         op,
		Protocol:     b.Config.ID,
		Asset:        asset.Symbol,
		Amount:       fixedpoint.Clone(amount),
		User:         user,
		Timestamp:    b.Now().UTC(),
		TxRef:        receipt.TxRef,
		ResourceCost: fixedpoint.Clone(receipt.ResourceCost),
	}
	if rate != nil {
		tx.EffectiveRate = new(big.Int).Set(rate)
	}
	b.Logger.Info("Lending operation confirmed",
		zap.String("id", tx.ID),
		zap.String("operation", string(op)),
		zap.String("asset", asset.Symbol),
		zap.String("amount", tx.Amount.String()),
		zap.String("tx", tx.TxRef.Hex()))
	return tx
}

// CapExceeded reports whether current+amount goes over a cap expressed in
// native units. A zero cap means uncapped.
func CapExceeded(current, amount, capNative *big.Int) bool {
	if fixedpoint.IsZero(capNative) {
		return false
	}
	total := new(big.Int).Add(fixedpoint.Clone(current), fixedpoint.Clone(amount))
	return total.Cmp(capNative) > 0
}
