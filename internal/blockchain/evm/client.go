// internal/blockchain/evm/client.go
// Package evm реализует blockchain.Client поверх JSON-RPC узла EVM-сети.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
)

// Backend is the subset of ethclient.Client used by Client.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// LatencyRecorder принимает метрики задержек RPC.
type LatencyRecorder interface {
	RecordRPCLatency(method, endpoint string, duration time.Duration)
}

// Options настраивает поведение клиента.
type Options struct {
	RequestTimeout  time.Duration // per RPC request
	MaxReadAttempts uint          // reads only; submissions are never retried
	RequestsPerSec  float64       // 0 disables throttling
	ConfirmPoll     time.Duration
	GasBufferBps    int64 // extra gas over the estimate
	ChainID         *big.Int
	LatencyRecorder LatencyRecorder
}

// DefaultOptions возвращает значения по умолчанию.
func DefaultOptions() Options {
	return Options{
		RequestTimeout:  10 * time.Second,
		MaxReadAttempts: 3,
		RequestsPerSec:  20,
		ConfirmPoll:     2 * time.Second,
		GasBufferBps:    2000,
	}
}

// Client реализует blockchain.Client для EVM-узла.
type Client struct {
	backend  Backend
	endpoint string
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.Logger

	chainMu sync.Mutex
	chain   *big.Int
}

var _ blockchain.Client = (*Client)(nil)

// Dial подключается к RPC-узлу.
func Dial(ctx context.Context, endpoint string, opts Options, logger *zap.Logger) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("evm endpoint required")
	}
	eth, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, &blockchain.TransportError{Endpoint: trimmed, Method: "dial", Err: errors.Join(blockchain.ErrConnectionFailed, err)}
	}
	return NewClient(eth, trimmed, opts, logger), nil
}

// NewClient оборачивает готовый backend.
func NewClient(backend Backend, endpoint string, opts Options, logger *zap.Logger) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultOptions().RequestTimeout
	}
	if opts.MaxReadAttempts == 0 {
		opts.MaxReadAttempts = 1
	}
	if opts.ConfirmPoll <= 0 {
		opts.ConfirmPoll = DefaultOptions().ConfirmPoll
	}
	limit := rate.Inf
	if opts.RequestsPerSec > 0 {
		limit = rate.Limit(opts.RequestsPerSec)
	}
	return &Client{
		backend:  backend,
		endpoint: endpoint,
		limiter:  rate.NewLimiter(limit, 1),
		opts:     opts,
		logger:   logger.Named("evm_client"),
	}
}

// Close releases the underlying RPC connection.
func (c *Client) Close() error {
	if closer, ok := c.backend.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

// Read выполняет eth_call и декодирует результат.
func (c *Client) Read(ctx context.Context, contract common.Address, signature string, args ...interface{}) ([]interface{}, error) {
	method, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	data, err := EncodeCall(method, args...)
	if err != nil {
		return nil, err
	}

	op := func() ([]interface{}, error) {
		raw, err := c.call(ctx, "eth_call", func(callCtx context.Context) ([]byte, error) {
			return c.backend.CallContract(callCtx, ethereum.CallMsg{To: &contract, Data: data}, nil)
		})
		if err != nil {
			if reason, ok := revertReason(err); ok {
				return nil, backoff.Permanent(newCallError(contract, signature, reason, err))
			}
			if ctx.Err() != nil {
				return nil, backoff.Permanent(c.transportError("eth_call", ctx.Err()))
			}
			return nil, c.transportError("eth_call", err)
		}
		values, err := method.Outputs.Unpack(raw)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: unpack %s: %v", blockchain.ErrInvalidResponse, signature, err))
		}
		return values, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(c.opts.MaxReadAttempts),
		backoff.WithNotify(func(err error, d time.Duration) {
			c.logger.Debug("Retrying read", zap.String("signature", signature), zap.Duration("backoff", d), zap.Error(err))
		}))
}

// Submit подписывает, отправляет транзакцию и ждёт receipt. Никаких повторов.
func (c *Client) Submit(ctx context.Context, contract common.Address, signature string, signer blockchain.Signer, args ...interface{}) (*blockchain.Receipt, error) {
	txSigner, ok := signer.(TxSigner)
	if !ok || txSigner == nil {
		return nil, blockchain.ErrNoSigner
	}
	method, err := ParseSignature(signature)
	if err != nil {
		return nil, err
	}
	data, err := EncodeCall(method, args...)
	if err != nil {
		return nil, err
	}
	from := txSigner.Address()

	chainID, err := c.chainID(ctx)
	if err != nil {
		return nil, err
	}
	nonce, err := callValue(c, ctx, "eth_getTransactionCount", func(callCtx context.Context) (uint64, error) {
		return c.backend.PendingNonceAt(callCtx, from)
	})
	if err != nil {
		return nil, c.transportError("eth_getTransactionCount", err)
	}
	gasPrice, err := callValue(c, ctx, "eth_gasPrice", func(callCtx context.Context) (*big.Int, error) {
		return c.backend.SuggestGasPrice(callCtx)
	})
	if err != nil {
		return nil, c.transportError("eth_gasPrice", err)
	}
	msg := ethereum.CallMsg{From: from, To: &contract, Data: data}
	gas, err := callValue(c, ctx, "eth_estimateGas", func(callCtx context.Context) (uint64, error) {
		return c.backend.EstimateGas(callCtx, msg)
	})
	if err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, newCallError(contract, signature, reason, err)
		}
		return nil, c.transportError("eth_estimateGas", err)
	}
	gas = gas + gas*uint64(c.opts.GasBufferBps)/10_000

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &contract,
		Value:    new(big.Int),
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := txSigner.SignTx(tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}

	if _, err := callValue(c, ctx, "eth_sendRawTransaction", func(callCtx context.Context) (struct{}, error) {
		return struct{}{}, c.backend.SendTransaction(callCtx, signed)
	}); err != nil {
		if reason, ok := revertReason(err); ok {
			return nil, newCallError(contract, signature, reason, err)
		}
		return nil, c.transportError("eth_sendRawTransaction", err)
	}

	c.logger.Info("Transaction sent",
		zap.String("tx_hash", signed.Hash().Hex()),
		zap.String("contract", contract.Hex()),
		zap.String("signature", signature),
		zap.Uint64("nonce", nonce))

	receipt, err := c.waitMined(ctx, signed.Hash())
	if err != nil {
		return nil, err
	}

	effectivePrice := receipt.EffectiveGasPrice
	if effectivePrice == nil {
		effectivePrice = gasPrice
	}
	out := &blockchain.Receipt{
		TxRef:        signed.Hash(),
		GasUsed:      receipt.GasUsed,
		ResourceCost: new(big.Int).Mul(new(big.Int).SetUint64(receipt.GasUsed), effectivePrice),
		Status:       blockchain.TxStatusConfirmed,
	}
	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		out.Status = blockchain.TxStatusReverted
		return out, &blockchain.CallError{
			Contract:  contract.Hex(),
			Signature: signature,
			Reason:    "transaction reverted on-chain",
			Err:       blockchain.ErrReverted,
		}
	}
	return out, nil
}

// waitMined опрашивает receipt до включения транзакции в блок.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.ConfirmPoll)
	defer ticker.Stop()

	for {
		receipt, err := callValue(c, ctx, "eth_getTransactionReceipt", func(callCtx context.Context) (*types.Receipt, error) {
			return c.backend.TransactionReceipt(callCtx, hash)
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.logger.Debug("Receipt not available yet", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			// транзакция уже в сети и может быть включена позже
			return nil, c.transportError("eth_getTransactionReceipt",
				fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err()))
		case <-ticker.C:
		}
	}
}

func (c *Client) chainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()
	if c.chain != nil {
		return c.chain, nil
	}
	if c.opts.ChainID != nil {
		c.chain = c.opts.ChainID
		return c.chain, nil
	}
	id, err := callValue(c, ctx, "eth_chainId", func(callCtx context.Context) (*big.Int, error) {
		return c.backend.ChainID(callCtx)
	})
	if err != nil {
		return nil, c.transportError("eth_chainId", err)
	}
	c.chain = id
	return id, nil
}

func (c *Client) call(ctx context.Context, method string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	return callValue(c, ctx, method, fn)
}

// callValue применяет лимитер, таймаут запроса и метрики к одному RPC.
func callValue[T any](c *Client, ctx context.Context, method string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx); err != nil {
		return zero, err
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	start := time.Now()
	v, err := fn(callCtx)
	if c.opts.LatencyRecorder != nil {
		c.opts.LatencyRecorder.RecordRPCLatency(method, c.endpoint, time.Since(start))
	}
	if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return zero, errors.Join(blockchain.ErrTimeout, err)
	}
	return v, err
}

func (c *Client) transportError(method string, err error) error {
	var te *blockchain.TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, blockchain.ErrTimeout) {
		err = errors.Join(blockchain.ErrTimeout, err)
	}
	return &blockchain.TransportError{Endpoint: c.endpoint, Method: method, Err: err}
}

// revertReason извлекает причину revert из ошибки узла.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decErr := hexutil.Decode(hexData); decErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
				return hexData, true
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "execution reverted"); idx >= 0 {
		reason := strings.TrimSpace(strings.TrimPrefix(msg[idx+len("execution reverted"):], ":"))
		return reason, true
	}
	return "", false
}

func newCallError(contract common.Address, signature, reason string, err error) *blockchain.CallError {
	ce := &blockchain.CallError{
		Contract:  contract.Hex(),
		Signature: signature,
		Reason:    reason,
		Err:       err,
	}
	if isNumeric(reason) {
		ce.Code = reason
	}
	return ce
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
