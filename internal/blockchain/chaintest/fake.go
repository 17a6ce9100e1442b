// internal/blockchain/chaintest/fake.go
// Package chaintest содержит детерминированный in-memory blockchain.Client
// для тестов адаптеров.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
)

// ReadFunc produces the decoded outputs of a view call.
type ReadFunc func(args []interface{}) ([]interface{}, error)

// Call records one interaction with the fake.
type Call struct {
	Contract  common.Address
	Signature string
	Args      []interface{}
	From      common.Address
}

// Method returns the method name of the call.
func (c Call) Method() string {
	return MethodName(c.Signature)
}

type key struct {
	contract common.Address
	method   string
}

// Client is a fake chain keyed by contract + method name.
type Client struct {
	mu        sync.Mutex
	reads     map[key]ReadFunc
	readCount map[key]int
	submits   []Call
	submitErr error
	receipt   *blockchain.Receipt
	nonce     uint64
}

var _ blockchain.Client = (*Client)(nil)

// New creates an empty fake. Unknown reads fail with a CallError.
func New() *Client {
	return &Client{
		reads:     make(map[key]ReadFunc),
		readCount: make(map[key]int),
	}
}

// MethodName extracts "name" from "name(in)(out)".
func MethodName(signature string) string {
	if i := strings.IndexByte(signature, '('); i >= 0 {
		return signature[:i]
	}
	return signature
}

// OnRead installs a handler for contract.method.
func (c *Client) OnRead(contract common.Address, method string, fn ReadFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads[key{contract, MethodName(method)}] = fn
}

// SetRead installs fixed outputs for contract.method.
func (c *Client) SetRead(contract common.Address, method string, out ...interface{}) {
	c.OnRead(contract, method, func([]interface{}) ([]interface{}, error) {
		return out, nil
	})
}

// FailRead makes contract.method fail with err.
func (c *Client) FailRead(contract common.Address, method string, err error) {
	c.OnRead(contract, method, func([]interface{}) ([]interface{}, error) {
		return nil, err
	})
}

// FailSubmit makes every following Submit fail with err.
func (c *Client) FailSubmit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitErr = err
}

// SetReceipt overrides the receipt returned by Submit.
func (c *Client) SetReceipt(r *blockchain.Receipt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.receipt = r
}

// Reads returns how many times contract.method was read.
func (c *Client) Reads(contract common.Address, method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readCount[key{contract, MethodName(method)}]
}

// Submits returns the recorded submissions.
func (c *Client) Submits() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.submits))
	copy(out, c.submits)
	return out
}

// Read реализует blockchain.Client.
func (c *Client) Read(ctx context.Context, contract common.Address, signature string, args ...interface{}) ([]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k := key{contract, MethodName(signature)}
	c.mu.Lock()
	fn, ok := c.reads[k]
	c.readCount[k]++
	c.mu.Unlock()
	if !ok {
		return nil, &blockchain.CallError{
			Contract:  contract.Hex(),
			Signature: signature,
			Reason:    fmt.Sprintf("no fake for %s", k.method),
		}
	}
	return fn(args)
}

// Submit реализует blockchain.Client.
func (c *Client) Submit(ctx context.Context, contract common.Address, signature string, signer blockchain.Signer, args ...interface{}) (*blockchain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.submitErr != nil {
		return nil, c.submitErr
	}
	c.submits = append(c.submits, Call{Contract: contract, Signature: signature, Args: args, From: signer.Address()})
	c.nonce++
	if c.receipt != nil {
		r := *c.receipt
		return &r, nil
	}
	return &blockchain.Receipt{
		TxRef:        common.BytesToHash(crypto.Keccak256([]byte(fmt.Sprintf("%s:%d", signature, c.nonce)))),
		ResourceCost: big.NewInt(21_000),
		GasUsed:      21_000,
		Status:       blockchain.TxStatusConfirmed,
		BlockNumber:  c.nonce,
	}, nil
}
