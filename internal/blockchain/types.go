// internal/blockchain/types.go
package blockchain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxStatus is the final status of a submitted transaction.
type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
)

// Receipt is the confirmed outcome of Submit.
type Receipt struct {
	TxRef        common.Hash
	ResourceCost *big.Int // gas used * effective gas price, wei
	GasUsed      uint64
	Status       TxStatus
	BlockNumber  uint64
}

// AddressSigner is a Signer that only carries an address. Useful for
// simulations and for clients that sign remotely.
type AddressSigner common.Address

// Address реализует Signer.
func (a AddressSigner) Address() common.Address { return common.Address(a) }
