// internal/blockchain/blockchain.go
// Package blockchain описывает абстрактный Chain Client, через который
// адаптеры протоколов читают состояние контрактов и отправляют транзакции.
package blockchain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Client определяет общий интерфейс для взаимодействия с блокчейном.
//
// Signatures use the form "name(inTypes)(outTypes)", for example
// "balanceOf(address)(uint256)". The output list may be omitted for Submit.
type Client interface {
	// Read выполняет view-вызов контракта и возвращает декодированные значения.
	Read(ctx context.Context, contract common.Address, signature string, args ...interface{}) ([]interface{}, error)
	// Submit подписывает, отправляет транзакцию и ждёт её подтверждения.
	Submit(ctx context.Context, contract common.Address, signature string, signer Signer, args ...interface{}) (*Receipt, error)
}

// Signer identifies the account submitting a transaction. Concrete clients
// type-assert it to their own signing capability.
type Signer interface {
	Address() common.Address
}
