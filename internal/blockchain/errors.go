// internal/blockchain/errors.go
package blockchain

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout возникает при превышении времени ожидания
	ErrTimeout = errors.New("chain request timeout")

	// ErrConnectionFailed возникает при ошибке подключения
	ErrConnectionFailed = errors.New("chain connection failed")

	// ErrInvalidResponse возникает при получении некорректного ответа
	ErrInvalidResponse = errors.New("invalid chain response")

	// ErrNoSigner возникает, когда подписант не может подписать транзакцию
	ErrNoSigner = errors.New("signer cannot sign transactions")

	// ErrReverted возникает, когда транзакция включена в блок, но откатилась
	ErrReverted = errors.New("transaction reverted")
)

// CallError is a failure reported by the contract itself: a revert with a
// reason string and/or a structured code. Error Mapper prefers Code over
// matching Reason text.
type CallError struct {
	Contract  string
	Signature string
	Code      string
	Reason    string
	Err       error
}

// Error реализует интерфейс error
func (e *CallError) Error() string {
	msg := e.Reason
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("call %s at %s failed (code %s): %s", e.Signature, e.Contract, e.Code, msg)
	}
	return fmt.Sprintf("call %s at %s failed: %s", e.Signature, e.Contract, msg)
}

// Unwrap возвращает оригинальную ошибку
func (e *CallError) Unwrap() error {
	return e.Err
}

// TransportError wraps node/network failures.
type TransportError struct {
	Endpoint string
	Method   string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("rpc error [%s] at %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
