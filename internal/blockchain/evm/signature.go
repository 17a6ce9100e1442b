// internal/blockchain/evm/signature.go
package evm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// signatureCache кэширует разобранные сигнатуры методов
var signatureCache sync.Map

// ParseSignature разбирает сигнатуру вида "name(inTypes)(outTypes)" в abi.Method.
// Tuples are not supported; flat types and arrays are ("address[]").
func ParseSignature(signature string) (abi.Method, error) {
	if cached, ok := signatureCache.Load(signature); ok {
		return cached.(abi.Method), nil
	}

	sig := strings.ReplaceAll(signature, " ", "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 {
		return abi.Method{}, fmt.Errorf("invalid signature %q: missing name or '('", signature)
	}
	name := sig[:open]

	closeIn := strings.IndexByte(sig[open:], ')')
	if closeIn < 0 {
		return abi.Method{}, fmt.Errorf("invalid signature %q: unbalanced inputs", signature)
	}
	closeIn += open
	inputs, err := parseArguments(sig[open+1 : closeIn])
	if err != nil {
		return abi.Method{}, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	var outputs abi.Arguments
	rest := sig[closeIn+1:]
	if rest != "" {
		if !strings.HasPrefix(rest, "(") || !strings.HasSuffix(rest, ")") {
			return abi.Method{}, fmt.Errorf("invalid signature %q: malformed outputs", signature)
		}
		outputs, err = parseArguments(rest[1 : len(rest)-1])
		if err != nil {
			return abi.Method{}, fmt.Errorf("invalid signature %q: %w", signature, err)
		}
	}

	mutability := "nonpayable"
	if len(outputs) > 0 {
		mutability = "view"
	}
	method := abi.NewMethod(name, name, abi.Function, mutability, false, false, inputs, outputs)
	signatureCache.Store(signature, method)
	return method, nil
}

func parseArguments(list string) (abi.Arguments, error) {
	if list == "" {
		return abi.Arguments{}, nil
	}
	parts := strings.Split(list, ",")
	args := make(abi.Arguments, 0, len(parts))
	for i, part := range parts {
		typ, err := abi.NewType(part, "", nil)
		if err != nil {
			return nil, fmt.Errorf("argument %d type %q: %w", i, part, err)
		}
		args = append(args, abi.Argument{Name: fmt.Sprintf("arg%d", i), Type: typ})
	}
	return args, nil
}

// EncodeCall упаковывает селектор и аргументы вызова.
func EncodeCall(method abi.Method, args ...interface{}) ([]byte, error) {
	packed, err := method.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method.Sig, err)
	}
	return append(append([]byte{}, method.ID...), packed...), nil
}
