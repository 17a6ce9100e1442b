// internal/lending/registry.go
package lending

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AssetDescriptor — неизменяемое описание актива в конкретном протоколе.
type AssetDescriptor struct {
	Symbol            string
	Address           common.Address
	Decimals          uint8
	ReceiptToken      common.Address // aToken / cToken
	VariableDebtToken common.Address
	StableDebtToken   common.Address
	Oracle            common.Address // optional per-asset price source
	// LiquidationFactor overrides the on-chain factor used for health factor
	// on exchange-rate markets (WAD). Nil means use the market value.
	LiquidationFactor *big.Int
}

// AssetRegistry indexes descriptors by symbol and by address. Built once,
// read-only afterwards.
type AssetRegistry struct {
	bySymbol  map[string]AssetDescriptor
	byAddress map[common.Address]AssetDescriptor
	order     []string
}

// NewAssetRegistry validates and indexes descriptors.
func NewAssetRegistry(assets []AssetDescriptor) (*AssetRegistry, error) {
	r := &AssetRegistry{
		bySymbol:  make(map[string]AssetDescriptor, len(assets)),
		byAddress: make(map[common.Address]AssetDescriptor, len(assets)),
	}
	for _, a := range assets {
		key := normalizeSymbol(a.Symbol)
		if key == "" {
			return nil, fmt.Errorf("asset with address %s has empty symbol", a.Address.Hex())
		}
		if (a.Address == common.Address{}) {
			return nil, fmt.Errorf("asset %s has zero address", a.Symbol)
		}
		if _, exists := r.bySymbol[key]; exists {
			return nil, fmt.Errorf("asset %s registered twice", a.Symbol)
		}
		if _, exists := r.byAddress[a.Address]; exists {
			return nil, fmt.Errorf("asset address %s registered twice", a.Address.Hex())
		}
		r.bySymbol[key] = a
		r.byAddress[a.Address] = a
		r.order = append(r.order, key)
	}
	return r, nil
}

// Lookup finds an asset by symbol or hex address.
func (r *AssetRegistry) Lookup(symbolOrAddress string) (AssetDescriptor, bool) {
	if common.IsHexAddress(symbolOrAddress) {
		a, ok := r.byAddress[common.HexToAddress(symbolOrAddress)]
		return a, ok
	}
	a, ok := r.bySymbol[normalizeSymbol(symbolOrAddress)]
	return a, ok
}

// ByAddress finds an asset by underlying or receipt token address.
func (r *AssetRegistry) ByAddress(addr common.Address) (AssetDescriptor, bool) {
	if a, ok := r.byAddress[addr]; ok {
		return a, true
	}
	for _, a := range r.byAddress {
		if a.ReceiptToken == addr {
			return a, true
		}
	}
	return AssetDescriptor{}, false
}

// Require is Lookup returning an AssetNotSupported error.
func (r *AssetRegistry) Require(protocol ProtocolID, symbolOrAddress string) (AssetDescriptor, error) {
	a, ok := r.Lookup(symbolOrAddress)
	if !ok {
		return AssetDescriptor{}, &Error{
			Kind:     KindAssetNotSupported,
			Message:  fmt.Sprintf("asset %s is not supported by %s", symbolOrAddress, protocol),
			Protocol: protocol,
		}
	}
	return a, nil
}

// All returns descriptors in registration order.
func (r *AssetRegistry) All() []AssetDescriptor {
	out := make([]AssetDescriptor, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.bySymbol[key])
	}
	return out
}

// Symbols returns the sorted list of symbols.
func (r *AssetRegistry) Symbols() []string {
	out := make([]string, 0, len(r.bySymbol))
	for _, a := range r.bySymbol {
		out = append(out, a.Symbol)
	}
	sort.Strings(out)
	return out
}

// NormalizeSymbol is the canonical key for symbols.
func NormalizeSymbol(s string) string { return normalizeSymbol(s) }

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
