// internal/lending/errors.go
package lending

import (
	"errors"
	"fmt"
	"sort"
)

// ErrorKind — закрытый набор видов ошибок кредитования.
type ErrorKind string

const (
	KindInsufficientCollateral     ErrorKind = "insufficient_collateral"
	KindHealthFactorTooLow         ErrorKind = "health_factor_too_low"
	KindAssetNotSupported          ErrorKind = "asset_not_supported"
	KindInsufficientLiquidity      ErrorKind = "insufficient_liquidity"
	KindInvalidAmount              ErrorKind = "invalid_amount"
	KindMarketFrozen               ErrorKind = "market_frozen"
	KindBorrowingDisabled          ErrorKind = "borrowing_disabled"
	KindBorrowCapExceeded          ErrorKind = "borrow_cap_exceeded"
	KindSupplyCapExceeded          ErrorKind = "supply_cap_exceeded"
	KindProtocolRejection          ErrorKind = "protocol_rejection"
	KindPriceOracleError           ErrorKind = "price_oracle_error"
	KindMathError                  ErrorKind = "math_error"
	KindTokenAllowanceInsufficient ErrorKind = "token_allowance_insufficient"
	KindTokenTransferFailed        ErrorKind = "token_transfer_failed"
	KindLiquidationInvalid         ErrorKind = "liquidation_invalid"
	KindLiquidationExcessive       ErrorKind = "liquidation_excessive"
	KindNetworkError               ErrorKind = "network_error"
	KindContractError              ErrorKind = "contract_error"
)

// AllKinds lists the taxonomy in declaration order.
var AllKinds = []ErrorKind{
	KindInsufficientCollateral, KindHealthFactorTooLow, KindAssetNotSupported,
	KindInsufficientLiquidity, KindInvalidAmount, KindMarketFrozen,
	KindBorrowingDisabled, KindBorrowCapExceeded, KindSupplyCapExceeded,
	KindProtocolRejection, KindPriceOracleError, KindMathError,
	KindTokenAllowanceInsufficient, KindTokenTransferFailed, KindLiquidationInvalid,
	KindLiquidationExcessive, KindNetworkError, KindContractError,
}

// Error is a typed lending error with a human-readable message.
type Error struct {
	Kind     ErrorKind
	Message  string
	Code     string // protocol-specific code when available
	Protocol ProtocolID
	Err      error
}

// NewError creates an error of the given kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf creates an error with a formatted message for a protocol.
func Errorf(protocol ProtocolID, kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Protocol: protocol, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Protocol != "" {
		prefix = string(e.Protocol) + ": " + prefix
	}
	if e.Code != "" {
		return fmt.Sprintf("%s (code %s): %s", prefix, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: K}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Code == "" || t.Code == e.Code)
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) ErrorKind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// AllAdaptersFailed builds the aggregate error returned when no adapter
// answered a read. The per-adapter failures stay reachable via errors.As.
func AllAdaptersFailed(subject string, failures map[ProtocolID]error) *Error {
	errs := make([]error, 0, len(failures))
	for _, id := range sortedProtocols(failures) {
		errs = append(errs, failures[id])
	}
	return &Error{
		Kind:    KindNetworkError,
		Message: fmt.Sprintf("all adapters failed for %s", subject),
		Err:     errors.Join(errs...),
	}
}

func sortedProtocols(m map[ProtocolID]error) []ProtocolID {
	out := make([]ProtocolID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
