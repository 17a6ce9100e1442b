// internal/lending/errmap.go
package lending

import (
	"context"
	"errors"
	"strings"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
)

// CodeTable maps protocol error codes to kinds.
type CodeTable map[string]ErrorKind

// AaveCodes maps pool error codes (numeric revert reasons).
var AaveCodes = CodeTable{
	"26": KindInvalidAmount,
	"27": KindMarketFrozen, // reserve inactive
	"28": KindMarketFrozen,
	"29": KindMarketFrozen, // paused
	"30": KindBorrowingDisabled,
	"31": KindBorrowingDisabled, // stable borrowing
	"32": KindInvalidAmount,     // not enough available user balance
	"34": KindInsufficientCollateral,
	"35": KindHealthFactorTooLow,
	"36": KindInsufficientCollateral,
	"39": KindInvalidAmount, // no debt of selected type
	"43": KindInvalidAmount,
	"45": KindLiquidationInvalid,
	"46": KindLiquidationInvalid,
	"50": KindBorrowCapExceeded,
	"51": KindSupplyCapExceeded,
}

// CompoundTokenCodes maps the cToken Error enum.
var CompoundTokenCodes = CodeTable{
	"1":  KindProtocolRejection, // UNAUTHORIZED
	"2":  KindInvalidAmount,     // BAD_INPUT
	"3":  KindProtocolRejection, // COMPTROLLER_REJECTION
	"4":  KindMathError,
	"5":  KindContractError,
	"6":  KindLiquidationInvalid,
	"7":  KindLiquidationExcessive,
	"8":  KindContractError,
	"9":  KindMathError,
	"10": KindContractError, // MARKET_NOT_FRESH
	"11": KindAssetNotSupported,
	"12": KindTokenAllowanceInsufficient,
	"13": KindInvalidAmount, // TOKEN_INSUFFICIENT_BALANCE
	"14": KindInsufficientLiquidity,
	"15": KindTokenTransferFailed,
	"16": KindTokenTransferFailed,
}

// CompoundComptrollerCodes maps the Comptroller Error enum.
var CompoundComptrollerCodes = CodeTable{
	"1":  KindProtocolRejection,
	"3":  KindLiquidationInvalid, // INSUFFICIENT_SHORTFALL
	"4":  KindInsufficientCollateral,
	"8":  KindInsufficientCollateral, // MARKET_NOT_ENTERED
	"9":  KindAssetNotSupported,
	"10": KindMathError,
	"12": KindPriceOracleError,
	"13": KindProtocolRejection,
	"16": KindLiquidationExcessive,
}

type pattern struct {
	substr string
	kind   ErrorKind
}

// patterns are matched in order against lower-cased error text. Legacy
// untyped errors only; structured codes win when present.
var patterns = []pattern{
	{"health factor", KindHealthFactorTooLow},
	{"health_factor", KindHealthFactorTooLow},
	{"collateral cannot cover", KindInsufficientCollateral},
	{"insufficient collateral", KindInsufficientCollateral},
	{"collateral_balance_is_zero", KindInsufficientCollateral},
	{"supply cap", KindSupplyCapExceeded},
	{"supply_cap", KindSupplyCapExceeded},
	{"borrow cap", KindBorrowCapExceeded},
	{"borrow_cap", KindBorrowCapExceeded},
	{"borrow is paused", KindBorrowingDisabled},
	{"borrowing not enabled", KindBorrowingDisabled},
	{"borrowing_not_enabled", KindBorrowingDisabled},
	{"frozen", KindMarketFrozen},
	{"paused", KindMarketFrozen},
	{"allowance", KindTokenAllowanceInsufficient},
	{"transfer amount exceeds balance", KindTokenTransferFailed},
	{"transfer failed", KindTokenTransferFailed},
	{"safeerc20", KindTokenTransferFailed},
	{"insufficient cash", KindInsufficientLiquidity},
	{"insufficient liquidity", KindInsufficientLiquidity},
	{"not enough liquidity", KindInsufficientLiquidity},
	{"oracle", KindPriceOracleError},
	{"price", KindPriceOracleError},
	{"overflow", KindMathError},
	{"underflow", KindMathError},
	{"division by zero", KindMathError},
	{"invalid amount", KindInvalidAmount},
	{"invalid_amount", KindInvalidAmount},
	{"market not listed", KindAssetNotSupported},
	{"not supported", KindAssetNotSupported},
	{"too much repay", KindLiquidationExcessive},
	{"liquidat", KindLiquidationInvalid},
	{"timeout", KindNetworkError},
	{"deadline exceeded", KindNetworkError},
	{"connection", KindNetworkError},
	{"eof", KindNetworkError},
}

// ErrorMapper classifies raw adapter failures into the taxonomy.
type ErrorMapper struct {
	Protocol ProtocolID
	Codes    CodeTable
}

// NewErrorMapper creates a mapper for a protocol with its code table.
func NewErrorMapper(protocol ProtocolID, codes CodeTable) *ErrorMapper {
	return &ErrorMapper{Protocol: protocol, Codes: codes}
}

// Classify превращает произвольную ошибку в *Error. Best effort: typed codes
// first, then the substring table, then ContractError.
func (m *ErrorMapper) Classify(err error) error {
	if err == nil {
		return nil
	}

	var typed *Error
	if errors.As(err, &typed) {
		if typed.Protocol == "" {
			cp := *typed
			cp.Protocol = m.Protocol
			return &cp
		}
		return typed
	}

	out := &Error{Protocol: m.Protocol, Err: err}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, blockchain.ErrTimeout):
		out.Kind = KindNetworkError
		out.Message = "request timed out: " + err.Error()
		return out
	case errors.Is(err, context.Canceled):
		out.Kind = KindNetworkError
		out.Message = "request cancelled: " + err.Error()
		return out
	}

	var transport *blockchain.TransportError
	if errors.As(err, &transport) {
		out.Kind = KindNetworkError
		out.Message = err.Error()
		return out
	}

	var call *blockchain.CallError
	if errors.As(err, &call) {
		out.Code = call.Code
		out.Message = call.Error()
		if kind, ok := m.lookupCode(call.Code); ok {
			out.Kind = kind
			return out
		}
		if kind, ok := matchPattern(call.Reason); ok {
			out.Kind = kind
			return out
		}
		out.Kind = KindContractError
		return out
	}

	out.Message = err.Error()
	if kind, ok := matchPattern(err.Error()); ok {
		out.Kind = kind
		return out
	}
	out.Kind = KindContractError
	return out
}

// FromCode builds an error for a protocol-returned numeric code.
func (m *ErrorMapper) FromCode(code, message string) *Error {
	kind, ok := m.lookupCode(code)
	if !ok {
		kind = KindProtocolRejection
	}
	return &Error{Kind: kind, Protocol: m.Protocol, Code: code, Message: message}
}

func (m *ErrorMapper) lookupCode(code string) (ErrorKind, bool) {
	if code == "" || m.Codes == nil {
		return "", false
	}
	kind, ok := m.Codes[code]
	return kind, ok
}

func matchPattern(text string) (ErrorKind, bool) {
	lower := strings.ToLower(text)
	if lower == "" {
		return "", false
	}
	for _, p := range patterns {
		if strings.Contains(lower, p.substr) {
			return p.kind, true
		}
	}
	return "", false
}

// CodesFor returns the built-in code table of a protocol.
func CodesFor(protocol ProtocolID) CodeTable {
	switch protocol {
	case ProtocolAaveV3:
		return AaveCodes
	case ProtocolCompound:
		return CompoundTokenCodes
	}
	return nil
}

// Classify maps err using the built-in table of protocol.
func Classify(protocol ProtocolID, err error) error {
	return NewErrorMapper(protocol, CodesFor(protocol)).Classify(err)
}
