// internal/api/response.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

type errorResponse struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Code     string `json:"code,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

const kindInvalidRequest = "invalid_request"

// statusFor maps an error kind to an HTTP status.
func statusFor(kind lending.ErrorKind) int {
	switch kind {
	case lending.KindInvalidAmount:
		return http.StatusBadRequest
	case lending.KindAssetNotSupported:
		return http.StatusNotFound
	case lending.KindInsufficientCollateral, lending.KindHealthFactorTooLow,
		lending.KindInsufficientLiquidity, lending.KindMarketFrozen,
		lending.KindBorrowingDisabled, lending.KindBorrowCapExceeded,
		lending.KindSupplyCapExceeded, lending.KindProtocolRejection,
		lending.KindTokenAllowanceInsufficient, lending.KindTokenTransferFailed,
		lending.KindLiquidationInvalid, lending.KindLiquidationExcessive:
		return http.StatusUnprocessableEntity
	case lending.KindNetworkError:
		return http.StatusServiceUnavailable
	case lending.KindPriceOracleError, lending.KindContractError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var le *lending.Error
	if !errors.As(err, &le) {
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Kind:    string(lending.KindContractError),
			Message: err.Error(),
		})
		return
	}
	writeJSON(w, statusFor(le.Kind), errorResponse{
		Kind:     string(le.Kind),
		Message:  le.Message,
		Code:     le.Code,
		Protocol: string(le.Protocol),
	})
}

func writeRequestError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Kind: kindInvalidRequest, Message: message})
}
