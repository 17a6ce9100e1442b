// internal/api/operations.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// operationRequest is the body of POST /v1/{supply|withdraw|borrow|repay}.
type operationRequest struct {
	Protocol string          `json:"protocol"` // пусто или "auto" = выбор менеджером
	Asset    string          `json:"asset"`
	Amount   *lending.Amount `json:"amount"`
	User     string          `json:"user"`      // defaults to the signer
	RateMode string          `json:"rate_mode"` // variable | stable
}

func (h *Handler) operation(op lending.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.signer == nil {
			writeRequestError(w, http.StatusServiceUnavailable, "no signer configured, writes are disabled")
			return
		}

		var req operationRequest
		if err := decodeRequest(r, &req); err != nil {
			writeBadRequest(w, err)
			return
		}
		params, err := h.operationParams(req)
		if err != nil {
			writeBadRequest(w, err)
			return
		}

		var tx *lending.Transaction
		switch op {
		case lending.OperationSupply:
			tx, err = h.service.Supply(r.Context(), params)
		case lending.OperationWithdraw:
			tx, err = h.service.Withdraw(r.Context(), params)
		case lending.OperationBorrow:
			tx, err = h.service.Borrow(r.Context(), params)
		default:
			tx, err = h.service.Repay(r.Context(), params)
		}
		if err != nil {
			h.logger.Warn("Operation rejected",
				zap.String("operation", string(op)),
				zap.String("asset", params.Asset),
				zap.String("error_kind", string(lending.KindOf(err))),
				zap.Error(err))
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, NewTransactionView(tx))
	}
}

func (h *Handler) operationParams(req operationRequest) (lending.OperationParams, error) {
	if req.Amount == nil {
		return lending.OperationParams{}, lending.NewError(lending.KindInvalidAmount, "amount is required")
	}
	protocol := lending.ProtocolID(strings.ToLower(strings.TrimSpace(req.Protocol)))
	if protocol == "" {
		protocol = lending.ProtocolAuto
	}
	if protocol != lending.ProtocolAuto && !protocol.IsKnown() {
		return lending.OperationParams{}, lending.Errorf(protocol, lending.KindProtocolRejection, "unknown protocol %q", req.Protocol)
	}

	user := h.signer.Address()
	if req.User != "" {
		if !common.IsHexAddress(req.User) {
			return lending.OperationParams{}, fmt.Errorf("invalid user address %q", req.User)
		}
		user = common.HexToAddress(req.User)
	}

	mode := lending.RateModeVariable
	switch strings.ToLower(req.RateMode) {
	case "", "variable":
	case "stable":
		mode = lending.RateModeStable
	default:
		return lending.OperationParams{}, fmt.Errorf("unknown rate_mode %q", req.RateMode)
	}

	return lending.OperationParams{
		Protocol: protocol,
		Asset:    strings.TrimSpace(req.Asset),
		Amount:   *req.Amount,
		User:     user,
		RateMode: mode,
		Signer:   h.signer,
	}, nil
}

// writeBadRequest keeps typed lending errors (bad amount, unknown protocol)
// and reports everything else as a malformed request.
func writeBadRequest(w http.ResponseWriter, err error) {
	if lending.KindOf(err) != "" {
		writeError(w, err)
		return
	}
	writeRequestError(w, http.StatusBadRequest, err.Error())
}

func decodeRequest(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var le *lending.Error
		if errors.As(err, &le) {
			return le
		}
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
