// internal/api/users.go
package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/monitor"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
)

const (
	defaultTargetHealthFactor = "1.5"
	defaultPageSize           = 50
)

func userParam(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	raw := chi.URLParam(r, "user")
	if !common.IsHexAddress(raw) {
		writeRequestError(w, http.StatusBadRequest, "invalid user address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// Positions handles GET /v1/users/{user}/positions.
func (h *Handler) Positions(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	report, err := h.service.GetUserPositions(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewPositionsView(report))
}

// AccountHealth handles GET /v1/users/{user}/health.
func (h *Handler) AccountHealth(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	health, err := h.service.GetAccountHealth(r.Context(), user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAccountHealthView(health))
}

// BorrowCapacity handles GET /v1/users/{user}/borrow-capacity?protocol=&asset=&target=1.5.
func (h *Handler) BorrowCapacity(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	target := q.Get("target")
	if target == "" {
		target = defaultTargetHealthFactor
	}
	targetHF, err := fixedpoint.ParseWad(target)
	if err != nil {
		writeRequestError(w, http.StatusBadRequest, "target must be a decimal health factor")
		return
	}
	protocol := lending.ProtocolID(q.Get("protocol"))
	if protocol == "" {
		protocol = lending.ProtocolAuto
	}

	capacity, err := h.service.OptimalBorrow(r.Context(), user, protocol, q.Get("asset"), targetHF)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewBorrowCapacityView(capacity))
}

// Transactions handles GET /v1/users/{user}/transactions?limit=&offset=.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	if h.history == nil {
		writeRequestError(w, http.StatusNotImplemented, "journal is not configured")
		return
	}
	limit, ok := queryInt(r, "limit", defaultPageSize)
	if !ok {
		writeRequestError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeRequestError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	txs, err := h.history.ListTransactions(r.Context(), user, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list transactions", zap.Error(err))
		writeRequestError(w, http.StatusInternalServerError, "failed to read transactions")
		return
	}
	out := make([]TransactionView, 0, len(txs))
	for i := range txs {
		out = append(out, NewTransactionView(&txs[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// Transaction handles GET /v1/transactions/{id}.
func (h *Handler) Transaction(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeRequestError(w, http.StatusNotImplemented, "journal is not configured")
		return
	}
	tx, err := h.history.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		writeRequestError(w, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to get transaction", zap.Error(err))
		writeRequestError(w, http.StatusInternalServerError, "failed to read transaction")
		return
	}
	writeJSON(w, http.StatusOK, NewTransactionView(tx))
}

// UserAlerts handles GET /v1/users/{user}/alerts.
func (h *Handler) UserAlerts(w http.ResponseWriter, r *http.Request) {
	user, ok := userParam(w, r)
	if !ok {
		return
	}
	if h.alerts == nil {
		writeRequestError(w, http.StatusNotImplemented, "monitor is not enabled")
		return
	}
	alerts := h.alerts.GetAlertsByUser(user.Hex())
	if alerts == nil {
		alerts = []monitor.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// RecentAlerts handles GET /v1/alerts?limit=.
func (h *Handler) RecentAlerts(w http.ResponseWriter, r *http.Request) {
	if h.alerts == nil {
		writeRequestError(w, http.StatusNotImplemented, "monitor is not enabled")
		return
	}
	limit, ok := queryInt(r, "limit", defaultPageSize)
	if !ok {
		writeRequestError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	writeJSON(w, http.StatusOK, h.alerts.GetRecentAlerts(limit))
}
