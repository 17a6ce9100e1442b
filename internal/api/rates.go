// internal/api/rates.go
package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const (
	defaultHistoryWindow = 24 * time.Hour
	defaultHistoryLimit  = 500
)

// Rates handles GET /v1/rates/{asset}.
func (h *Handler) Rates(w http.ResponseWriter, r *http.Request) {
	cmp, err := h.service.GetCurrentRates(r.Context(), chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewComparisonView(cmp))
}

// AllRates handles GET /v1/rates?assets=USDC,DAI.
func (h *Handler) AllRates(w http.ResponseWriter, r *http.Request) {
	var assets []string
	if raw := r.URL.Query().Get("assets"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets = append(assets, a)
			}
		}
	}
	all, err := h.service.GetAllRates(r.Context(), assets...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAllRatesView(all))
}

// RateHistory handles GET /v1/rates/{asset}/history?since=24h&limit=500.
func (h *Handler) RateHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeRequestError(w, http.StatusNotImplemented, "journal is not configured")
		return
	}
	window := defaultHistoryWindow
	if raw := r.URL.Query().Get("since"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeRequestError(w, http.StatusBadRequest, "since must be a positive duration")
			return
		}
		window = d
	}
	limit, ok := queryInt(r, "limit", defaultHistoryLimit)
	if !ok {
		writeRequestError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	samples, err := h.history.ListRateSamples(r.Context(), chi.URLParam(r, "asset"), h.now().Add(-window), limit)
	if err != nil {
		h.logger.Error("Failed to list rate samples", zap.Error(err))
		writeRequestError(w, http.StatusInternalServerError, "failed to read rate history")
		return
	}
	writeJSON(w, http.StatusOK, NewRateHistoryView(samples))
}

// queryInt reads a positive integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
