// internal/api/handler.go
// Package api публикует менеджер кредитования по HTTP (chi).
package api

import (
	"context"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/monitor"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
)

const requestLimit = 1 << 20 // 1 MiB

// Service — операции менеджера, доступные по HTTP.
type Service interface {
	GetCurrentRates(ctx context.Context, asset string) (*manager.ProtocolComparison, error)
	GetAllRates(ctx context.Context, assets ...string) (*manager.AllRates, error)
	GetUserPositions(ctx context.Context, user common.Address) (*manager.PositionsReport, error)
	GetAccountHealth(ctx context.Context, user common.Address) (*manager.AccountHealth, error)
	OptimalBorrow(ctx context.Context, user common.Address, protocol lending.ProtocolID, asset string, targetHF *big.Int) (*manager.BorrowCapacity, error)
	Supply(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error)
	Withdraw(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error)
	Borrow(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error)
	Repay(ctx context.Context, params lending.OperationParams) (*lending.Transaction, error)
	Protocols() []lending.ProtocolID
	SupportedAssets() []string
}

// History reads the journal. A nil History disables the history routes.
type History interface {
	GetTransaction(ctx context.Context, id string) (*lending.Transaction, error)
	ListTransactions(ctx context.Context, user common.Address, limit, offset int) ([]lending.Transaction, error)
	ListRateSamples(ctx context.Context, asset string, since time.Time, limit int) ([]storage.RateSample, error)
}

// Alerts exposes recent monitor alerts.
type Alerts interface {
	GetRecentAlerts(limit int) []monitor.Alert
	GetAlertsByUser(user string) []monitor.Alert
}

// Deps collects the router's collaborators. Only Service is required.
type Deps struct {
	Service  Service
	History  History
	Alerts   Alerts
	Signer   lending.Signer // nil makes write routes answer 503
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Handler реализует HTTP-обработчики.
type Handler struct {
	service Service
	history History
	alerts  Alerts
	signer  lending.Signer
	logger  *zap.Logger
	now     func() time.Time
}

// NewHandler создаёт обработчики.
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service: deps.Service,
		history: deps.History,
		alerts:  deps.Alerts,
		signer:  deps.Signer,
		logger:  logger.Named("api"),
		now:     time.Now,
	}
}

// NewRouter собирает все маршруты.
func NewRouter(deps Deps) http.Handler {
	h := NewHandler(deps)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger(h.logger))

	r.Get("/healthz", h.Health)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/assets", h.Assets)

		r.Get("/rates", h.AllRates)
		r.Get("/rates/{asset}", h.Rates)
		r.Get("/rates/{asset}/history", h.RateHistory)

		r.Route("/users/{user}", func(r chi.Router) {
			r.Get("/positions", h.Positions)
			r.Get("/health", h.AccountHealth)
			r.Get("/borrow-capacity", h.BorrowCapacity)
			r.Get("/transactions", h.Transactions)
			r.Get("/alerts", h.UserAlerts)
		})

		r.Get("/transactions/{id}", h.Transaction)
		r.Get("/alerts", h.RecentAlerts)

		r.Post("/supply", h.operation(lending.OperationSupply))
		r.Post("/withdraw", h.operation(lending.OperationWithdraw))
		r.Post("/borrow", h.operation(lending.OperationBorrow))
		r.Post("/repay", h.operation(lending.OperationRepay))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeRequestError(w, http.StatusNotFound, http.StatusText(http.StatusNotFound))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeRequestError(w, http.StatusMethodNotAllowed, http.StatusText(http.StatusMethodNotAllowed))
	})
	return r
}

// Health отвечает на проверку живости.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"protocols": h.service.Protocols(),
		"time":      h.now().UTC(),
	})
}

// Assets lists every symbol any protocol supports.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"assets": h.service.SupportedAssets()})
}
