// internal/monitor/service.go
// Package monitor периодически опрашивает менеджер: сохраняет историю ставок
// и поднимает алерты по здоровью отслеживаемых аккаунтов.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
	logutil "github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

// Source is what the monitor reads from the manager.
type Source interface {
	GetAllRates(ctx context.Context, assets ...string) (*manager.AllRates, error)
	GetAccountHealth(ctx context.Context, user common.Address) (*manager.AccountHealth, error)
}

// RateSink stores sampled rates. Optional.
type RateSink interface {
	SaveRateSamples(ctx context.Context, samples []storage.RateSample) error
}

// Config configuration for Service
type Config struct {
	Interval time.Duration
	Users    []common.Address
	Assets   []string // empty = every supported asset
	Alerts   AlertConfig
}

// Service polls rates and account health on a fixed interval.
type Service struct {
	source Source
	sink   RateSink
	alerts *AlertManager
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	lastPoll time.Time
	health   map[common.Address]*manager.AccountHealth
}

// NewService creates a new monitor service
func NewService(source Source, sink RateSink, config Config, logger *zap.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	logger = logger.Named("monitor")
	return &Service{
		source: source,
		sink:   sink,
		alerts: NewAlertManager(config.Alerts, logger),
		config: config,
		logger: logger,
		health: make(map[common.Address]*manager.AccountHealth),
	}
}

// Alerts returns the alert manager.
func (s *Service) Alerts() *AlertManager { return s.alerts }

// Run polls until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("Monitor started",
		zap.Duration("interval", s.config.Interval),
		zap.Int("users", len(s.config.Users)))

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Monitor stopped")
			return nil
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll runs one round: rates first, then every watched account.
func (s *Service) Poll(ctx context.Context) {
	defer logutil.TrackPerformance(s.logger, "monitor_poll")()

	s.pollRates(ctx)
	for _, user := range s.config.Users {
		if ctx.Err() != nil {
			return
		}
		s.pollHealth(ctx, user)
	}

	s.mu.Lock()
	s.lastPoll = time.Now()
	s.mu.Unlock()
}

func (s *Service) pollRates(ctx context.Context) {
	all, err := s.source.GetAllRates(ctx, s.config.Assets...)
	if err != nil {
		s.logger.Warn("Rate poll failed", zap.Error(err))
		return
	}
	for asset, err := range all.Failures {
		s.logger.Warn("No rates for asset", zap.String("asset", asset), zap.Error(err))
	}

	var samples []storage.RateSample
	for _, cmp := range all.Assets {
		s.alerts.CheckRates(cmp)
		for _, r := range cmp.Rates {
			samples = append(samples, storage.RateSample{
				Asset:              cmp.Asset,
				Protocol:           r.Protocol,
				SupplyRate:         r.SupplyRate,
				BorrowRate:         r.BorrowRate,
				Utilization:        r.Utilization,
				AvailableLiquidity: r.AvailableLiquidity,
				SampledAt:          cmp.Timestamp,
			})
		}
	}
	if s.sink == nil || len(samples) == 0 {
		return
	}
	if err := s.sink.SaveRateSamples(ctx, samples); err != nil {
		s.logger.Error("Failed to store rate samples", zap.Int("samples", len(samples)), zap.Error(err))
	}
}

func (s *Service) pollHealth(ctx context.Context, user common.Address) {
	h, err := s.source.GetAccountHealth(ctx, user)
	if err != nil {
		s.logger.Warn("Health poll failed", zap.String("user", user.Hex()), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.health[user] = h
	s.mu.Unlock()

	s.logger.Debug("Account health",
		zap.String("user", user.Hex()),
		zap.String("health_factor", fixedpoint.FormatHealthFactor(h.HealthFactor)),
		zap.String("risk", string(h.Risk)))
	s.alerts.CheckHealth(h)
}

// LastHealth returns the latest polled health of user.
func (s *Service) LastHealth(user common.Address) (*manager.AccountHealth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.health[user]
	return h, ok
}

// LastPoll returns when the last round finished.
func (s *Service) LastPoll() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPoll
}
