// internal/app/app.go
// Package app собирает сервис из конфигурации: узел, адаптеры, менеджер,
// журнал, монитор и HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/defi-lending/internal/api"
	"github.com/rovshanmuradov/defi-lending/internal/blockchain"
	"github.com/rovshanmuradov/defi-lending/internal/blockchain/evm"
	"github.com/rovshanmuradov/defi-lending/internal/config"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/lending/aave"
	"github.com/rovshanmuradov/defi-lending/internal/lending/compound"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/monitor"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
	"github.com/rovshanmuradov/defi-lending/internal/utils/metrics"
)

// App is the assembled service.
type App struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	manager  *manager.Manager
	store    storage.Storage
	monitor  *monitor.Service
	server   *http.Server
	shutdown *ShutdownHandler
}

// New собирает сервис. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *App, err error) {
	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		shutdown: NewShutdownHandler(logger, cfg.HTTP.ShutdownTimeout),
	}
	defer func() {
		if err != nil {
			_ = a.shutdown.Shutdown(context.Background())
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector, err := metrics.NewCollector(a.registry)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}

	evmOpts := cfg.EVMOptions()
	evmOpts.LatencyRecorder = collector
	client, err := evm.Dial(ctx, cfg.RPCURL, evmOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	a.shutdown.Add("evm_client", client)

	adapters, err := BuildAdapters(client, cfg, logger)
	if err != nil {
		return nil, err
	}

	options := []manager.Option{manager.WithMetrics(collector)}
	if cfg.Storage.Driver != "" {
		a.store, err = storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		a.shutdown.Add("storage", a.store)
		if err = a.store.RunMigrations(); err != nil {
			return nil, fmt.Errorf("migrate storage: %w", err)
		}
		options = append(options, manager.WithJournal(a.store))
	}

	mopts, err := cfg.ManagerOptions()
	if err != nil {
		return nil, err
	}
	a.manager, err = manager.New(adapters, mopts, logger, options...)
	if err != nil {
		return nil, err
	}

	deps := api.Deps{
		Service:  a.manager,
		Gatherer: a.registry,
		Logger:   logger,
	}
	if a.store != nil {
		deps.History = a.store
	}
	if cfg.PrivateKey != "" {
		signer, err := evm.NewKeySigner(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("load signer: %w", err)
		}
		deps.Signer = signer
		logger.Info("Writes enabled", zap.String("signer", signer.Address().Hex()))
	} else {
		logger.Warn("No private key configured, write endpoints are disabled")
	}

	if cfg.Monitor.Enabled {
		var sink monitor.RateSink
		if a.store != nil {
			sink = a.store
		}
		a.monitor = monitor.NewService(a.manager, sink, cfg.MonitorConfig(), logger)
		deps.Alerts = a.monitor.Alerts()
	}

	a.server = &http.Server{
		Addr:         cfg.HTTP.Listen,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	// сервер закрывается первым (LIFO)
	a.shutdown.AddFunc("http_server", func() error {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(sctx)
	})

	logger.Info("Service assembled",
		zap.Int("protocols", len(adapters)),
		zap.Strings("assets", a.manager.SupportedAssets()),
		zap.Bool("journal", a.store != nil),
		zap.Bool("monitor", a.monitor != nil))
	return a, nil
}

// BuildAdapters creates an adapter per enabled protocol section.
func BuildAdapters(client blockchain.Client, cfg *config.Config, logger *zap.Logger) ([]lending.Adapter, error) {
	var adapters []lending.Adapter
	for _, p := range cfg.EnabledProtocols() {
		descriptors, err := p.Descriptors()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		registry, err := lending.NewAssetRegistry(descriptors)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		pc := p.Lending(cfg.ChainID)

		var adapter lending.Adapter
		switch pc.ID {
		case lending.ProtocolAaveV3:
			adapter, err = aave.New(client, pc, registry, aave.Options{
				BaseCurrencyDecimals: p.BaseCurrencyDecimals,
				ReferralCode:         p.ReferralCode,
				RepayBufferBps:       cfg.RepayBufferBps,
			}, logger)
		case lending.ProtocolCompound:
			adapter, err = compound.New(client, pc, registry, compound.Options{
				BlocksPerYear:  p.BlocksPerYear,
				MarketCacheTTL: p.MarketCacheTTL,
				RepayBufferBps: cfg.RepayBufferBps,
			}, logger)
		default:
			err = fmt.Errorf("no adapter for protocol %q", pc.ID)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p.ID, err)
		}
		logger.Info("Protocol adapter ready",
			zap.String("protocol", string(pc.ID)),
			zap.Strings("assets", registry.Symbols()))
		adapters = append(adapters, adapter)
	}
	if len(adapters) == 0 {
		return nil, errors.New("no protocols enabled")
	}
	return adapters, nil
}

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler }

// Manager returns the lending manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// Run serves HTTP and the monitor until ctx is cancelled, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.monitor != nil {
		g.Go(func() error { return a.monitor.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown closes the server, storage and RPC connection. Safe to call twice.
func (a *App) Shutdown(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx)
}
