// internal/app/runner.go
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/config"
	"github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

// Runner запускает сервис до сигнала завершения.
type Runner struct {
	logger     *logger.Logger
	config     *config.Config
	shutdownCh chan os.Signal
}

// NewRunner принимает cfg и logger.
func NewRunner(cfg *config.Config, log *logger.Logger) *Runner {
	return &Runner{
		logger:     log,
		config:     cfg,
		shutdownCh: make(chan os.Signal, 1),
	}
}

// Run blocks until SIGINT/SIGTERM or ctx cancellation.
func (r *Runner) Run(ctx context.Context) error {
	signal.Notify(r.shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(r.shutdownCh)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := r.logger.WithComponent("runner")
	go func() {
		select {
		case sig := <-r.shutdownCh:
			log.Info("Signal received", zap.String("signal", sig.String()))
			cancel()
		case <-runCtx.Done():
		}
	}()

	a, err := New(runCtx, r.config, r.logger.Logger)
	if err != nil {
		r.logger.LogError("Failed to assemble service", err)
		return err
	}
	if err := a.Run(runCtx); err != nil {
		r.logger.LogError("Service stopped with error", err)
		return err
	}
	log.Info("Service stopped")
	return nil
}
