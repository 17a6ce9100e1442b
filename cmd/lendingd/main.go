// cmd/lendingd/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/app"
	"github.com/rovshanmuradov/defi-lending/internal/config"
	"github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if err := log.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", err)
		}
	}()

	log.Info("Starting lending service",
		zap.String("config", *configPath),
		zap.Int("protocols", len(cfg.EnabledProtocols())))

	if err := app.NewRunner(cfg, log).Run(context.Background()); err != nil {
		_ = log.Close()
		os.Exit(1)
	}
}
