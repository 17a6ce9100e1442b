// cmd/lendctl/main.go
// lendctl: консольный клиент, читает ставки, позиции и здоровье аккаунта
// напрямую из протоколов и отправляет операции от ключа из конфигурации.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rovshanmuradov/defi-lending/internal/api"
	"github.com/rovshanmuradov/defi-lending/internal/app"
	"github.com/rovshanmuradov/defi-lending/internal/blockchain/evm"
	"github.com/rovshanmuradov/defi-lending/internal/config"
	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/ui/style"
)

const usage = `usage: lendctl [flags] <command> [args]

commands:
  assets                          list supported assets
  rates [ASSET...]                compare rates (all assets by default)
  positions USER                  list positions across protocols
  health USER                     aggregated account health
  capacity USER [-protocol P] [-asset A] [-target 1.5]
  supply|withdraw|borrow|repay -asset A -amount N|max [-protocol auto] [-rate-mode variable]

flags:
`

func main() {
	global := flag.NewFlagSet("lendctl", flag.ExitOnError)
	configPath := global.String("config", "configs/config.yaml", "path to the config file")
	output := global.String("o", "table", "output format: table, json or yaml")
	verbose := global.Bool("v", false, "log adapter calls to stderr")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	_ = global.Parse(os.Args[1:])
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *output, *verbose, global.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, style.Error("error: "+err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, output string, verbose bool, args []string, w io.Writer) error {
	format, err := parseFormat(output)
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	client, err := evm.Dial(ctx, cfg.RPCURL, cfg.EVMOptions(), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	adapters, err := app.BuildAdapters(client, cfg, logger)
	if err != nil {
		return err
	}
	opts, err := cfg.ManagerOptions()
	if err != nil {
		return err
	}
	m, err := manager.New(adapters, opts, logger)
	if err != nil {
		return err
	}

	cmd := &command{manager: m, cfg: cfg, out: newPrinter(w, format)}
	return cmd.dispatch(ctx, args[0], args[1:])
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

type command struct {
	manager *manager.Manager
	cfg     *config.Config
	out     *printer
}

func (c *command) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "assets":
		return c.out.assets(c.manager.SupportedAssets())
	case "rates":
		return c.rates(ctx, args)
	case "positions":
		user, err := userArg(args)
		if err != nil {
			return err
		}
		report, err := c.manager.GetUserPositions(ctx, user)
		if err != nil {
			return err
		}
		return c.out.positions(api.NewPositionsView(report))
	case "health":
		user, err := userArg(args)
		if err != nil {
			return err
		}
		health, err := c.manager.GetAccountHealth(ctx, user)
		if err != nil {
			return err
		}
		return c.out.health(api.NewAccountHealthView(health))
	case "capacity":
		return c.capacity(ctx, args)
	case "supply", "withdraw", "borrow", "repay":
		return c.operation(ctx, lending.Operation(name), args)
	default:
		return fmt.Errorf("unknown command %q", name)
	}
}

func (c *command) rates(ctx context.Context, assets []string) error {
	if len(assets) == 1 {
		cmp, err := c.manager.GetCurrentRates(ctx, assets[0])
		if err != nil {
			return err
		}
		return c.out.rates([]api.ComparisonView{api.NewComparisonView(cmp)}, nil)
	}
	all, err := c.manager.GetAllRates(ctx, assets...)
	if err != nil {
		return err
	}
	view := api.NewAllRatesView(all)
	list := make([]api.ComparisonView, 0, len(view.Assets))
	for _, asset := range sortedKeys(view.Assets) {
		list = append(list, view.Assets[asset])
	}
	return c.out.rates(list, view.Failures)
}

func (c *command) capacity(ctx context.Context, args []string) error {
	user, err := userArg(args)
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("capacity", flag.ContinueOnError)
	protocol := fs.String("protocol", string(lending.ProtocolAuto), "protocol id")
	asset := fs.String("asset", "", "asset to express the capacity in")
	target := fs.String("target", "1.5", "target health factor")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	targetHF, err := fixedpoint.ParseWad(*target)
	if err != nil {
		return err
	}
	capacity, err := c.manager.OptimalBorrow(ctx, user, lending.ProtocolID(*protocol), *asset, targetHF)
	if err != nil {
		return err
	}
	return c.out.capacity(api.NewBorrowCapacityView(capacity))
}

func (c *command) operation(ctx context.Context, op lending.Operation, args []string) error {
	fs := flag.NewFlagSet(string(op), flag.ContinueOnError)
	protocol := fs.String("protocol", string(lending.ProtocolAuto), "protocol id or auto")
	asset := fs.String("asset", "", "asset symbol or address")
	amount := fs.String("amount", "", "amount in native units or max")
	rateMode := fs.String("rate-mode", "variable", "variable or stable (pool-style protocols)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if c.cfg.PrivateKey == "" {
		return errors.New("private_key (or LENDING_PRIVATE_KEY) is required for writes")
	}
	signer, err := evm.NewKeySigner(c.cfg.PrivateKey)
	if err != nil {
		return err
	}
	parsed, err := lending.ParseAmount(*amount)
	if err != nil {
		return err
	}
	mode := lending.RateModeVariable
	if strings.EqualFold(*rateMode, "stable") {
		mode = lending.RateModeStable
	}

	params := lending.OperationParams{
		Protocol: lending.ProtocolID(*protocol),
		Asset:    *asset,
		Amount:   parsed,
		User:     signer.Address(),
		RateMode: mode,
		Signer:   signer,
	}
	var tx *lending.Transaction
	switch op {
	case lending.OperationSupply:
		tx, err = c.manager.Supply(ctx, params)
	case lending.OperationWithdraw:
		tx, err = c.manager.Withdraw(ctx, params)
	case lending.OperationBorrow:
		tx, err = c.manager.Borrow(ctx, params)
	default:
		tx, err = c.manager.Repay(ctx, params)
	}
	if err != nil {
		return err
	}
	return c.out.transaction(api.NewTransactionView(tx))
}

func userArg(args []string) (common.Address, error) {
	if len(args) == 0 || !common.IsHexAddress(args[0]) {
		return common.Address{}, errors.New("a user address is required")
	}
	return common.HexToAddress(args[0]), nil
}
