// internal/config/convert.go
package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain/evm"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/monitor"
	"github.com/rovshanmuradov/defi-lending/internal/risk"
)

// Weights parses health score weights.
func (c *Config) Weights() (risk.Weights, error) {
	hf, err := parseWad(c.Manager.Weights.HealthFactor)
	if err != nil {
		return risk.Weights{}, fmt.Errorf("invalid weights.health_factor: %w", err)
	}
	util, err := parseWad(c.Manager.Weights.Utilization)
	if err != nil {
		return risk.Weights{}, fmt.Errorf("invalid weights.utilization: %w", err)
	}
	div, err := parseWad(c.Manager.Weights.Diversification)
	if err != nil {
		return risk.Weights{}, fmt.Errorf("invalid weights.diversification: %w", err)
	}
	w := risk.Weights{HealthFactor: hf, Utilization: util, Diversification: div}
	if err := w.Validate(); err != nil {
		return risk.Weights{}, err
	}
	return w, nil
}

// ManagerOptions builds manager options.
func (c *Config) ManagerOptions() (manager.Options, error) {
	w, err := c.Weights()
	if err != nil {
		return manager.Options{}, err
	}
	return manager.Options{
		CallTimeout:  c.Manager.CallTimeout,
		WriteTimeout: c.Manager.WriteTimeout,
		RateCacheTTL: c.Manager.RateCacheTTL,
		Weights:      w,
	}, nil
}

// EVMOptions builds chain client options.
func (c *Config) EVMOptions() evm.Options {
	opts := evm.Options{
		RequestTimeout:  c.RPC.RequestTimeout,
		MaxReadAttempts: c.RPC.MaxReadAttempts,
		RequestsPerSec:  c.RPC.RequestsPerSec,
		ConfirmPoll:     c.RPC.ConfirmPoll,
		GasBufferBps:    c.RPC.GasBufferBps,
	}
	if c.ChainID != 0 {
		opts.ChainID = new(big.Int).SetUint64(c.ChainID)
	}
	return opts
}

// AlertConfig builds monitor alert settings.
func (c *Config) AlertConfig() monitor.AlertConfig {
	cfg := monitor.AlertConfig{
		MinRisk:          lending.RiskLevel(c.Monitor.MinRisk),
		CooldownDuration: c.Monitor.Cooldown,
	}
	if c.Monitor.UtilizationThreshold != "" {
		cfg.UtilizationThreshold, _ = parseWad(c.Monitor.UtilizationThreshold)
	}
	return cfg
}

// MonitorConfig builds the monitor service settings.
func (c *Config) MonitorConfig() monitor.Config {
	users := make([]common.Address, 0, len(c.Monitor.Users))
	for _, u := range c.Monitor.Users {
		users = append(users, common.HexToAddress(u))
	}
	return monitor.Config{
		Interval: c.Monitor.Interval,
		Users:    users,
		Assets:   c.Monitor.Assets,
		Alerts:   c.AlertConfig(),
	}
}

// EnabledProtocols returns enabled protocol sections in config order.
func (c *Config) EnabledProtocols() []ProtocolConfig {
	var out []ProtocolConfig
	for _, p := range c.Protocols {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}

// Lending converts the section into the adapter's deployment description.
func (p ProtocolConfig) Lending(chainID uint64) lending.ProtocolConfig {
	contracts := make(map[string]common.Address, len(p.Contracts))
	for role, addr := range p.Contracts {
		contracts[strings.ToLower(role)] = common.HexToAddress(addr)
	}
	name := p.Name
	if name == "" {
		name = p.ID
	}
	return lending.ProtocolConfig{
		ID:        lending.ProtocolID(p.ID),
		Name:      name,
		Version:   p.Version,
		ChainID:   chainID,
		Contracts: contracts,
	}
}

// Descriptors validates and converts the asset list.
func (p ProtocolConfig) Descriptors() ([]lending.AssetDescriptor, error) {
	out := make([]lending.AssetDescriptor, 0, len(p.Assets))
	for _, a := range p.Assets {
		if strings.TrimSpace(a.Symbol) == "" {
			return nil, fmt.Errorf("asset without symbol")
		}
		if !isAddress(a.Address) {
			return nil, fmt.Errorf("asset %s: invalid address %q", a.Symbol, a.Address)
		}
		if a.Decimals > 77 {
			return nil, fmt.Errorf("asset %s: invalid decimals %d", a.Symbol, a.Decimals)
		}
		d := lending.AssetDescriptor{
			Symbol:   a.Symbol,
			Address:  common.HexToAddress(a.Address),
			Decimals: a.Decimals,
		}
		for _, opt := range []struct {
			name  string
			value string
			dst   *common.Address
		}{
			{"receipt_token", a.ReceiptToken, &d.ReceiptToken},
			{"variable_debt_token", a.VariableDebtToken, &d.VariableDebtToken},
			{"stable_debt_token", a.StableDebtToken, &d.StableDebtToken},
			{"oracle", a.Oracle, &d.Oracle},
		} {
			if opt.value == "" {
				continue
			}
			if !common.IsHexAddress(opt.value) {
				return nil, fmt.Errorf("asset %s: invalid %s %q", a.Symbol, opt.name, opt.value)
			}
			*opt.dst = common.HexToAddress(opt.value)
		}
		if lending.ProtocolID(p.ID) == lending.ProtocolCompound && d.ReceiptToken == (common.Address{}) {
			return nil, fmt.Errorf("asset %s: receipt_token (cToken) is required", a.Symbol)
		}
		if a.LiquidationFactor != "" {
			f, err := parseWad(a.LiquidationFactor)
			if err != nil || f.Sign() <= 0 {
				return nil, fmt.Errorf("asset %s: invalid liquidation_factor %q", a.Symbol, a.LiquidationFactor)
			}
			d.LiquidationFactor = f
		}
		out = append(out, d)
	}
	return out, nil
}
