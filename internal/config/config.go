// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

const envPrefix = "LENDING"

type Config struct {
	RPCURL     string `mapstructure:"rpc_url"`
	PrivateKey string `mapstructure:"private_key"`
	ChainID    uint64 `mapstructure:"chain_id"`

	HTTP    HTTPConfig    `mapstructure:"http"`
	RPC     RPCConfig     `mapstructure:"rpc"`
	Manager ManagerConfig `mapstructure:"manager"`
	Storage StorageConfig `mapstructure:"storage"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Log     logger.Config `mapstructure:"log"`

	RepayBufferBps int64            `mapstructure:"repay_buffer_bps"`
	Protocols      []ProtocolConfig `mapstructure:"protocols"`
}

type HTTPConfig struct {
	Listen          string        `mapstructure:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RPCConfig struct {
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	MaxReadAttempts uint          `mapstructure:"max_read_attempts"`
	RequestsPerSec  float64       `mapstructure:"requests_per_sec"`
	ConfirmPoll     time.Duration `mapstructure:"confirm_poll"`
	GasBufferBps    int64         `mapstructure:"gas_buffer_bps"`
}

type ManagerConfig struct {
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateCacheTTL time.Duration `mapstructure:"rate_cache_ttl"`
	Weights      WeightsConfig `mapstructure:"weights"`
}

// WeightsConfig holds health score weights as decimal strings ("0.5").
type WeightsConfig struct {
	HealthFactor    string `mapstructure:"health_factor"`
	Utilization     string `mapstructure:"utilization"`
	Diversification string `mapstructure:"diversification"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres, пусто = без журнала
	DSN    string `mapstructure:"dsn"`
}

type MonitorConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	Interval             time.Duration `mapstructure:"interval"`
	Users                []string      `mapstructure:"users"`
	Assets               []string      `mapstructure:"assets"`
	MinRisk              string        `mapstructure:"min_risk"`
	UtilizationThreshold string        `mapstructure:"utilization_threshold"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
}

// ProtocolConfig — развёртывание протокола и его активы.
type ProtocolConfig struct {
	ID        string            `mapstructure:"id"`
	Enabled   bool              `mapstructure:"enabled"`
	Name      string            `mapstructure:"name"`
	Version   string            `mapstructure:"version"`
	Contracts map[string]string `mapstructure:"contracts"`
	Assets    []AssetConfig     `mapstructure:"assets"`

	// pool-style
	BaseCurrencyDecimals uint8  `mapstructure:"base_currency_decimals"`
	ReferralCode         uint16 `mapstructure:"referral_code"`

	// exchange-rate markets
	BlocksPerYear  uint64        `mapstructure:"blocks_per_year"`
	MarketCacheTTL time.Duration `mapstructure:"market_cache_ttl"`
}

type AssetConfig struct {
	Symbol            string `mapstructure:"symbol"`
	Address           string `mapstructure:"address"`
	Decimals          uint8  `mapstructure:"decimals"`
	ReceiptToken      string `mapstructure:"receipt_token"`
	VariableDebtToken string `mapstructure:"variable_debt_token"`
	StableDebtToken   string `mapstructure:"stable_debt_token"`
	Oracle            string `mapstructure:"oracle"`
	LiquidationFactor string `mapstructure:"liquidation_factor"`
}

const (
	DefaultListen          = ":8080"
	DefaultRepayBufferBps  = 1
	DefaultMonitorInterval = time.Minute
)

// обязательные роли контрактов по протоколу
var requiredContracts = map[lending.ProtocolID][]string{
	lending.ProtocolAaveV3:   {"pool", "data_provider", "oracle"},
	lending.ProtocolCompound: {"comptroller", "oracle"},
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"http.listen":                     DefaultListen,
		"http.read_timeout":               "15s",
		"http.write_timeout":              "5m",
		"http.shutdown_timeout":           "30s",
		"rpc.request_timeout":             "10s",
		"rpc.max_read_attempts":           3,
		"rpc.requests_per_sec":            20,
		"rpc.confirm_poll":                "2s",
		"rpc.gas_buffer_bps":              2000,
		"manager.call_timeout":            "10s",
		"manager.write_timeout":           "3m",
		"manager.rate_cache_ttl":          "0s",
		"manager.weights.health_factor":   "0.5",
		"manager.weights.utilization":     "0.3",
		"manager.weights.diversification": "0.2",
		"monitor.interval":                DefaultMonitorInterval.String(),
		"monitor.min_risk":                string(lending.RiskHigh),
		"monitor.utilization_threshold":   "0.95",
		"monitor.cooldown":                "15m",
		"log.file":                        "lending.log",
		"log.max_size":                    100,
		"log.max_age":                     7,
		"log.max_backups":                 3,
		"log.compress":                    true,
		"repay_buffer_bps":                DefaultRepayBufferBps,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if cfg.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	if err := validateURLWithCache(cfg.RPCURL, "http"); err != nil {
		if err := validateURLWithCache(cfg.RPCURL, "ws"); err != nil {
			return errors.New("invalid rpc_url protocol")
		}
	}
	if err := validateNumericParams(cfg); err != nil {
		return err
	}
	if _, err := cfg.Weights(); err != nil {
		return err
	}
	switch cfg.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}
	if cfg.Storage.Driver != "" && cfg.Storage.DSN == "" {
		return errors.New("storage.dsn is required when storage.driver is set")
	}
	if err := validateMonitor(&cfg.Monitor); err != nil {
		return err
	}
	return validateProtocols(cfg.Protocols)
}

func validateNumericParams(cfg *Config) error {
	if cfg.RepayBufferBps < 0 || cfg.RepayBufferBps > 10_000 {
		return errors.New("invalid repay_buffer_bps")
	}
	if cfg.RPC.RequestTimeout <= 0 {
		return errors.New("invalid rpc.request_timeout")
	}
	if cfg.RPC.RequestsPerSec < 0 {
		return errors.New("invalid rpc.requests_per_sec")
	}
	if cfg.RPC.GasBufferBps < 0 {
		return errors.New("invalid rpc.gas_buffer_bps")
	}
	if cfg.Manager.CallTimeout <= 0 || cfg.Manager.WriteTimeout <= 0 {
		return errors.New("invalid manager timeouts")
	}
	if cfg.Manager.RateCacheTTL < 0 {
		return errors.New("invalid manager.rate_cache_ttl")
	}
	return nil
}

func validateMonitor(m *MonitorConfig) error {
	if !m.Enabled {
		return nil
	}
	if m.Interval <= 0 {
		return errors.New("invalid monitor.interval")
	}
	switch lending.RiskLevel(m.MinRisk) {
	case lending.RiskLow, lending.RiskMedium, lending.RiskHigh, lending.RiskCritical:
	default:
		return fmt.Errorf("invalid monitor.min_risk %q", m.MinRisk)
	}
	for _, u := range m.Users {
		if !common.IsHexAddress(u) {
			return fmt.Errorf("invalid monitor user address %q", u)
		}
	}
	if m.UtilizationThreshold != "" {
		if _, err := parseWad(m.UtilizationThreshold); err != nil {
			return fmt.Errorf("invalid monitor.utilization_threshold: %w", err)
		}
	}
	return nil
}

func validateProtocols(protocols []ProtocolConfig) error {
	enabled := 0
	seen := make(map[string]bool)
	for _, p := range protocols {
		if !p.Enabled {
			continue
		}
		enabled++
		id := lending.ProtocolID(p.ID)
		if !id.IsKnown() {
			return fmt.Errorf("unknown protocol %q", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("protocol %s configured twice", p.ID)
		}
		seen[p.ID] = true

		for _, role := range requiredContracts[id] {
			addr, ok := p.Contracts[role]
			if !ok || !isAddress(addr) {
				return fmt.Errorf("%s: contract %s is missing or invalid", p.ID, role)
			}
		}
		if len(p.Assets) == 0 {
			return fmt.Errorf("%s: no assets configured", p.ID)
		}
		if _, err := p.Descriptors(); err != nil {
			return fmt.Errorf("%s: %w", p.ID, err)
		}
	}
	if enabled == 0 {
		return errors.New("no protocols enabled")
	}
	return nil
}

var urlCache sync.Map

func validateURLWithCache(rawURL string, protocol string) error {
	if cached, ok := urlCache.Load(rawURL); ok {
		if strings.HasPrefix(cached.(*url.URL).Scheme, protocol) {
			return nil
		}
		return errors.New("invalid URL protocol")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	urlCache.Store(rawURL, parsed)
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

// loadEnvironmentVariables: секреты и адреса узлов можно задать через
// LENDING_RPC_URL, LENDING_PRIVATE_KEY, LENDING_STORAGE_DSN.
func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if env := v.GetString("RPC_URL"); env != "" {
		cfg.RPCURL = strings.TrimSpace(env)
	}
	if env := v.GetString("PRIVATE_KEY"); env != "" {
		cfg.PrivateKey = strings.TrimSpace(env)
	}
	if env := v.GetString("STORAGE_DSN"); env != "" {
		cfg.Storage.DSN = strings.TrimSpace(env)
	}
	if env := v.GetString("MONITOR_USERS"); env != "" {
		var users []string
		for _, u := range strings.Split(env, ",") {
			if clean := strings.TrimSpace(u); clean != "" {
				users = append(users, clean)
			}
		}
		cfg.Monitor.Users = users
	}
	return nil
}

func isAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}

func parseWad(s string) (*big.Int, error) {
	return fixedpoint.ParseWad(strings.TrimSpace(s))
}
