package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/defi-lending/internal/blockchain/chaintest"
	"github.com/rovshanmuradov/defi-lending/internal/config"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/utils/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		RPCURL:  "http://127.0.0.1:1",
		ChainID: 1,
		HTTP: config.HTTPConfig{
			Listen:          "127.0.0.1:0",
			ReadTimeout:     time.Second,
			WriteTimeout:    time.Second,
			ShutdownTimeout: time.Second,
		},
		RPC: config.RPCConfig{RequestTimeout: time.Second, MaxReadAttempts: 1},
		Manager: config.ManagerConfig{
			CallTimeout:  time.Second,
			WriteTimeout: time.Second,
			Weights:      config.WeightsConfig{HealthFactor: "0.5", Utilization: "0.3", Diversification: "0.2"},
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			DSN:    filepath.Join(t.TempDir(), "lending.db"),
		},
		Monitor: config.MonitorConfig{
			Enabled:  true,
			Interval: time.Hour,
			MinRisk:  string(lending.RiskHigh),
			Cooldown: time.Minute,
		},
		RepayBufferBps: 1,
		Protocols: []config.ProtocolConfig{
			{
				ID:      "aave-v3",
				Enabled: true,
				Contracts: map[string]string{
					"pool":          "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2",
					"data_provider": "0x7B4EB56E7CD4b454BA8ff71E4518426369a138a3",
					"oracle":        "0x54586bE62E3c3580375aE3723C145253060Ca0C2",
				},
				Assets: []config.AssetConfig{
					{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
				},
			},
			{
				ID:      "compound-v2",
				Enabled: true,
				Contracts: map[string]string{
					"comptroller": "0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B",
					"oracle":      "0x50ce56A3239671Ab62f185704Caedf626352741e",
				},
				Assets: []config.AssetConfig{{
					Symbol:       "USDC",
					Address:      "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
					Decimals:     6,
					ReceiptToken: "0x39AA39c021dfbaE8faC545936693aC917d5E7563",
				}},
			},
			{ID: "compound-v2", Enabled: false},
		},
	}
}

func TestBuildAdapters(t *testing.T) {
	cfg := testConfig(t)
	adapters, err := BuildAdapters(chaintest.New(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, adapters, 2)
	assert.Equal(t, lending.ProtocolAaveV3, adapters[0].Protocol())
	assert.Equal(t, lending.ProtocolCompound, adapters[1].Protocol())
}

func TestBuildAdaptersErrors(t *testing.T) {
	cfg := testConfig(t)
	delete(cfg.Protocols[0].Contracts, "pool")
	_, err := BuildAdapters(chaintest.New(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)

	cfg = testConfig(t)
	for i := range cfg.Protocols {
		cfg.Protocols[i].Enabled = false
	}
	_, err = BuildAdapters(chaintest.New(), cfg, zaptest.NewLogger(t))
	assert.EqualError(t, err, "no protocols enabled")
}

func TestNewServesAPI(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// журнал подключён
	resp, err = http.Get(srv.URL + "/v1/transactions/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// подписанта нет
	resp, err = http.Post(srv.URL+"/v1/supply", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	assert.Equal(t, []string{"USDC"}, a.Manager().SupportedAssets())
}

func TestRunStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitor.Enabled = false
	a, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunnerReportsAssemblyError(t *testing.T) {
	cfg := testConfig(t)
	for i := range cfg.Protocols {
		cfg.Protocols[i].Enabled = false
	}
	log, err := logger.New(&logger.Config{})
	require.NoError(t, err)

	err = NewRunner(cfg, log).Run(context.Background())
	assert.EqualError(t, err, "no protocols enabled")
}

func TestShutdownOrderAndErrors(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string, err error) func() error {
		return func() error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	sh.AddFunc("storage", record("storage", nil))
	sh.AddFunc("client", record("client", errors.New("boom")))
	sh.AddFunc("http", record("http", nil))

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client: boom")
	assert.Equal(t, []string{"http", "client", "storage"}, order)

	// повторный вызов ничего не закрывает
	assert.NoError(t, sh.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownTimeout(t *testing.T) {
	sh := NewShutdownHandler(zaptest.NewLogger(t), 20*time.Millisecond)
	block := make(chan struct{})
	defer close(block)

	closed := false
	sh.AddFunc("fast", func() error { closed = true; return nil })
	sh.AddFunc("slow", func() error { <-block; return nil })

	err := sh.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow: shutdown timeout")
	assert.Contains(t, err.Error(), "fast: shutdown timeout")
	assert.False(t, closed)
}
