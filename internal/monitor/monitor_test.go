package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/defi-lending/internal/fixedpoint"
	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/manager"
	"github.com/rovshanmuradov/defi-lending/internal/risk"
	"github.com/rovshanmuradov/defi-lending/internal/storage"
)

var bob = common.HexToAddress("0x0000000000000000000000000000000000000b0b")

func healthWith(risks map[lending.ProtocolID]string) *manager.AccountHealth {
	h := &manager.AccountHealth{User: bob, Failures: map[lending.ProtocolID]error{}}
	for id, hf := range risks {
		v := fixedpoint.MustWad(hf)
		h.Protocols = append(h.Protocols, manager.ProtocolHealth{
			Protocol:     id,
			HealthFactor: v,
			Risk:         risk.CalculateLiquidationRisk(v),
		})
	}
	return h
}

func TestCheckHealthRaisesAtMinRisk(t *testing.T) {
	am := NewAlertManager(DefaultAlertConfig(), zaptest.NewLogger(t))

	alerts := am.CheckHealth(healthWith(map[lending.ProtocolID]string{
		lending.ProtocolAaveV3:   "0.95",
		lending.ProtocolCompound: "1.2",
	}))
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTypeLiquidationRisk, alerts[0].Type)
	assert.Equal(t, lending.ProtocolAaveV3, alerts[0].Protocol)
	assert.Equal(t, "critical", alerts[0].Severity)
	assert.Equal(t, bob.Hex(), alerts[0].User)
	assert.Contains(t, alerts[0].Message, "0.9500")
}

func TestCheckHealthCooldown(t *testing.T) {
	config := DefaultAlertConfig()
	config.CooldownDuration = time.Minute
	am := NewAlertManager(config, zaptest.NewLogger(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	am.now = func() time.Time { return now }

	h := healthWith(map[lending.ProtocolID]string{lending.ProtocolAaveV3: "1.05"})
	assert.Len(t, am.CheckHealth(h), 1)
	assert.Empty(t, am.CheckHealth(h))

	now = now.Add(2 * time.Minute)
	assert.Len(t, am.CheckHealth(h), 1)

	am.ClearHistory()
	assert.Len(t, am.CheckHealth(h), 1)
	assert.Len(t, am.GetRecentAlerts(0), 3)
	assert.Len(t, am.GetRecentAlerts(2), 2)
	assert.Len(t, am.GetAlertsByUser(bob.Hex()), 3)
}

func TestCheckHealthReportsIncomplete(t *testing.T) {
	am := NewAlertManager(DefaultAlertConfig(), zaptest.NewLogger(t))
	h := healthWith(nil)
	h.Failures[lending.ProtocolCompound] = errors.New("down")

	alerts := am.CheckHealth(h)
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertTypeIncomplete, alerts[0].Type)
	assert.Equal(t, "info", alerts[0].Severity)
}

func TestCheckRatesUtilization(t *testing.T) {
	am := NewAlertManager(DefaultAlertConfig(), zaptest.NewLogger(t))
	cmp := &manager.ProtocolComparison{
		Asset: "USDC",
		Rates: []manager.ProtocolRate{
			{Protocol: lending.ProtocolAaveV3, Utilization: fixedpoint.MustWad("0.97")},
			{Protocol: lending.ProtocolCompound, Utilization: fixedpoint.MustWad("0.5")},
		},
	}

	alerts := am.CheckRates(cmp)
	require.Len(t, alerts, 1)
	assert.Equal(t, "97.0%", alerts[0].Value)
	assert.Equal(t, "USDC", alerts[0].Asset)
}

func TestAlertHandlersCalled(t *testing.T) {
	am := NewAlertManager(DefaultAlertConfig(), zaptest.NewLogger(t))
	var count int32
	var wg sync.WaitGroup
	wg.Add(1)
	am.AddHandler(func(Alert) {
		atomic.AddInt32(&count, 1)
		wg.Done()
	})

	am.CheckHealth(healthWith(map[lending.ProtocolID]string{lending.ProtocolAaveV3: "0.5"}))
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

type fakeSource struct {
	rates     *manager.AllRates
	ratesErr  error
	health    *manager.AccountHealth
	healthErr error
}

func (f *fakeSource) GetAllRates(context.Context, ...string) (*manager.AllRates, error) {
	return f.rates, f.ratesErr
}

func (f *fakeSource) GetAccountHealth(_ context.Context, user common.Address) (*manager.AccountHealth, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	h := *f.health
	h.User = user
	return &h, nil
}

type memSink struct {
	mu      sync.Mutex
	samples []storage.RateSample
}

func (m *memSink) SaveRateSamples(_ context.Context, samples []storage.RateSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, samples...)
	return nil
}

func TestPollStoresSamplesAndChecksHealth(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	source := &fakeSource{
		rates: &manager.AllRates{
			Assets: map[string]*manager.ProtocolComparison{
				"USDC": {
					Asset:     "USDC",
					Timestamp: ts,
					Rates: []manager.ProtocolRate{
						{Protocol: lending.ProtocolAaveV3, SupplyRate: big.NewInt(3), BorrowRate: big.NewInt(5)},
						{Protocol: lending.ProtocolCompound, SupplyRate: big.NewInt(4), BorrowRate: big.NewInt(6)},
					},
				},
			},
			Failures: map[string]error{"WETH": errors.New("down")},
		},
		health: healthWith(map[lending.ProtocolID]string{lending.ProtocolAaveV3: "1.05"}),
	}
	sink := &memSink{}
	s := NewService(source, sink, Config{Users: []common.Address{bob}, Alerts: DefaultAlertConfig()}, zaptest.NewLogger(t))

	s.Poll(context.Background())

	require.Len(t, sink.samples, 2)
	assert.Equal(t, "USDC", sink.samples[0].Asset)
	assert.True(t, ts.Equal(sink.samples[0].SampledAt))

	h, ok := s.LastHealth(bob)
	require.True(t, ok)
	assert.Equal(t, bob, h.User)
	assert.Len(t, s.Alerts().GetRecentAlerts(0), 1)
	assert.False(t, s.LastPoll().IsZero())
}

func TestPollToleratesFailures(t *testing.T) {
	source := &fakeSource{ratesErr: errors.New("down"), healthErr: errors.New("down")}
	s := NewService(source, nil, Config{Users: []common.Address{bob}}, zaptest.NewLogger(t))

	s.Poll(context.Background())
	_, ok := s.LastHealth(bob)
	assert.False(t, ok)
	assert.Empty(t, s.Alerts().GetRecentAlerts(0))
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &fakeSource{rates: &manager.AllRates{}, health: healthWith(nil)}
	s := NewService(source, nil, Config{Interval: 10 * time.Millisecond}, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, s.Run(ctx))
}
