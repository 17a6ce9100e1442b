// internal/manager/manager.go
// Package manager агрегирует адаптеры протоколов: сравнение ставок, выбор
// протокола, позиции и здоровье аккаунта поверх всех протоколов.
//
// Writes are not serialised here. Two concurrent borrows against the same
// user+asset+protocol can both pass a stale precondition check; callers must
// serialise writes per user+asset+protocol.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
	"github.com/rovshanmuradov/defi-lending/internal/risk"
)

const (
	DefaultCallTimeout  = 10 * time.Second
	DefaultWriteTimeout = 3 * time.Minute
)

// Journal хранит подтверждённые операции и происхождение позиций.
type Journal interface {
	Record(ctx context.Context, tx lending.Transaction) error
	// LastProtocol returns the protocol of the latest supply (side supply) or
	// borrow (side borrow) of asset by user, "" when unknown.
	LastProtocol(ctx context.Context, user common.Address, asset string, side lending.PositionSide) (lending.ProtocolID, error)
}

// Metrics принимает метрики менеджера.
type Metrics interface {
	RecordAdapterCall(protocol, method string, duration time.Duration, err error)
	RecordTransaction(protocol, operation string, err error)
	RecordPartialFailure(operation, protocol string)
}

// Options настраивает менеджер.
type Options struct {
	CallTimeout  time.Duration // per adapter read
	WriteTimeout time.Duration // per adapter write, including confirmation
	RateCacheTTL time.Duration // 0 disables the rate cache
	Weights      risk.Weights
}

// DefaultOptions возвращает значения по умолчанию.
func DefaultOptions() Options {
	return Options{
		CallTimeout:  DefaultCallTimeout,
		WriteTimeout: DefaultWriteTimeout,
		Weights:      risk.DefaultWeights(),
	}
}

// Option configures optional collaborators.
type Option func(*Manager)

// WithJournal enables transaction journaling and provenance lookups.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithMetrics enables metrics.
func WithMetrics(mt Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager — агрегатор протоколов кредитования.
type Manager struct {
	adapters map[lending.ProtocolID]lending.Adapter
	order    []lending.ProtocolID
	opts     Options
	journal  Journal
	metrics  Metrics
	logger   *zap.Logger
	now      func() time.Time
	rates    *rateCache
}

// New создает менеджер. Каждый протокол может быть зарегистрирован один раз.
func New(adapters []lending.Adapter, opts Options, logger *zap.Logger, options ...Option) (*Manager, error) {
	if len(adapters) == 0 {
		return nil, errors.New("at least one adapter is required")
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.Weights.HealthFactor == nil {
		opts.Weights = risk.DefaultWeights()
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, fmt.Errorf("invalid health score weights: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Manager{
		adapters: make(map[lending.ProtocolID]lending.Adapter, len(adapters)),
		opts:     opts,
		logger:   logger.Named("manager"),
		now:      time.Now,
	}
	for _, a := range adapters {
		id := a.Protocol()
		if _, dup := m.adapters[id]; dup {
			return nil, fmt.Errorf("protocol %s registered twice", id)
		}
		m.adapters[id] = a
		m.order = append(m.order, id)
	}
	for _, o := range options {
		o(m)
	}
	m.rates = newRateCache(opts.RateCacheTTL, m.now)
	return m, nil
}

// Protocols returns the registered protocols in registration order.
func (m *Manager) Protocols() []lending.ProtocolID {
	out := make([]lending.ProtocolID, len(m.order))
	copy(out, m.order)
	return out
}

// Adapter returns the adapter of protocol.
func (m *Manager) Adapter(id lending.ProtocolID) (lending.Adapter, bool) {
	a, ok := m.adapters[id]
	return a, ok
}

func (m *Manager) requireAdapter(id lending.ProtocolID) (lending.Adapter, error) {
	a, ok := m.adapters[id]
	if !ok {
		return nil, lending.Errorf(id, lending.KindProtocolRejection, "protocol %q is not configured", id)
	}
	return a, nil
}

// supports reports whether the adapter lists asset; returns the descriptor.
func supports(a lending.Adapter, asset string) (lending.AssetDescriptor, bool) {
	key := lending.NormalizeSymbol(asset)
	for _, d := range a.GetSupportedAssets() {
		if lending.NormalizeSymbol(d.Symbol) == key || (common.IsHexAddress(asset) && d.Address == common.HexToAddress(asset)) {
			return d, true
		}
	}
	return lending.AssetDescriptor{}, false
}

// adaptersFor returns adapters supporting asset in registration order.
func (m *Manager) adaptersFor(asset string) []lending.Adapter {
	var out []lending.Adapter
	for _, id := range m.order {
		if _, ok := supports(m.adapters[id], asset); ok {
			out = append(out, m.adapters[id])
		}
	}
	return out
}

// call runs one adapter call with its own deadline. Deadline expiry always
// surfaces as NetworkError.
func call[T any](ctx context.Context, m *Manager, protocol lending.ProtocolID, method string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	v, err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !lending.IsKind(err, lending.KindNetworkError) {
		err = &lending.Error{
			Kind:     lending.KindNetworkError,
			Protocol: protocol,
			Message:  fmt.Sprintf("%s timed out after %s", method, timeout),
			Err:      err,
		}
	}
	if m.metrics != nil {
		m.metrics.RecordAdapterCall(string(protocol), method, time.Since(start), err)
	}
	if err != nil {
		m.logger.Debug("Adapter call failed",
			zap.String("protocol", string(protocol)),
			zap.String("method", method),
			zap.Error(err))
	}
	return v, err
}

func (m *Manager) partialFailure(operation string, protocol lending.ProtocolID, err error) {
	m.logger.Warn("Protocol omitted from aggregate",
		zap.String("operation", operation),
		zap.String("protocol", string(protocol)),
		zap.Error(err))
	if m.metrics != nil {
		m.metrics.RecordPartialFailure(operation, string(protocol))
	}
}
