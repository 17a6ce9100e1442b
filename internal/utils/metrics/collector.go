// internal/utils/metrics/collector.go
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rovshanmuradov/defi-lending/internal/lending"
)

// Collector управляет набором метрик. Implements manager.Metrics and
// evm.LatencyRecorder.
type Collector struct {
	adapterCalls    *prometheus.CounterVec
	adapterLatency  *prometheus.HistogramVec
	transactions    *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	rpcLatency      *prometheus.HistogramVec
}

// NewCollector создает коллектор и регистрирует метрики в reg.
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		adapterCalls:    newAdapterCalls(),
		adapterLatency:  newAdapterLatency(),
		transactions:    newTransactions(),
		partialFailures: newPartialFailures(),
		rpcLatency:      newRPCLatency(),
	}
	for _, m := range []prometheus.Collector{c.adapterCalls, c.adapterLatency, c.transactions, c.partialFailures, c.rpcLatency} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Reset сбрасывает все метрики (полезно для тестирования)
func (c *Collector) Reset() {
	c.adapterCalls.Reset()
	c.adapterLatency.Reset()
	c.transactions.Reset()
	c.partialFailures.Reset()
	c.rpcLatency.Reset()
}

// RecordAdapterCall records one adapter call; status is "ok" or the error kind.
func (c *Collector) RecordAdapterCall(protocol, method string, duration time.Duration, err error) {
	c.adapterCalls.WithLabelValues(protocol, method, status(err)).Inc()
	c.adapterLatency.WithLabelValues(protocol, method).Observe(duration.Seconds())
}

// RecordTransaction records a write outcome.
func (c *Collector) RecordTransaction(protocol, operation string, err error) {
	c.transactions.WithLabelValues(protocol, operation, status(err)).Inc()
}

// RecordPartialFailure counts a protocol dropped from an aggregate.
func (c *Collector) RecordPartialFailure(operation, protocol string) {
	c.partialFailures.WithLabelValues(operation, protocol).Inc()
}

// RecordRPCLatency records chain RPC latency.
func (c *Collector) RecordRPCLatency(method, endpoint string, duration time.Duration) {
	c.rpcLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

func status(err error) string {
	if err == nil {
		return "ok"
	}
	var le *lending.Error
	if errors.As(err, &le) {
		return string(le.Kind)
	}
	return "error"
}
